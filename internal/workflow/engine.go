// Package workflow implements the gate engine that enforces audit-methodology
// ordering. Phases progress strictly forward: a phase can only be approved
// when every preceding phase is approved, and a rejection resets any later
// phase that had already begun. The engine is also the single authority for
// the four delegation rules checked before gated actions, and it writes one
// *_blocked trail entry naming the violated rule for every denial.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldworkhq/fieldwork/api/schemas"
)

// GateRule names one of the methodology rules the engine enforces.
type GateRule string

const (
	// RuleTaskAssignment: no task can be assigned to another agent unless the
	// plan-approval phase is approved.
	RuleTaskAssignment GateRule = "task_assignment"
	// RuleTaskAcceptance: the assignee side of the same gate, checked
	// independently from the assigner side.
	RuleTaskAcceptance GateRule = "task_acceptance"
	// RuleEvidenceCollection: no evidence collection without an accepted
	// assignment.
	RuleEvidenceCollection GateRule = "evidence_collection"
	// RuleTestExecution: no test execution without plan approval and evidence
	// already collected for that test.
	RuleTestExecution GateRule = "test_execution"
	// RulePhaseApproval is the generic check for actions tagged with the
	// phase they require.
	RulePhaseApproval GateRule = "phase_approval"
)

// Request describes an intended action to be authorized.
type Request struct {
	Rule   GateRule
	Agent  string        // The agent attempting the action.
	Phase  schemas.Phase // Required phase, for RulePhaseApproval.
	Target string        // Evidence/test subject, for evidence and test rules.
}

// Decision is the outcome of a permission check. A denial is expected,
// logged control flow, not an error.
type Decision struct {
	Allowed bool
	Rule    GateRule
	Reason  string
}

// AssignmentSource reports whether an agent holds an accepted (in-progress)
// assignment. Implemented by the task ledger; injected after construction
// because the ledger itself consults the engine for assignment gates.
type AssignmentSource interface {
	HasAcceptedAssignment(agent string) bool
}

// assignmentGatePhase is the phase covering planning/assignment; rules 1 and
// 2 both key off its approval.
const assignmentGatePhase = schemas.PhasePlanApproval

// Engine is the workflow gate state machine.
type Engine struct {
	logger *zap.Logger
	trail  schemas.TrailSink

	mu          sync.Mutex
	phases      map[schemas.Phase]*schemas.PhaseRecord
	order       []schemas.Phase
	evidence    map[string][]string // target -> collected evidence refs
	assignments AssignmentSource
	clock       func() time.Time
}

// New creates an engine with every phase not_started and unapproved.
func New(logger *zap.Logger, sink schemas.TrailSink) *Engine {
	e := &Engine{
		logger:   logger.Named("workflow"),
		trail:    sink,
		phases:   make(map[schemas.Phase]*schemas.PhaseRecord),
		order:    schemas.PhaseOrder(),
		evidence: make(map[string][]string),
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, p := range e.order {
		e.phases[p] = &schemas.PhaseRecord{Phase: p, State: schemas.PhaseNotStarted}
	}
	return e
}

// SetAssignmentSource wires in the ledger once both structures exist.
func (e *Engine) SetAssignmentSource(src AssignmentSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assignments = src
}

// Phases returns a copy of the current phase records in canonical order.
func (e *Engine) Phases() []schemas.PhaseRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.PhaseRecord, 0, len(e.order))
	for _, p := range e.order {
		out = append(out, *e.phases[p])
	}
	return out
}

// predecessor returns the phase immediately before p, or "" for the first.
func (e *Engine) predecessor(p schemas.Phase) (schemas.Phase, error) {
	for i, candidate := range e.order {
		if candidate == p {
			if i == 0 {
				return "", nil
			}
			return e.order[i-1], nil
		}
	}
	return "", fmt.Errorf("unknown workflow phase: %s", p)
}

// Begin marks a phase in_progress. Valid only when the preceding phase is
// approved (or this is the first phase); a violation writes one blocked trail
// entry and returns an error.
func (e *Engine) Begin(phase schemas.Phase, agent string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.predecessor(phase)
	if err != nil {
		return err
	}
	if prev != "" && !e.phases[prev].Approved {
		e.trail.Append(schemas.TrailEntry{
			Agent:       agent,
			Action:      schemas.TrailPhaseTransitionBlocked,
			Phase:       phase,
			Description: fmt.Sprintf("phase %s cannot begin: predecessor %s is not approved", phase, prev),
			Metadata:    map[string]any{"predecessor": string(prev)},
		})
		return fmt.Errorf("phase %s cannot begin before %s is approved", phase, prev)
	}

	rec := e.phases[phase]
	if rec.State == schemas.PhaseNotStarted {
		rec.State = schemas.PhaseInProgress
	}
	return nil
}

// Approve marks a phase approved. Only valid when the immediately preceding
// phase is already approved or this is the first phase.
func (e *Engine) Approve(phase schemas.Phase, approver, comments string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.predecessor(phase)
	if err != nil {
		return err
	}
	if prev != "" && !e.phases[prev].Approved {
		e.trail.Append(schemas.TrailEntry{
			Agent:       approver,
			Action:      schemas.TrailPhaseTransitionBlocked,
			Phase:       phase,
			Description: fmt.Sprintf("approval of %s blocked: predecessor %s is not approved", phase, prev),
			Metadata:    map[string]any{"predecessor": string(prev)},
		})
		return fmt.Errorf("cannot approve %s: preceding phase %s is not approved", phase, prev)
	}

	now := e.clock()
	rec := e.phases[phase]
	rec.State = schemas.PhaseApproved
	rec.Approved = true
	rec.ApprovedBy = approver
	rec.ApprovedAt = &now
	rec.Comments = comments

	e.trail.Append(schemas.TrailEntry{
		Agent:       approver,
		Action:      schemas.TrailPhaseApproved,
		Phase:       phase,
		Description: fmt.Sprintf("phase %s approved", phase),
		Rationale:   comments,
	})
	e.logger.Info("Workflow phase approved", zap.String("phase", string(phase)), zap.String("approver", approver))
	return nil
}

// Reject clears a phase's approval and resets every later phase that had
// begun back to not_started (the reject -> revise path). Rejection of a task
// never reaches here; task and phase gates are independent, one-directional.
func (e *Engine) Reject(phase schemas.Phase, rejecter, comments string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.predecessor(phase); err != nil {
		return err
	}

	rec := e.phases[phase]
	rec.Approved = false
	rec.State = schemas.PhaseNotStarted
	rec.ApprovedBy = ""
	rec.ApprovedAt = nil
	rec.Comments = comments

	resetting := false
	for _, p := range e.order {
		if p == phase {
			resetting = true
			continue
		}
		if !resetting {
			continue
		}
		dep := e.phases[p]
		if dep.State != schemas.PhaseNotStarted || dep.Approved {
			dep.State = schemas.PhaseNotStarted
			dep.Approved = false
			dep.ApprovedBy = ""
			dep.ApprovedAt = nil
		}
	}

	e.trail.Append(schemas.TrailEntry{
		Agent:       rejecter,
		Action:      schemas.TrailPhaseRejected,
		Phase:       phase,
		Description: fmt.Sprintf("phase %s rejected; dependent phases reset", phase),
		Rationale:   comments,
	})
	e.logger.Info("Workflow phase rejected", zap.String("phase", string(phase)), zap.String("rejecter", rejecter))
	return nil
}

// RecordEvidence registers collected evidence for a target, satisfying the
// evidence prerequisite of the test-execution rule, and writes one
// evidence_recorded trail entry.
func (e *Engine) RecordEvidence(agent, target, ref string) {
	e.mu.Lock()
	e.evidence[target] = append(e.evidence[target], ref)
	e.mu.Unlock()

	e.trail.Append(schemas.TrailEntry{
		Agent:        agent,
		Action:       schemas.TrailEvidenceRecorded,
		Phase:        schemas.PhaseEvidenceCollection,
		Description:  fmt.Sprintf("evidence collected for %s", target),
		EvidenceRefs: []string{ref},
		Metadata:     map[string]any{"target": target},
	})
}

// EvidenceFor returns the evidence refs collected for a target.
func (e *Engine) EvidenceFor(target string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	refs := make([]string, len(e.evidence[target]))
	copy(refs, e.evidence[target])
	return refs
}

// Authorize evaluates a permission request. Denials are part of the
// transparency guarantee: each one writes exactly one *_blocked trail entry
// naming the violated rule before the decision is returned.
func (e *Engine) Authorize(req Request) Decision {
	decision := e.evaluate(req)
	if !decision.Allowed {
		e.trail.Append(schemas.TrailEntry{
			Agent:       req.Agent,
			Action:      blockedAction(req.Rule),
			Phase:       req.Phase,
			Description: decision.Reason,
			Metadata:    map[string]any{"rule": string(req.Rule), "target": req.Target},
		})
		e.logger.Debug("Gate denied",
			zap.String("rule", string(req.Rule)),
			zap.String("agent", req.Agent),
			zap.String("reason", decision.Reason),
		)
	}
	return decision
}

func (e *Engine) evaluate(req Request) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	deny := func(reason string) Decision {
		return Decision{Allowed: false, Rule: req.Rule, Reason: reason}
	}

	switch req.Rule {
	case RuleTaskAssignment:
		if !e.phases[assignmentGatePhase].Approved {
			return deny(fmt.Sprintf("task assignment by %s denied: phase %s is not approved", req.Agent, assignmentGatePhase))
		}
	case RuleTaskAcceptance:
		if !e.phases[assignmentGatePhase].Approved {
			return deny(fmt.Sprintf("task acceptance by %s denied: phase %s is not approved", req.Agent, assignmentGatePhase))
		}
	case RuleEvidenceCollection:
		if e.assignments == nil || !e.assignments.HasAcceptedAssignment(req.Agent) {
			return deny(fmt.Sprintf("evidence collection by %s denied: no accepted assignment", req.Agent))
		}
	case RuleTestExecution:
		if !e.phases[assignmentGatePhase].Approved {
			return deny(fmt.Sprintf("test execution by %s denied: phase %s is not approved", req.Agent, assignmentGatePhase))
		}
		if len(e.evidence[req.Target]) == 0 {
			return deny(fmt.Sprintf("test execution by %s denied: no evidence collected for %s", req.Agent, req.Target))
		}
	case RulePhaseApproval:
		rec, ok := e.phases[req.Phase]
		if !ok {
			return deny(fmt.Sprintf("action by %s denied: unknown phase %s", req.Agent, req.Phase))
		}
		if !rec.Approved {
			return deny(fmt.Sprintf("action by %s denied: phase %s is not approved", req.Agent, req.Phase))
		}
	default:
		return deny(fmt.Sprintf("action by %s denied: unknown gate rule %s", req.Agent, req.Rule))
	}

	return Decision{Allowed: true, Rule: req.Rule}
}

// blockedAction maps a rule to the trail action used for its denials.
func blockedAction(rule GateRule) schemas.TrailAction {
	switch rule {
	case RuleTaskAssignment:
		return schemas.TrailTaskAssignmentBlocked
	case RuleTaskAcceptance:
		return schemas.TrailTaskAcceptanceBlocked
	case RuleEvidenceCollection:
		return schemas.TrailEvidenceBlocked
	case RuleTestExecution:
		return schemas.TrailTestExecutionBlocked
	default:
		return schemas.TrailToolUseBlocked
	}
}
