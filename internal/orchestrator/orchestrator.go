// Package orchestrator runs a set of audit agents against one shared trail,
// ledger and gate engine. Agents run concurrently under a configurable limit;
// one agent's provider failure never takes down its siblings, and
// cancellation propagates cooperatively through the shared context.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fieldworkhq/fieldwork/api/schemas"
	"github.com/fieldworkhq/fieldwork/internal/agent"
	"github.com/fieldworkhq/fieldwork/internal/config"
	"github.com/fieldworkhq/fieldwork/internal/knowledge"
	"github.com/fieldworkhq/fieldwork/internal/ledger"
	"github.com/fieldworkhq/fieldwork/internal/tools"
	"github.com/fieldworkhq/fieldwork/internal/trail"
	"github.com/fieldworkhq/fieldwork/internal/workflow"
)

// Assignment binds one agent to a goal for the run.
type Assignment struct {
	Agent string            `yaml:"agent"`
	Role  string            `yaml:"role"`
	Goal  string            `yaml:"goal"`
	Tier  schemas.ModelTier `yaml:"tier"`
}

// AgentOutcome is the terminal state of one agent's run.
type AgentOutcome struct {
	Agent      string
	Status     schemas.GoalStatus
	Iterations int
	Err        error
}

// Summary partitions the run's outcomes. Blocked agents (budget exhausted)
// are reported distinctly from completed and failed ones.
type Summary struct {
	Completed []AgentOutcome
	Blocked   []AgentOutcome
	Failed    []AgentOutcome
}

// Total returns the number of agents in the summary.
func (s Summary) Total() int {
	return len(s.Completed) + len(s.Blocked) + len(s.Failed)
}

// Orchestrator owns the shared engagement state and the run lifecycle.
type Orchestrator struct {
	cfg     *config.Config
	logger  *zap.Logger
	trail   *trail.Trail
	ledger  *ledger.Ledger
	gates   *workflow.Engine
	llm     schemas.LLMClient
	library *knowledge.Library
	inv     *tools.Inventory
}

// New wires the orchestrator. The engine's assignment source is connected to
// the ledger here so gate rule evaluation sees accepted assignments.
func New(cfg *config.Config, logger *zap.Logger, tr *trail.Trail, l *ledger.Ledger, gates *workflow.Engine, llm schemas.LLMClient, library *knowledge.Library) *Orchestrator {
	if library == nil {
		library = knowledge.Empty()
	}
	gates.SetAssignmentSource(l)
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
		trail:   tr,
		ledger:  l,
		gates:   gates,
		llm:     llm,
		library: library,
		inv:     tools.DefaultInventory(),
	}
}

// Trail exposes the shared trail for reporting and persistence.
func (o *Orchestrator) Trail() *trail.Trail { return o.trail }

// Ledger exposes the shared task ledger.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Gates exposes the shared workflow engine.
func (o *Orchestrator) Gates() *workflow.Engine { return o.gates }

// Run executes every assignment and aggregates outcomes. Sibling isolation:
// worker errors are recorded per agent, never returned to the group, so one
// provider failure cannot cancel the others.
func (o *Orchestrator) Run(ctx context.Context, assignments []Assignment) (Summary, error) {
	if len(assignments) == 0 {
		return Summary{}, fmt.Errorf("no assignments to run")
	}

	concurrency := o.cfg.Orchestrator.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	o.logger.Info("Starting engagement run",
		zap.Int("agents", len(assignments)),
		zap.Int("concurrency", concurrency),
	)

	var (
		mu       sync.Mutex
		outcomes []AgentOutcome
	)

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for _, assignment := range assignments {
		assignment := assignment
		g.Go(func() error {
			outcome := o.runOne(ctx, assignment)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	var summary Summary
	for _, outcome := range outcomes {
		switch {
		case outcome.Err != nil:
			summary.Failed = append(summary.Failed, outcome)
		case outcome.Status == schemas.GoalComplete:
			summary.Completed = append(summary.Completed, outcome)
		default:
			summary.Blocked = append(summary.Blocked, outcome)
		}
	}

	o.logger.Info("Engagement run finished",
		zap.Int("completed", len(summary.Completed)),
		zap.Int("blocked", len(summary.Blocked)),
		zap.Int("failed", len(summary.Failed)),
	)
	return summary, nil
}

func (o *Orchestrator) runOne(ctx context.Context, assignment Assignment) AgentOutcome {
	a, err := o.buildAgent(assignment)
	if err != nil {
		return AgentOutcome{Agent: assignment.Agent, Err: err}
	}
	a.SetGoal(assignment.Goal)

	result, err := a.RunAutonomously(ctx, o.cfg.Agent.MaxIterations)
	return AgentOutcome{
		Agent:      assignment.Agent,
		Status:     result.Status,
		Iterations: result.Iterations,
		Err:        err,
	}
}

// buildAgent constructs one agent with its own tool registry and rate
// limiter, all bound to the shared engagement state.
func (o *Orchestrator) buildAgent(assignment Assignment) (*agent.Agent, error) {
	if assignment.Agent == "" || assignment.Goal == "" {
		return nil, fmt.Errorf("assignment requires an agent name and a goal")
	}

	registry := tools.NewRegistry(o.logger)
	for _, tool := range []tools.Tool{
		tools.NewQueryIAMTool(o.inv),
		tools.NewQueryStorageTool(o.inv),
		tools.NewQueryNetworkTool(o.inv),
		tools.NewCollectEvidenceTool(assignment.Agent, o.gates),
		tools.NewRunTestTool(o.inv),
		tools.NewAssignTaskTool(assignment.Agent, o.ledger),
		tools.NewAcceptTaskTool(assignment.Agent, o.ledger),
		tools.NewCompleteTaskTool(assignment.Agent, o.ledger),
		tools.NewListTasksTool(assignment.Agent, o.ledger),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("agent %s: %w", assignment.Agent, err)
		}
	}

	rl := o.cfg.Agent.RateLimit
	var limiter *rate.Limiter
	if rl.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerMinute/60.0), rl.Burst)
	}

	return agent.New(agent.Config{
		Name:            assignment.Agent,
		Role:            assignment.Role,
		Registry:        registry,
		Knowledge:       o.library.ForRole(assignment.Role),
		Trail:           o.trail,
		Gates:           o.gates,
		LLM:             o.llm,
		Limiter:         limiter,
		ContextLookback: o.cfg.Agent.ContextLookback,
		Tier:            assignment.Tier,
	}, o.logger)
}
