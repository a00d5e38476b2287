package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fieldworkhq/fieldwork/api/schemas"
	"github.com/fieldworkhq/fieldwork/internal/trail"
)

type staticAssignments map[string]bool

func (s staticAssignments) HasAcceptedAssignment(agent string) bool { return s[agent] }

func setupEngine(t *testing.T) (*Engine, *trail.Trail) {
	t.Helper()
	tr := trail.New(zaptest.NewLogger(t))
	return New(zaptest.NewLogger(t), tr), tr
}

// approveThrough approves every phase up to and including target, in order.
func approveThrough(t *testing.T, e *Engine, target schemas.Phase) {
	t.Helper()
	for _, p := range schemas.PhaseOrder() {
		require.NoError(t, e.Approve(p, "esther", ""))
		if p == target {
			return
		}
	}
	t.Fatalf("phase %s not in canonical order", target)
}

func TestApprove_RequiresAllPredecessors(t *testing.T) {
	e, _ := setupEngine(t)

	// Approving a later phase with an unapproved predecessor must fail.
	err := e.Approve(schemas.PhasePlanApproval, "esther", "")
	require.Error(t, err)

	require.NoError(t, e.Approve(schemas.PhaseRiskAssessment, "esther", "scope reviewed"))
	require.NoError(t, e.Approve(schemas.PhasePlanApproval, "esther", ""))

	// Skipping assignment straight to evidence collection still fails.
	err = e.Approve(schemas.PhaseEvidenceCollection, "esther", "")
	require.Error(t, err)
}

// A phase may only be approved when every strictly preceding phase is
// approved, regardless of approval attempt order.
func TestApprove_OrderingInvariant(t *testing.T) {
	e, _ := setupEngine(t)
	order := schemas.PhaseOrder()

	// Try every phase out of order first: only the next unapproved phase in
	// sequence ever succeeds.
	for i := range order {
		for j := i + 1; j < len(order); j++ {
			require.Error(t, e.Approve(order[j], "esther", ""),
				"approving %s before %s must fail", order[j], order[i])
		}
		require.NoError(t, e.Approve(order[i], "esther", ""))

		for k := 0; k <= i; k++ {
			assert.True(t, e.Phases()[k].Approved)
		}
		for k := i + 1; k < len(order); k++ {
			assert.False(t, e.Phases()[k].Approved)
		}
	}
}

func TestBegin_BlockedBeforePredecessorApproved(t *testing.T) {
	e, tr := setupEngine(t)

	err := e.Begin(schemas.PhasePlanApproval, "esther")
	require.Error(t, err)

	blocked := tr.Query(schemas.TrailFilter{Action: schemas.TrailPhaseTransitionBlocked})
	require.Len(t, blocked, 1)
	assert.Equal(t, schemas.PhasePlanApproval, blocked[0].Phase)

	require.NoError(t, e.Begin(schemas.PhaseRiskAssessment, "esther"))
	assert.Equal(t, schemas.PhaseInProgress, e.Phases()[0].State)
}

func TestReject_ResetsDependentPhases(t *testing.T) {
	e, tr := setupEngine(t)
	approveThrough(t, e, schemas.PhaseAssignment)
	require.NoError(t, e.Begin(schemas.PhaseEvidenceCollection, "hillel"))

	require.NoError(t, e.Reject(schemas.PhasePlanApproval, "esther", "scope too broad"))

	phases := e.Phases()
	for _, rec := range phases {
		switch rec.Phase {
		case schemas.PhaseRiskAssessment:
			assert.True(t, rec.Approved, "phases before the rejection keep their approval")
		default:
			assert.False(t, rec.Approved, "phase %s must lose approval", rec.Phase)
			assert.Equal(t, schemas.PhaseNotStarted, rec.State)
		}
	}

	rejections := tr.Query(schemas.TrailFilter{Action: schemas.TrailPhaseRejected})
	require.Len(t, rejections, 1)
	assert.Equal(t, "scope too broad", rejections[0].Rationale)

	// The reject -> revise -> re-approve path works.
	require.NoError(t, e.Approve(schemas.PhasePlanApproval, "esther", "revised scope"))
}

func TestAuthorize_TaskAssignmentGate(t *testing.T) {
	e, tr := setupEngine(t)

	decision := e.Authorize(Request{Rule: RuleTaskAssignment, Agent: "esther"})
	assert.False(t, decision.Allowed)
	assert.Equal(t, RuleTaskAssignment, decision.Rule)
	assert.Contains(t, decision.Reason, string(schemas.PhasePlanApproval))

	blocked := tr.Query(schemas.TrailFilter{Action: schemas.TrailTaskAssignmentBlocked})
	require.Len(t, blocked, 1, "every denial writes exactly one blocked entry")
	assert.Equal(t, "esther", blocked[0].Agent)
	assert.Equal(t, "task_assignment", blocked[0].Metadata["rule"])

	approveThrough(t, e, schemas.PhasePlanApproval)
	decision = e.Authorize(Request{Rule: RuleTaskAssignment, Agent: "esther"})
	assert.True(t, decision.Allowed)
	assert.Len(t, tr.Query(schemas.TrailFilter{Action: schemas.TrailTaskAssignmentBlocked}), 1,
		"allowed decisions add no blocked entries")
}

func TestAuthorize_EvidenceRequiresAcceptedAssignment(t *testing.T) {
	e, tr := setupEngine(t)
	e.SetAssignmentSource(staticAssignments{"hillel": true})

	denied := e.Authorize(Request{Rule: RuleEvidenceCollection, Agent: "esther", Target: "iam-policies"})
	assert.False(t, denied.Allowed)
	require.Len(t, tr.Query(schemas.TrailFilter{Action: schemas.TrailEvidenceBlocked}), 1)

	allowed := e.Authorize(Request{Rule: RuleEvidenceCollection, Agent: "hillel", Target: "iam-policies"})
	assert.True(t, allowed.Allowed)
}

func TestAuthorize_TestExecutionNeedsApprovalAndEvidence(t *testing.T) {
	e, _ := setupEngine(t)

	// Denied twice over: no plan approval, no evidence.
	denied := e.Authorize(Request{Rule: RuleTestExecution, Agent: "hillel", Target: "mfa-enforcement"})
	assert.False(t, denied.Allowed)
	assert.Contains(t, denied.Reason, "not approved")

	approveThrough(t, e, schemas.PhasePlanApproval)
	denied = e.Authorize(Request{Rule: RuleTestExecution, Agent: "hillel", Target: "mfa-enforcement"})
	assert.False(t, denied.Allowed)
	assert.Contains(t, denied.Reason, "no evidence")

	e.RecordEvidence("hillel", "mfa-enforcement", "trail:42")
	allowed := e.Authorize(Request{Rule: RuleTestExecution, Agent: "hillel", Target: "mfa-enforcement"})
	assert.True(t, allowed.Allowed)
}

func TestRecordEvidence_TracksRefsAndLogs(t *testing.T) {
	e, tr := setupEngine(t)

	e.RecordEvidence("hillel", "storage-buckets", "trail:7")
	e.RecordEvidence("hillel", "storage-buckets", "trail:9")

	assert.Equal(t, []string{"trail:7", "trail:9"}, e.EvidenceFor("storage-buckets"))
	assert.Empty(t, e.EvidenceFor("iam-policies"))

	recorded := tr.Query(schemas.TrailFilter{Action: schemas.TrailEvidenceRecorded})
	require.Len(t, recorded, 2)
	assert.Equal(t, []string{"trail:7"}, recorded[0].EvidenceRefs)
}

func TestAuthorize_PhaseApprovalRule(t *testing.T) {
	e, _ := setupEngine(t)

	denied := e.Authorize(Request{Rule: RulePhaseApproval, Agent: "esther", Phase: schemas.PhaseReporting})
	assert.False(t, denied.Allowed)

	approveThrough(t, e, schemas.PhaseReporting)
	allowed := e.Authorize(Request{Rule: RulePhaseApproval, Agent: "esther", Phase: schemas.PhaseReporting})
	assert.True(t, allowed.Allowed)
}
