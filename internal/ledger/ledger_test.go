package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fieldworkhq/fieldwork/api/schemas"
	"github.com/fieldworkhq/fieldwork/internal/trail"
	"github.com/fieldworkhq/fieldwork/internal/workflow"
)

func setupLedger(t *testing.T) (*Ledger, *workflow.Engine, *trail.Trail) {
	t.Helper()
	tr := trail.New(zaptest.NewLogger(t))
	gates := workflow.New(zaptest.NewLogger(t), tr)
	l := New(zaptest.NewLogger(t), tr, gates)
	gates.SetAssignmentSource(l)
	return l, gates, tr
}

func approvePlanning(t *testing.T, gates *workflow.Engine) {
	t.Helper()
	require.NoError(t, gates.Approve(schemas.PhaseRiskAssessment, "esther", ""))
	require.NoError(t, gates.Approve(schemas.PhasePlanApproval, "esther", ""))
}

// Assignment attempted before the gate phase is approved: the result reports
// blocked, the assignee's task list stays empty, and exactly one blocked
// trail entry exists.
func TestAssignTask_BlockedBeforePlanApproval(t *testing.T) {
	l, _, tr := setupLedger(t)

	res := l.AssignTask("esther", "hillel", "Review IAM policies for the production project", schemas.PriorityHigh, nil)
	require.True(t, res.Blocked)
	assert.NotEmpty(t, res.Reason)

	view := l.ListTasks("hillel")
	assert.Empty(t, view.Current)
	assert.Empty(t, view.Completed)
	assert.Empty(t, l.ListTasks("esther").Delegated)

	blocked := tr.Query(schemas.TrailFilter{Action: schemas.TrailTaskAssignmentBlocked})
	require.Len(t, blocked, 1)
	assert.Equal(t, "esther", blocked[0].Agent)
}

func TestAssignTask_AfterApprovalCreatesEdge(t *testing.T) {
	l, gates, tr := setupLedger(t)
	approvePlanning(t, gates)

	res := l.AssignTask("esther", "hillel", "Review IAM policies", schemas.PriorityHigh, nil)
	require.False(t, res.Blocked)
	assert.Equal(t, "esther", res.Task.AssignedBy)
	assert.Equal(t, "hillel", res.Task.AssignedTo)
	assert.Equal(t, schemas.TaskPending, res.Task.Status)

	assert.Len(t, l.ListTasks("hillel").Current, 1)
	assert.Len(t, l.ListTasks("esther").Delegated, 1)

	assigned := tr.Query(schemas.TrailFilter{Action: schemas.TrailTaskAssigned})
	require.Len(t, assigned, 1)
	assert.Equal(t, "hillel", assigned[0].Metadata["assignee"])
}

func TestAcceptTask_GateAndOwnership(t *testing.T) {
	l, gates, tr := setupLedger(t)
	approvePlanning(t, gates)

	res := l.AssignTask("esther", "hillel", "Enumerate storage buckets", schemas.PriorityMedium, nil)
	require.False(t, res.Blocked)

	// Only the assignee can accept.
	_, err := l.AcceptTask("esther", res.Task.ID)
	var ownErr *OwnershipError
	require.ErrorAs(t, err, &ownErr)
	assert.Equal(t, "hillel", ownErr.Owner)
	require.Len(t, tr.Query(schemas.TrailFilter{Action: schemas.TrailOwnershipViolation}), 1)

	accepted, err := l.AcceptTask("hillel", res.Task.ID)
	require.NoError(t, err)
	require.False(t, accepted.Blocked)
	assert.Equal(t, schemas.TaskInProgress, accepted.Task.Status)
	assert.True(t, l.HasAcceptedAssignment("hillel"))
	assert.False(t, l.HasAcceptedAssignment("esther"))
}

func TestAcceptTask_BlockedWhenGateNotApproved(t *testing.T) {
	l, gates, tr := setupLedger(t)
	approvePlanning(t, gates)

	res := l.AssignTask("esther", "hillel", "Check firewall rules", schemas.PriorityLow, nil)
	require.False(t, res.Blocked)

	// A rejection after assignment closes the acceptance gate again.
	require.NoError(t, gates.Reject(schemas.PhasePlanApproval, "esther", "plan withdrawn"))

	accepted, err := l.AcceptTask("hillel", res.Task.ID)
	require.NoError(t, err)
	assert.True(t, accepted.Blocked)

	task, ok := l.Get(res.Task.ID)
	require.True(t, ok)
	assert.Equal(t, schemas.TaskPending, task.Status, "a blocked acceptance must not mutate the task")
	require.Len(t, tr.Query(schemas.TrailFilter{Action: schemas.TrailTaskAcceptanceBlocked}), 1)
}

// Accepting a task ID that was never in the ledger fails outright, even while
// the acceptance gate is closed: no blocked trail entry for a phantom task.
func TestAcceptTask_UnknownIDLeavesNoBlockedEntry(t *testing.T) {
	l, _, tr := setupLedger(t)

	_, err := l.AcceptTask("hillel", "no-such-task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
	assert.Empty(t, tr.Query(schemas.TrailFilter{Action: schemas.TrailTaskAcceptanceBlocked}))
}

func TestCompleteTask_IdempotentAndOwned(t *testing.T) {
	l, gates, tr := setupLedger(t)
	approvePlanning(t, gates)

	res := l.AssignTask("esther", "hillel", "Document access review", schemas.PriorityMedium, nil)
	_, err := l.AcceptTask("hillel", res.Task.ID)
	require.NoError(t, err)

	_, err = l.CompleteTask("esther", res.Task.ID)
	var ownErr *OwnershipError
	require.ErrorAs(t, err, &ownErr)

	done, err := l.CompleteTask("hillel", res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskComplete, done.Status)
	require.NotNil(t, done.CompletedAt)

	// Second completion: no error, no duplicate trail entry, timestamp stable.
	again, err := l.CompleteTask("hillel", res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, done.CompletedAt, again.CompletedAt)
	assert.Len(t, tr.Query(schemas.TrailFilter{Action: schemas.TrailTaskCompleted}), 1)

	assert.False(t, l.HasAcceptedAssignment("hillel"))
}

// Current, completed and delegated views are disjoint, and their union covers
// every task the agent touches.
func TestListTasks_PartitionIsDisjointAndComplete(t *testing.T) {
	l, gates, _ := setupLedger(t)
	approvePlanning(t, gates)

	own := l.CreateTask("hillel", "Prepare workpapers", schemas.PriorityLow, nil)
	assigned := l.AssignTask("esther", "hillel", "Review IAM policies", schemas.PriorityHigh, nil)
	require.False(t, assigned.Blocked)
	delegated := l.AssignTask("hillel", "esther", "Cross-check network ACLs", schemas.PriorityMedium, nil)
	require.False(t, delegated.Blocked)

	_, err := l.AcceptTask("hillel", assigned.Task.ID)
	require.NoError(t, err)
	_, err = l.CompleteTask("hillel", assigned.Task.ID)
	require.NoError(t, err)

	view := l.ListTasks("hillel")
	require.Len(t, view.Current, 1)
	require.Len(t, view.Completed, 1)
	require.Len(t, view.Delegated, 1)

	seen := map[string]int{}
	for _, tasks := range [][]schemas.Task{view.Current, view.Completed, view.Delegated} {
		for _, task := range tasks {
			seen[task.ID]++
		}
	}
	assert.Len(t, seen, 3, "partition must cover all three tasks")
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s appears in more than one partition", id)
	}
	assert.Contains(t, seen, own.ID)
	assert.Contains(t, seen, assigned.Task.ID)
	assert.Contains(t, seen, delegated.Task.ID)
}

func TestCreateTask_SelfOwnedNeedsNoGate(t *testing.T) {
	l, _, tr := setupLedger(t)

	task := l.CreateTask("esther", "Draft engagement scope", "", nil)
	assert.Equal(t, schemas.PriorityMedium, task.Priority, "priority defaults to medium")
	assert.Equal(t, "esther", task.AssignedTo)
	require.Len(t, tr.Query(schemas.TrailFilter{Action: schemas.TrailTaskCreated}), 1)
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	l, gates, _ := setupLedger(t)
	approvePlanning(t, gates)

	due := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	l.CreateTask("esther", "Draft engagement scope", schemas.PriorityHigh, &due)
	res := l.AssignTask("esther", "hillel", "Review IAM policies", schemas.PriorityMedium, nil)
	_, err := l.AcceptTask("hillel", res.Task.ID)
	require.NoError(t, err)

	data, err := l.Snapshot()
	require.NoError(t, err)

	restored, _, _ := setupLedger(t)
	require.NoError(t, restored.Restore(data))

	assert.Equal(t, l.All(), restored.All())
	assert.True(t, restored.HasAcceptedAssignment("hillel"))
	assert.Len(t, restored.ListTasks("esther").Delegated, 1)

	require.Error(t, restored.Restore(data), "restore into a non-empty ledger is refused")
}
