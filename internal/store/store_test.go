package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldworkhq/fieldwork/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const (
	sqlInsertEntry = `
        INSERT INTO trail_entries (id, run_id, seq, ts, agent, action, phase, description, rationale, evidence, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	sqlInsertTask = `
        INSERT INTO tasks (id, run_id, description, assigned_by, assigned_to, priority, status, created_at, due, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return mockPool, s
}

func sampleEntries() []schemas.TrailEntry {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return []schemas.TrailEntry{
		{
			ID: "e-1", Seq: 1, Timestamp: base,
			Agent: "esther", Action: schemas.TrailToolUse,
			Description: "used tool query_iam",
			Metadata:    map[string]any{"tool": "query_iam"},
		},
		{
			ID: "e-2", Seq: 2, Timestamp: base.Add(time.Second),
			Agent: "esther", Action: schemas.TrailDocument,
			Description:  "documented findings",
			EvidenceRefs: []string{"trail:1"},
		},
	}
}

func TestNew_PingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistTrail_BatchUpsert(t *testing.T) {
	mockPool, s := newMockStore(t)
	entries := sampleEntries()

	mockPool.ExpectBegin()
	batchExp := mockPool.ExpectBatch()
	for range entries {
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertEntry)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	// Expect Commit AND the subsequent deferred Rollback (returns ErrTxClosed).
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, s.PersistTrail(context.Background(), "run-1", entries))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistTrail_EmptyBatchIsNoop(t *testing.T) {
	mockPool, s := newMockStore(t)
	require.NoError(t, s.PersistTrail(context.Background(), "run-1", nil))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistTrail_BatchFailureRollsBack(t *testing.T) {
	mockPool, s := newMockStore(t)
	entries := sampleEntries()

	mockPool.ExpectBegin()
	batchExp := mockPool.ExpectBatch()
	batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertEntry)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("constraint violation"))
	// pgxmock requires one declaration per queued query for the batch to
	// match; this one is only drained by the deferred BatchResults.Close.
	batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertEntry)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectRollback()

	err := s.PersistTrail(context.Background(), "run-1", entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trail entry")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistTasks_BatchUpsert(t *testing.T) {
	mockPool, s := newMockStore(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tasks := []schemas.Task{
		{
			ID: "t-1", Description: "Review IAM policies",
			AssignedBy: "esther", AssignedTo: "hillel",
			Priority: schemas.PriorityHigh, Status: schemas.TaskInProgress,
			CreatedAt: now,
		},
	}

	mockPool.ExpectBegin()
	batchExp := mockPool.ExpectBatch()
	batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertTask)).
		WithArgs("t-1", "run-1", "Review IAM policies", "esther", "hillel",
			"high", "in_progress", now, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Expect Commit AND the subsequent deferred Rollback (returns ErrTxClosed).
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, s.PersistTasks(context.Background(), "run-1", tasks))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestLoadTrail_ReproducesOrder(t *testing.T) {
	mockPool, s := newMockStore(t)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"id", "seq", "ts", "agent", "action", "phase", "description", "rationale", "evidence", "metadata",
	}).
		AddRow("e-1", uint64(1), base, "esther", "tool_use", "", "used tool query_iam", "", []byte(`["trail:1"]`), []byte(`{"tool":"query_iam"}`)).
		AddRow("e-2", uint64(2), base.Add(time.Second), "hillel", "task_accepted", "plan_approval", "accepted task", "", []byte(`[]`), []byte(`{}`))

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id, seq, ts, agent, action, phase, description, rationale, evidence, metadata FROM trail_entries`)).
		WithArgs("run-1").
		WillReturnRows(rows)

	entries, err := s.LoadTrail(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, schemas.TrailToolUse, entries[0].Action)
	assert.Equal(t, []string{"trail:1"}, entries[0].EvidenceRefs)
	assert.Equal(t, "query_iam", entries[0].Metadata["tool"])
	assert.Equal(t, schemas.PhasePlanApproval, entries[1].Phase)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestLoadTasks_CreationOrder(t *testing.T) {
	mockPool, s := newMockStore(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := now.Add(time.Hour)

	rows := pgxmock.NewRows([]string{
		"id", "description", "assigned_by", "assigned_to", "priority", "status", "created_at", "due", "completed_at",
	}).
		AddRow("t-1", "Review IAM policies", "esther", "hillel", "high", "complete", now, (*time.Time)(nil), &completed).
		AddRow("t-2", "Check firewall rules", "esther", "hillel", "medium", "pending", now.Add(time.Minute), (*time.Time)(nil), (*time.Time)(nil))

	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT id, description, assigned_by, assigned_to, priority, status, created_at, due, completed_at FROM tasks`)).
		WithArgs("run-1").
		WillReturnRows(rows)

	tasks, err := s.LoadTasks(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, schemas.TaskComplete, tasks[0].Status)
	require.NotNil(t, tasks[0].CompletedAt)
	assert.Equal(t, schemas.PriorityMedium, tasks[1].Priority)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
