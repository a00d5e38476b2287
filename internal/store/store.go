// Package store persists the audit trail and task ledger to PostgreSQL. The
// core runs fully in memory; the store is an optional durability layer keyed
// by run ID, and LoadTrail reproduces the exact (timestamp, seq) order the
// in-memory trail guarantees.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/fieldworkhq/fieldwork/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides a PostgreSQL implementation of schemas.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS trail_entries (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL,
    seq         BIGINT NOT NULL,
    ts          TIMESTAMPTZ NOT NULL,
    agent       TEXT NOT NULL,
    action      TEXT NOT NULL,
    phase       TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    rationale   TEXT NOT NULL DEFAULT '',
    evidence    JSONB NOT NULL DEFAULT '[]',
    metadata    JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS trail_entries_run_order ON trail_entries (run_id, ts, seq);

CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL,
    description  TEXT NOT NULL,
    assigned_by  TEXT NOT NULL,
    assigned_to  TEXT NOT NULL,
    priority     TEXT NOT NULL,
    status       TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    due          TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS tasks_run_order ON tasks (run_id, created_at, id);
`

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// PersistTrail saves a batch of trail entries for a run in one transaction.
// Entries are upserted so re-persisting a run is idempotent.
func (s *Store) PersistTrail(ctx context.Context, runID string, entries []schemas.TrailEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batch := &pgx.Batch{}
	sqlEntry := `
        INSERT INTO trail_entries (id, run_id, seq, ts, agent, action, phase, description, rationale, evidence, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE SET
            seq = EXCLUDED.seq,
            ts = EXCLUDED.ts,
            agent = EXCLUDED.agent,
            action = EXCLUDED.action,
            phase = EXCLUDED.phase,
            description = EXCLUDED.description,
            rationale = EXCLUDED.rationale,
            evidence = EXCLUDED.evidence,
            metadata = EXCLUDED.metadata;
    `
	for _, e := range entries {
		evidence, err := json.Marshal(e.EvidenceRefs)
		if err != nil || e.EvidenceRefs == nil {
			evidence = []byte("[]")
		}
		metadata, err := json.Marshal(e.Metadata)
		if err != nil || e.Metadata == nil {
			metadata = []byte("{}")
		}
		batch.Queue(sqlEntry,
			e.ID, runID, e.Seq, e.Timestamp.UTC(),
			e.Agent, string(e.Action), string(e.Phase),
			e.Description, e.Rationale, evidence, metadata,
		)
	}

	if err := sendBatch(ctx, tx, batch, len(entries), "trail entry"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Trail persisted", zap.String("run_id", runID), zap.Int("entries", len(entries)))
	return nil
}

// PersistTasks upserts the current task set for a run.
func (s *Store) PersistTasks(ctx context.Context, runID string, tasks []schemas.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batch := &pgx.Batch{}
	sqlTask := `
        INSERT INTO tasks (id, run_id, description, assigned_by, assigned_to, priority, status, created_at, due, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            completed_at = EXCLUDED.completed_at;
    `
	for _, task := range tasks {
		batch.Queue(sqlTask,
			task.ID, runID, task.Description,
			task.AssignedBy, task.AssignedTo,
			string(task.Priority), string(task.Status),
			task.CreatedAt.UTC(), task.Due, task.CompletedAt,
		)
	}

	if err := sendBatch(ctx, tx, batch, len(tasks), "task"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Tasks persisted", zap.String("run_id", runID), zap.Int("tasks", len(tasks)))
	return nil
}

// LoadTrail retrieves a run's trail in (timestamp, seq) order.
func (s *Store) LoadTrail(ctx context.Context, runID string) ([]schemas.TrailEntry, error) {
	query := `
        SELECT id, seq, ts, agent, action, phase, description, rationale, evidence, metadata
        FROM trail_entries
        WHERE run_id = $1
        ORDER BY ts ASC, seq ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trail entries: %w", err)
	}
	defer rows.Close()

	var entries []schemas.TrailEntry
	for rows.Next() {
		var (
			e              schemas.TrailEntry
			action, phase  string
			evidence, meta []byte
		)
		if err := rows.Scan(
			&e.ID, &e.Seq, &e.Timestamp, &e.Agent, &action, &phase,
			&e.Description, &e.Rationale, &evidence, &meta,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trail row: %w", err)
		}
		e.Action = schemas.TrailAction(action)
		e.Phase = schemas.Phase(phase)
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &e.EvidenceRefs); err != nil {
				return nil, fmt.Errorf("failed to decode evidence refs: %w", err)
			}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}

// LoadTasks retrieves a run's tasks in creation order.
func (s *Store) LoadTasks(ctx context.Context, runID string) ([]schemas.Task, error) {
	query := `
        SELECT id, description, assigned_by, assigned_to, priority, status, created_at, due, completed_at
        FROM tasks
        WHERE run_id = $1
        ORDER BY created_at ASC, id ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []schemas.Task
	for rows.Next() {
		var (
			task             schemas.Task
			priority, status string
		)
		if err := rows.Scan(
			&task.ID, &task.Description, &task.AssignedBy, &task.AssignedTo,
			&priority, &status, &task.CreatedAt, &task.Due, &task.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		task.Priority = schemas.TaskPriority(priority)
		task.Status = schemas.TaskStatus(status)
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

// sendBatch executes a queued batch inside tx and checks every command.
func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, expected int, kind string) error {
	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for i := 0; i < expected; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute batch upsert for %s (index %d): %w", kind, i, err)
		}
	}
	return nil
}
