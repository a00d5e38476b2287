// Package trail implements the append-only audit trail shared by every agent.
// The trail is the single source of truth for "what happened and why": entries
// are immutable once appended, there is no delete or compaction API, and all
// mutation is serialized behind one mutex so concurrent agents observe a
// consistent history.
package trail

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fieldworkhq/fieldwork/api/schemas"
)

// Trail is the in-memory audit trail. It satisfies schemas.TrailSink.
type Trail struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries []schemas.TrailEntry
	nextSeq uint64

	clock func() time.Time
}

var _ schemas.TrailSink = (*Trail)(nil)

// Option configures a Trail.
type Option func(*Trail)

// WithClock overrides the timestamp source. Used by tests that need a
// deterministic, reproducible ordering.
func WithClock(clock func() time.Time) Option {
	return func(t *Trail) {
		t.clock = clock
	}
}

// New creates an empty trail.
func New(logger *zap.Logger, opts ...Option) *Trail {
	t := &Trail{
		logger:  logger.Named("trail"),
		nextSeq: 1,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append is the only mutation the trail supports. It assigns the entry's
// global sequence number, defaults the ID and timestamp when absent, and
// returns the finished, immutable record.
func (t *Trail) Append(entry schemas.TrailEntry) schemas.TrailEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.clock()
	}
	entry.Seq = t.nextSeq
	t.nextSeq++

	t.entries = append(t.entries, entry)

	t.logger.Debug("Trail entry appended",
		zap.Uint64("seq", entry.Seq),
		zap.String("agent", entry.Agent),
		zap.String("action", string(entry.Action)),
	)
	return entry
}

// Len returns the number of entries appended so far.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// All returns a copy of every entry in global (timestamp, seq) order.
func (t *Trail) All() []schemas.TrailEntry {
	return t.Query(schemas.TrailFilter{})
}

// Query returns the entries matching the filter, ordered by timestamp with
// ties broken by insertion sequence. The tie-break makes cross-agent ordering
// deterministic and reproducible.
func (t *Trail) Query(f schemas.TrailFilter) []schemas.TrailEntry {
	t.mu.Lock()
	matched := make([]schemas.TrailEntry, 0, len(t.entries))
	for _, e := range t.entries {
		if matches(e, f) {
			matched = append(matched, e)
		}
	}
	t.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Seq < matched[j].Seq
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	return matched
}

func matches(e schemas.TrailEntry, f schemas.TrailFilter) bool {
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Phase != "" && e.Phase != f.Phase {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Snapshot serializes the full trail in insertion order.
func (t *Trail) Snapshot() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(t.entries)
}

// Restore loads a snapshot into an empty trail, reproducing the identical
// ordered view. Restoring over existing entries is refused: the trail is
// append-only.
func (t *Trail) Restore(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) != 0 {
		return fmt.Errorf("cannot restore into a non-empty trail (%d entries present)", len(t.entries))
	}

	var entries []schemas.TrailEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode trail snapshot: %w", err)
	}

	t.entries = entries
	t.nextSeq = 1
	for _, e := range entries {
		if e.Seq >= t.nextSeq {
			t.nextSeq = e.Seq + 1
		}
	}
	return nil
}
