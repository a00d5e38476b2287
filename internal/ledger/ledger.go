// Package ledger tracks hierarchical work assignment between agents: who
// created each task, who owns it, and what state it is in. Tasks are never
// deleted; completion is a terminal state. All mutation is serialized behind
// one mutex, and every delegation attempt, allowed or blocked, leaves a trail
// entry.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/fieldworkhq/fieldwork/api/schemas"
	"github.com/fieldworkhq/fieldwork/internal/workflow"
)

// Gatekeeper is the slice of the workflow engine the ledger consults before
// creating or accepting a delegation edge.
type Gatekeeper interface {
	Authorize(req workflow.Request) workflow.Decision
}

// OwnershipError reports a task mutation attempted by an agent that does not
// own the task. The mutation is rejected and logged; the run continues.
type OwnershipError struct {
	Agent  string
	Owner  string
	TaskID string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("task %s is owned by %s, not %s", e.TaskID, e.Owner, e.Agent)
}

// Result is the outcome of a gated ledger operation. Blocked results are
// expected control flow: no task edge was created or mutated, and the gate
// engine has already written the *_blocked trail entry.
type Result struct {
	Task    schemas.Task
	Blocked bool
	Reason  string
}

// Ledger is the shared task delegation ledger.
type Ledger struct {
	logger *zap.Logger
	trail  schemas.TrailSink
	gates  Gatekeeper

	mu        sync.Mutex
	tasks     map[string]*schemas.Task
	order     []string            // task IDs in creation order
	delegated map[string][]string // assigner -> IDs of tasks handed off
	clock     func() time.Time
}

// New creates an empty ledger.
func New(logger *zap.Logger, sink schemas.TrailSink, gates Gatekeeper) *Ledger {
	return &Ledger{
		logger:    logger.Named("ledger"),
		trail:     sink,
		gates:     gates,
		tasks:     make(map[string]*schemas.Task),
		delegated: make(map[string][]string),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateTask records a pending task an agent opens for itself. Self-created
// work is not gated; only delegation to another agent is.
func (l *Ledger) CreateTask(owner, description string, priority schemas.TaskPriority, due *time.Time) schemas.Task {
	l.mu.Lock()
	task := l.newTaskLocked(owner, owner, description, priority, due)
	l.mu.Unlock()

	l.trail.Append(schemas.TrailEntry{
		Agent:       owner,
		Action:      schemas.TrailTaskCreated,
		Description: fmt.Sprintf("created task %q", description),
		Metadata:    map[string]any{"task_id": task.ID, "priority": string(priority)},
	})
	return task
}

// AssignTask delegates work from assigner to assignee. The assignment gate
// (plan approval) is checked first; on denial no task edge is created and the
// gate engine has logged the blocked attempt.
func (l *Ledger) AssignTask(assigner, assignee, description string, priority schemas.TaskPriority, due *time.Time) Result {
	decision := l.gates.Authorize(workflow.Request{Rule: workflow.RuleTaskAssignment, Agent: assigner})
	if !decision.Allowed {
		l.logger.Info("Task assignment blocked",
			zap.String("assigner", assigner),
			zap.String("assignee", assignee),
			zap.String("reason", decision.Reason),
		)
		return Result{Blocked: true, Reason: decision.Reason}
	}

	l.mu.Lock()
	task := l.newTaskLocked(assigner, assignee, description, priority, due)
	l.delegated[assigner] = append(l.delegated[assigner], task.ID)
	l.mu.Unlock()

	l.trail.Append(schemas.TrailEntry{
		Agent:       assigner,
		Action:      schemas.TrailTaskAssigned,
		Description: fmt.Sprintf("assigned task %q to %s", description, assignee),
		Metadata:    map[string]any{"task_id": task.ID, "assignee": assignee, "priority": string(priority)},
	})
	return Result{Task: task}
}

// AcceptTask moves a pending task to in_progress. The acceptance side of the
// assignment gate is checked independently from the assigner side.
func (l *Ledger) AcceptTask(agent, taskID string) (Result, error) {
	// Existence is checked before the gate so a bogus task ID never produces
	// a blocked trail entry for a task that was never in the ledger.
	l.mu.Lock()
	_, ok := l.tasks[taskID]
	l.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("unknown task: %s", taskID)
	}

	decision := l.gates.Authorize(workflow.Request{Rule: workflow.RuleTaskAcceptance, Agent: agent})
	if !decision.Allowed {
		return Result{Blocked: true, Reason: decision.Reason}, nil
	}

	l.mu.Lock()
	task := l.tasks[taskID] // tasks are never deleted
	if task.AssignedTo != agent {
		owner := task.AssignedTo
		l.mu.Unlock()
		l.logOwnershipViolation(agent, owner, taskID, "accept")
		return Result{}, &OwnershipError{Agent: agent, Owner: owner, TaskID: taskID}
	}
	if task.Status == schemas.TaskPending {
		task.Status = schemas.TaskInProgress
	}
	accepted := *task
	l.mu.Unlock()

	l.trail.Append(schemas.TrailEntry{
		Agent:       agent,
		Action:      schemas.TrailTaskAccepted,
		Description: fmt.Sprintf("accepted task %q", accepted.Description),
		Metadata:    map[string]any{"task_id": taskID},
	})
	return Result{Task: accepted}, nil
}

// CompleteTask transitions pending|in_progress -> complete. Only the assignee
// may complete a task. Completing an already-complete task is a no-op: no
// error and no duplicate trail entry.
func (l *Ledger) CompleteTask(agent, taskID string) (schemas.Task, error) {
	l.mu.Lock()
	task, ok := l.tasks[taskID]
	if !ok {
		l.mu.Unlock()
		return schemas.Task{}, fmt.Errorf("unknown task: %s", taskID)
	}
	if task.AssignedTo != agent {
		owner := task.AssignedTo
		l.mu.Unlock()
		l.logOwnershipViolation(agent, owner, taskID, "complete")
		return schemas.Task{}, &OwnershipError{Agent: agent, Owner: owner, TaskID: taskID}
	}
	if task.Status == schemas.TaskComplete {
		done := *task
		l.mu.Unlock()
		return done, nil
	}
	now := l.clock()
	task.Status = schemas.TaskComplete
	task.CompletedAt = &now
	completed := *task
	l.mu.Unlock()

	l.trail.Append(schemas.TrailEntry{
		Agent:       agent,
		Action:      schemas.TrailTaskCompleted,
		Description: fmt.Sprintf("completed task %q", completed.Description),
		Metadata:    map[string]any{"task_id": taskID},
	})
	return completed, nil
}

// ListTasks partitions an agent's tasks into current, completed and delegated
// views. The partitions are disjoint and their union is the agent's full task
// set; trail reviewers rely on that distinction.
func (l *Ledger) ListTasks(agent string) schemas.TaskView {
	l.mu.Lock()
	defer l.mu.Unlock()

	var view schemas.TaskView
	for _, id := range l.order {
		task := l.tasks[id]
		if task.AssignedTo == agent {
			if task.Status == schemas.TaskComplete {
				view.Completed = append(view.Completed, *task)
			} else {
				view.Current = append(view.Current, *task)
			}
		}
	}
	for _, id := range l.delegated[agent] {
		if task := l.tasks[id]; task != nil && task.AssignedTo != agent {
			view.Delegated = append(view.Delegated, *task)
		}
	}
	return view
}

// Get returns a task by ID.
func (l *Ledger) Get(taskID string) (schemas.Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[taskID]
	if !ok {
		return schemas.Task{}, false
	}
	return *task, true
}

// All returns every task in creation order.
func (l *Ledger) All() []schemas.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schemas.Task, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.tasks[id])
	}
	return out
}

// HasAcceptedAssignment reports whether the agent owns an in-progress task.
// Satisfies workflow.AssignmentSource for the evidence-collection rule.
func (l *Ledger) HasAcceptedAssignment(agent string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.order {
		task := l.tasks[id]
		if task.AssignedTo == agent && task.Status == schemas.TaskInProgress {
			return true
		}
	}
	return false
}

// snapshot is the serialized ledger state.
type snapshot struct {
	Tasks     []schemas.Task      `json:"tasks"` // creation order
	Delegated map[string][]string `json:"delegated"`
}

// Snapshot serializes the ledger, preserving creation order.
func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := snapshot{Delegated: l.delegated}
	for _, id := range l.order {
		snap.Tasks = append(snap.Tasks, *l.tasks[id])
	}
	return json.Marshal(snap)
}

// Restore loads a snapshot into an empty ledger.
func (l *Ledger) Restore(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.order) != 0 {
		return fmt.Errorf("cannot restore into a non-empty ledger (%d tasks present)", len(l.order))
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode ledger snapshot: %w", err)
	}

	for i := range snap.Tasks {
		task := snap.Tasks[i]
		l.tasks[task.ID] = &task
		l.order = append(l.order, task.ID)
	}
	if snap.Delegated != nil {
		l.delegated = snap.Delegated
	}
	return nil
}

func (l *Ledger) newTaskLocked(assigner, assignee, description string, priority schemas.TaskPriority, due *time.Time) schemas.Task {
	if priority == "" {
		priority = schemas.PriorityMedium
	}
	task := &schemas.Task{
		ID:          uuid.NewString(),
		Description: description,
		AssignedBy:  assigner,
		AssignedTo:  assignee,
		Priority:    priority,
		Status:      schemas.TaskPending,
		CreatedAt:   l.clock(),
		Due:         due,
	}
	l.tasks[task.ID] = task
	l.order = append(l.order, task.ID)
	return *task
}

func (l *Ledger) logOwnershipViolation(agent, owner, taskID, op string) {
	l.trail.Append(schemas.TrailEntry{
		Agent:       agent,
		Action:      schemas.TrailOwnershipViolation,
		Description: fmt.Sprintf("attempted to %s task %s owned by %s", op, taskID, owner),
		Metadata:    map[string]any{"task_id": taskID, "owner": owner},
	})
}
