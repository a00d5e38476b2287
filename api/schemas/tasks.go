package schemas

import "time"

// TaskPriority ranks delegated work.
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// TaskStatus is the lifecycle state of a task. Completion is terminal; tasks
// are never deleted from the ledger.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"     // Created or assigned, not yet accepted.
	TaskInProgress TaskStatus = "in_progress" // Accepted by its assignee.
	TaskComplete   TaskStatus = "complete"    // Finished. Terminal.
)

// Task is one unit of delegated audit work. A task is created by one agent
// (for itself or a delegate) and mutated only by its assignee; the assigner
// retains a read-only delegated view through the ledger.
type Task struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	AssignedBy  string       `json:"assigned_by"`            // The agent that created or delegated the task.
	AssignedTo  string       `json:"assigned_to"`            // The agent that owns the task.
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	Due         *time.Time   `json:"due,omitempty"`          // Optional deadline.
	CompletedAt *time.Time   `json:"completed_at,omitempty"` // Set when status becomes complete.
}

// TaskView partitions an agent's tasks into the three observable buckets that
// trail reviewers rely on: my open work, my finished work, and work I handed
// off. The partitions are disjoint and their union is the agent's full task
// set.
type TaskView struct {
	Current   []Task `json:"current"`   // Pending or in-progress tasks owned by the agent.
	Completed []Task `json:"completed"` // Completed tasks owned by the agent.
	Delegated []Task `json:"delegated"` // Tasks the agent assigned to someone else.
}
