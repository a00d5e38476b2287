package schemas

import "time"

// MessageRole tags an entry in an agent's conversation memory.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry in an agent's append-only conversation memory.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// GoalStatus is the structured status attached to an agent's free-text goal.
type GoalStatus string

const (
	GoalIdle     GoalStatus = "idle"     // No goal assigned yet.
	GoalWorking  GoalStatus = "working"  // The reasoning loop is running.
	GoalComplete GoalStatus = "complete" // The agent declared the goal achieved.
	GoalBlocked  GoalStatus = "blocked"  // Iterations exhausted without completion.
)
