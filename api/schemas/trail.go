package schemas

import "time"

// TrailAction is an enumeration of every action type that can appear in the
// audit trail. A closed vocabulary keeps the trail queryable and prevents
// components from inventing ad-hoc event names.
type TrailAction string

const (
	// -- Agent loop outcomes (exactly one per reasoning iteration) --
	TrailToolUse           TrailAction = "tool_use"                  // A tool was validated, permitted and executed.
	TrailToolUseBlocked    TrailAction = "tool_use_blocked"          // The gate engine denied a tool invocation.
	TrailToolError         TrailAction = "tool_error"                // Tool lookup, validation or execution failed.
	TrailDocument          TrailAction = "document"                  // The agent documented findings or analysis.
	TrailGoalComplete      TrailAction = "goal_complete"             // The agent declared its goal achieved.
	TrailReasoningError    TrailAction = "reasoning_protocol_error"  // The LLM response could not be parsed into an action.
	TrailProviderError     TrailAction = "provider_error"            // A non-retryable LLM provider failure ended the run.
	TrailCancelled         TrailAction = "cancelled"                 // The run was cancelled at an iteration boundary.

	// -- Ledger events --
	TrailTaskCreated           TrailAction = "task_created"
	TrailTaskAssigned          TrailAction = "task_assigned"
	TrailTaskAssignmentBlocked TrailAction = "task_assignment_blocked"
	TrailTaskAccepted          TrailAction = "task_accepted"
	TrailTaskAcceptanceBlocked TrailAction = "task_acceptance_blocked"
	TrailTaskCompleted         TrailAction = "task_completed"
	TrailOwnershipViolation    TrailAction = "ownership_violation"

	// -- Workflow gate events --
	TrailPhaseApproved           TrailAction = "phase_approved"
	TrailPhaseRejected           TrailAction = "phase_rejected"
	TrailEvidenceRecorded        TrailAction = "evidence_recorded"
	TrailEvidenceBlocked         TrailAction = "evidence_collection_blocked"
	TrailTestExecutionBlocked    TrailAction = "test_execution_blocked"
	TrailPhaseTransitionBlocked  TrailAction = "phase_transition_blocked"
)

// TrailEntry is one immutable record in the audit trail: who did what, when,
// and why. Entries are never mutated or deleted after being appended; the
// trail is the single source of truth for everything the agents did.
type TrailEntry struct {
	ID           string         `json:"id"`                      // Unique entry ID, assigned on append if empty.
	Seq          uint64         `json:"seq"`                     // Global insertion order, assigned by the trail.
	Timestamp    time.Time      `json:"timestamp"`               // When the action happened (UTC).
	Agent        string         `json:"agent"`                   // The acting agent's name.
	Action       TrailAction    `json:"action"`                  // What kind of action was taken.
	Phase        Phase          `json:"phase,omitempty"`         // Workflow phase the action belongs to, if any.
	Description  string         `json:"description"`             // Human-readable account of the action.
	Rationale    string         `json:"rationale,omitempty"`     // The agent's stated reasoning, if any.
	EvidenceRefs []string       `json:"evidence_refs,omitempty"` // References to collected evidence items.
	Metadata     map[string]any `json:"metadata,omitempty"`      // Structured extras (tool name, rule, etc.).
}

// TrailFilter selects a subset of trail entries. Zero-valued fields match
// everything.
type TrailFilter struct {
	Agent  string      // Match entries by acting agent.
	Action TrailAction // Match entries by action type.
	Phase  Phase       // Match entries by workflow phase tag.
	Since  time.Time   // Inclusive lower bound on timestamp.
	Until  time.Time   // Inclusive upper bound on timestamp.
}
