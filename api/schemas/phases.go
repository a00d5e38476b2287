package schemas

import "time"

// Phase is one step of the audit methodology. The ordering below is fixed:
// a phase cannot begin until its predecessor is approved, and approval
// progresses strictly forward.
type Phase string

const (
	PhaseRiskAssessment     Phase = "risk_assessment"
	PhasePlanApproval       Phase = "plan_approval"
	PhaseAssignment         Phase = "assignment"
	PhaseEvidenceCollection Phase = "evidence_collection"
	PhaseTestExecution      Phase = "test_execution"
	PhaseReporting          Phase = "reporting"
)

// PhaseOrder returns the canonical phase sequence, first to last.
func PhaseOrder() []Phase {
	return []Phase{
		PhaseRiskAssessment,
		PhasePlanApproval,
		PhaseAssignment,
		PhaseEvidenceCollection,
		PhaseTestExecution,
		PhaseReporting,
	}
}

// PhaseState tracks how far a phase has progressed.
type PhaseState string

const (
	PhaseNotStarted PhaseState = "not_started"
	PhaseInProgress PhaseState = "in_progress"
	PhaseApproved   PhaseState = "approved"
)

// PhaseRecord is the gate engine's bookkeeping for one phase.
type PhaseRecord struct {
	Phase      Phase      `json:"phase"`
	State      PhaseState `json:"state"`
	Approved   bool       `json:"approved"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Comments   string     `json:"comments,omitempty"`
}
