package agent

import "fmt"

// ReasoningProtocolError reports a model response that does not satisfy the
// action protocol. Recoverable: the loop logs it and feeds a corrective
// message back into memory.
type ReasoningProtocolError struct {
	Raw    string
	Reason string
}

func (e *ReasoningProtocolError) Error() string {
	return fmt.Sprintf("reasoning protocol violation: %s", e.Reason)
}
