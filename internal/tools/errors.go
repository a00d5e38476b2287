package tools

import "fmt"

// ToolNotFoundError is returned when a dispatch names a tool that was never
// registered. Recoverable: the agent feeds it back as a corrective message.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Tool)
}

// InvalidParametersError reports a parameter set that does not satisfy the
// tool's declared schema.
type InvalidParametersError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid parameters for tool %s: %s: %s", e.Tool, e.Param, e.Reason)
}

// ToolExecutionError wraps a failure inside a tool's Execute. The dispatcher
// guarantees a tool failure never takes the process down.
type ToolExecutionError struct {
	Tool  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}
