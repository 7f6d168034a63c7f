package tools

import "fmt"

// ErrorKind classifies tool execution failures.
type ErrorKind int

const (
	// KindUnknownTool means the requested tool is not registered.
	KindUnknownTool ErrorKind = iota
	// KindInvalidArguments means the arguments failed schema validation.
	KindInvalidArguments
	// KindExecutionFailure means the handler itself returned an error.
	KindExecutionFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnknownTool:
		return "unknown tool"
	case KindInvalidArguments:
		return "invalid arguments"
	case KindExecutionFailure:
		return "execution failure"
	default:
		return "unknown error kind"
	}
}

// ToolError is the error type returned by Registry.Execute. The agent
// loop feeds it back to the model rather than failing the exchange.
type ToolError struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %q: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}
