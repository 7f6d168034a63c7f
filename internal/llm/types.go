// Package llm defines the provider-neutral model boundary: request and
// response types, the Client interface, and the Gemini implementation.
package llm

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Blob is an inline binary payload (image or audio) sent with a message.
type Blob struct {
	MIMEType string
	Data     []byte
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	Name     string
	Response map[string]any
}

// Part is one element of a message. Exactly one field is set.
type Part struct {
	Text             string
	Blob             *Blob
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
}

// Message is one entry in the model-facing transcript.
type Message struct {
	Role  Role
	Parts []Part
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// Usage counts tokens consumed by one or more model calls.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ToolCall is a single tool request extracted from a model turn.
type ToolCall struct {
	Name string
	Args map[string]any
}

// TurnKind discriminates the two shapes a model turn can take.
type TurnKind int

const (
	// TurnFinal is a completed text response.
	TurnFinal TurnKind = iota
	// TurnToolCalls is a request to execute one or more tools.
	TurnToolCalls
)

// Turn is one model response. Kind selects which fields are meaningful:
// TurnFinal carries Text and FinishReason, TurnToolCalls carries Calls.
// Text may also be non-empty on a TurnToolCalls turn when the model
// interleaves commentary with its tool requests. Usage is set on both.
type Turn struct {
	Kind         TurnKind
	Text         string
	FinishReason string
	Calls        []ToolCall
	Usage        Usage
}

// StreamCallback receives incremental text as the model produces it.
// Called from the goroutine driving the stream; keep it fast.
type StreamCallback func(token string)
