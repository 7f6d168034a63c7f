package api

import (
	"fmt"
	"time"

	"parley/internal/agent"
	"parley/internal/conversation"
	"parley/internal/llm"
)

// Wire DTOs. Field names on the wire are lower_snake_case; translation
// between wire and in-memory shapes lives entirely in this file.

type wireAttachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
	Type     string `json:"type"`

	// Data carries the base64 payload on the websocket path only; the
	// multipart path sends payloads as file parts instead.
	Data []byte `json:"data,omitempty"`
}

type wireTurn struct {
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Timestamp   *time.Time       `json:"timestamp,omitempty"`
	MessageID   string           `json:"message_id,omitempty"`
	Attachments []wireAttachment `json:"attachments,omitempty"`
}

type wireFunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type chatResponse struct {
	Message       string             `json:"message"`
	FunctionCalls []wireFunctionCall `json:"function_calls"`
	Timestamp     time.Time          `json:"timestamp"`
	Model         string             `json:"model"`
	ElapsedTime   float64            `json:"elapsed_time"`
	Usage         wireUsage          `json:"usage"`
	FinishReason  string             `json:"finish_reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toWireAttachment(a conversation.Attachment) wireAttachment {
	return wireAttachment{
		ID:       a.ID,
		Name:     a.Name,
		Size:     a.Size,
		MIMEType: a.MIMEType,
		Type:     string(a.Kind),
	}
}

// fromWireAttachment converts wire metadata to the in-memory shape.
// payloads maps attachment ID to uploaded bytes; absent entries yield a
// metadata-only attachment (already transmitted in a prior exchange).
func fromWireAttachment(w wireAttachment, payloads map[string][]byte) (conversation.Attachment, error) {
	data := w.Data
	if b, ok := payloads[w.ID]; ok {
		data = b
	}
	a := conversation.Attachment{
		ID:       w.ID,
		Kind:     conversation.AttachmentKind(w.Type),
		Name:     w.Name,
		Size:     w.Size,
		MIMEType: w.MIMEType,
		Data:     data,
	}
	if a.Size == 0 && len(data) > 0 {
		a.Size = int64(len(data))
	}
	if err := a.Validate(); err != nil {
		return conversation.Attachment{}, err
	}
	return a, nil
}

func fromWireTurn(w wireTurn, payloads map[string][]byte) (conversation.Turn, error) {
	var role conversation.Role
	switch w.Role {
	case "user":
		role = conversation.RoleUser
	case "assistant":
		role = conversation.RoleAssistant
	default:
		return conversation.Turn{}, fmt.Errorf("invalid role %q", w.Role)
	}

	t := conversation.Turn{
		ID:      w.MessageID,
		Role:    role,
		Content: w.Content,
	}
	if w.Timestamp != nil {
		t.Timestamp = *w.Timestamp
	}
	for _, wa := range w.Attachments {
		a, err := fromWireAttachment(wa, payloads)
		if err != nil {
			return conversation.Turn{}, fmt.Errorf("attachment %q: %w", wa.Name, err)
		}
		t.Attachments = append(t.Attachments, a)
	}
	return t, nil
}

func toWireUsage(u llm.Usage) wireUsage {
	return wireUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.Total(),
	}
}

func toChatResponse(result *agent.Result, model string) chatResponse {
	calls := make([]wireFunctionCall, 0, len(result.Invocations))
	for _, inv := range result.Invocations {
		calls = append(calls, wireFunctionCall{
			Name:      inv.Name,
			Arguments: inv.Arguments,
			Result:    inv.Result,
		})
	}

	finishReason := result.FinishReason
	if result.Reason == agent.Aborted {
		finishReason = "max_function_calls"
	}

	return chatResponse{
		Message:       result.Text,
		FunctionCalls: calls,
		Timestamp:     time.Now().UTC(),
		Model:         model,
		ElapsedTime:   result.Elapsed.Seconds(),
		Usage:         toWireUsage(result.Usage),
		FinishReason:  finishReason,
	}
}
