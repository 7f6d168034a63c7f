package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"parley/internal/agent"
	"parley/internal/conversation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API is same-origin-agnostic; auth lives elsewhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamRequest is the first client frame on the websocket. Attachment
// payloads travel base64-encoded in the JSON body.
type streamRequest struct {
	Message             string           `json:"message"`
	ConversationHistory []wireTurn       `json:"conversation_history,omitempty"`
	Attachments         []wireAttachment `json:"attachments,omitempty"`
	Model               string           `json:"model,omitempty"`
	Temperature         float32          `json:"temperature,omitempty"`
	MaxTokens           int32            `json:"max_tokens,omitempty"`
	MaxFunctionCalls    int              `json:"max_function_calls,omitempty"`
	SystemPrompt        string           `json:"system_prompt,omitempty"`
}

// streamFrame is one server frame. Type is token, tool_call, done, or
// error; the other fields are type-dependent.
type streamFrame struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ToolCall *wireFunctionCall `json:"tool_call,omitempty"`
	Response *chatResponse     `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Frames are written from the agent's callback goroutines as well
	// as this handler; gorilla connections allow one writer at a time.
	var writeMu sync.Mutex
	send := func(f streamFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}
	fail := func(format string, args ...any) {
		_ = send(streamFrame{Type: "error", Error: fmt.Sprintf(format, args...)})
	}

	var req streamRequest
	if err := conn.ReadJSON(&req); err != nil {
		fail("invalid request frame: %v", err)
		return
	}

	params, err := s.parseStreamRequest(req)
	if err != nil {
		fail("%v", err)
		return
	}

	events := agent.Events{
		OnToken: func(token string) {
			_ = send(streamFrame{Type: "token", Text: token})
		},
		OnToolCall: func(inv agent.ToolInvocation) {
			_ = send(streamFrame{Type: "tool_call", ToolCall: &wireFunctionCall{
				Name:      inv.Name,
				Arguments: inv.Arguments,
				Result:    inv.Result,
			}})
		},
	}

	result, err := s.runner.Run(r.Context(), params.history, params.message,
		params.attachments, params.cfg, events)
	if err != nil {
		s.logger.Error("streamed exchange failed", "error", err, "model", params.cfg.Model)
		fail("model exchange failed: %v", err)
		return
	}

	s.recordUsage(r.Context(), params.cfg.Model, result)

	resp := toChatResponse(result, params.cfg.Model)
	_ = send(streamFrame{Type: "done", Response: &resp})
}

// parseStreamRequest mirrors parseChatForm for the websocket shape.
func (s *Server) parseStreamRequest(req streamRequest) (*chatParams, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if len(req.ConversationHistory) > s.cfg.Limits.MaxHistoryTurns {
		return nil, fmt.Errorf("conversation history too long (max %d turns)", s.cfg.Limits.MaxHistoryTurns)
	}

	history := make([]conversation.Turn, 0, len(req.ConversationHistory))
	for i, wt := range req.ConversationHistory {
		turn, err := fromWireTurn(wt, nil)
		if err != nil {
			return nil, fmt.Errorf("history turn %d: %w", i, err)
		}
		history = append(history, turn)
	}

	attachments := make([]conversation.Attachment, 0, len(req.Attachments))
	for _, wa := range req.Attachments {
		if int64(len(wa.Data)) > s.cfg.Limits.MaxUploadBytes {
			return nil, fmt.Errorf("attachment %q exceeds %d byte limit", wa.Name, s.cfg.Limits.MaxUploadBytes)
		}
		a, err := fromWireAttachment(wa, nil)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", wa.Name, err)
		}
		attachments = append(attachments, a)
	}
	attachments = conversation.NewPayloads(history, attachments)

	cfg := agent.RunConfig{
		Model:        s.cfg.ResolveModel(req.Model),
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		MaxToolCalls: req.MaxFunctionCalls,
		SystemPrompt: req.SystemPrompt,
	}
	if err := validateRunConfig(cfg); err != nil {
		return nil, err
	}

	return &chatParams{
		message:     req.Message,
		history:     history,
		attachments: attachments,
		cfg:         cfg,
	}, nil
}
