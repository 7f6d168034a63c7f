package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"parley/internal/connwatch"
	"parley/internal/conversation"
)

// State is the session's position in the exchange lifecycle.
type State int

const (
	// StateIdle accepts new messages.
	StateIdle State = iota
	// StateSending has a blocking exchange in flight.
	StateSending
	// StateStreaming has a streamed exchange in flight.
	StateStreaming
	// StateError recorded a failed exchange; Send and RetryLast are
	// both accepted from here.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}

// SessionOptions configures a session. Zero values defer to server
// defaults.
type SessionOptions struct {
	Model        string
	Temperature  float32
	MaxTokens    int32
	MaxToolCalls int
	SystemPrompt string

	// Watcher, when set, gates Send on server reachability.
	Watcher *connwatch.Watcher

	Logger *slog.Logger
}

// Session owns one conversation: its turn history and the state machine
// that serializes exchanges against the server. One exchange at a time;
// Send while busy returns ErrExchangeInFlight without side effects.
type Session struct {
	ex   Exchanger
	opts SessionOptions
	log  *conversation.Log

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// NewSession creates an idle session backed by ex.
func NewSession(ex Exchanger, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		ex:   ex,
		opts: opts,
		log:  conversation.NewLog(),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation so far.
func (s *Session) History() []conversation.Turn {
	return s.log.Snapshot()
}

// Clear discards the conversation and resets the session to idle.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSending || s.state == StateStreaming {
		return
	}
	s.log.Clear()
	s.state = StateIdle
}

// Send performs one blocking exchange. The user turn is appended before
// the request goes out; on success the assistant turn follows it, on
// failure an error-flavored assistant turn does and the session enters
// the error state. Cancellation keeps the user turn and appends nothing.
func (s *Session) Send(ctx context.Context, message string, attachments []conversation.Attachment) (conversation.Turn, error) {
	return s.send(ctx, conversation.NewUserTurn(message, attachments), nil)
}

// SendStream is Send over the streaming transport. onEvent observes
// token and tool_call frames as they arrive.
func (s *Session) SendStream(ctx context.Context, message string, attachments []conversation.Attachment, onEvent func(StreamEvent)) (conversation.Turn, error) {
	return s.send(ctx, conversation.NewUserTurn(message, attachments), onEvent)
}

// RetryLast rewinds the history to just before the most recent user
// turn and replays it. The replayed request is identical in shape to
// the failed one: same turn, same attachments, same reconciliation
// against the truncated history.
func (s *Session) RetryLast(ctx context.Context) (conversation.Turn, error) {
	s.mu.Lock()
	if s.state == StateSending || s.state == StateStreaming {
		s.mu.Unlock()
		return conversation.Turn{}, ErrExchangeInFlight
	}

	history := s.log.Snapshot()
	idx := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleUser {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return conversation.Turn{}, ErrNoUserTurn
	}

	s.log.Truncate(idx)
	s.mu.Unlock()

	return s.send(ctx, history[idx], nil)
}

// Cancel aborts the in-flight exchange, if any. The exchange goroutine
// observes the cancellation and returns the session to idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) send(ctx context.Context, userTurn conversation.Turn, onEvent func(StreamEvent)) (conversation.Turn, error) {
	s.mu.Lock()
	if s.state == StateSending || s.state == StateStreaming {
		s.mu.Unlock()
		return conversation.Turn{}, ErrExchangeInFlight
	}
	if s.opts.Watcher != nil && !s.opts.Watcher.IsReady() {
		s.mu.Unlock()
		return conversation.Turn{}, ErrDisconnected
	}

	history := s.log.Snapshot()
	payloads := conversation.NewPayloads(history, userTurn.Attachments)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if onEvent != nil {
		s.state = StateStreaming
	} else {
		s.state = StateSending
	}
	s.log.Append(userTurn)
	s.mu.Unlock()
	defer cancel()

	req := ChatRequest{
		Message:      userTurn.Content,
		History:      history,
		Attachments:  payloads,
		Model:        s.opts.Model,
		Temperature:  s.opts.Temperature,
		MaxTokens:    s.opts.MaxTokens,
		MaxToolCalls: s.opts.MaxToolCalls,
		SystemPrompt: s.opts.SystemPrompt,
	}

	var resp *ChatResponse
	var err error
	if onEvent != nil {
		resp, err = s.ex.Stream(ctx, req, onEvent)
	} else {
		resp, err = s.ex.Chat(ctx, req)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// User abort: keep the user turn, record nothing.
			s.state = StateIdle
			return conversation.Turn{}, err
		}
		class := FailureUnknown
		var exErr *ExchangeError
		if errors.As(err, &exErr) {
			class = exErr.Class
		}
		s.opts.Logger.Error("exchange failed",
			"class", class.String(), "error", err)
		s.log.Append(conversation.NewErrorTurn(class.UserMessage()))
		s.state = StateError
		return conversation.Turn{}, err
	}

	assistant := conversation.NewAssistantTurn(resp.Message, toolCallRecords(resp.FunctionCalls))
	s.log.Append(assistant)
	s.state = StateIdle
	return assistant, nil
}

func toolCallRecords(calls []FunctionCall) []conversation.ToolCallRecord {
	if len(calls) == 0 {
		return nil
	}
	out := make([]conversation.ToolCallRecord, 0, len(calls))
	for _, c := range calls {
		out = append(out, conversation.ToolCallRecord{
			Name:      c.Name,
			Arguments: c.Arguments,
			Result:    c.Result,
		})
	}
	return out
}
