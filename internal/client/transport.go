// Package client implements the caller side of an exchange: the HTTP
// and websocket transport, the per-session request/retry state machine,
// and transcript export.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/conversation"
	"parley/internal/httpkit"
)

// ChatRequest describes one outbound exchange. History and Attachments
// are already reconciled by the session: only attachments that still
// carry Data have their payload transmitted.
type ChatRequest struct {
	Message      string
	History      []conversation.Turn
	Attachments  []conversation.Attachment
	Model        string
	Temperature  float32
	MaxTokens    int32
	MaxToolCalls int
	SystemPrompt string
}

// FunctionCall is one tool invocation reported by the server.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
}

// Usage is the server's token accounting for one exchange.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatResponse is the server's exchange response.
type ChatResponse struct {
	Message       string         `json:"message"`
	FunctionCalls []FunctionCall `json:"function_calls"`
	Timestamp     time.Time      `json:"timestamp"`
	Model         string         `json:"model"`
	ElapsedTime   float64        `json:"elapsed_time"`
	Usage         Usage          `json:"usage"`
	FinishReason  string         `json:"finish_reason"`
}

// StreamEvent is one server frame during a streamed exchange.
type StreamEvent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ToolCall *FunctionCall `json:"tool_call,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Exchanger performs exchanges against a Parley server. Implemented by
// Transport; sessions accept the interface so tests can script it.
type Exchanger interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Stream(ctx context.Context, req ChatRequest, onEvent func(StreamEvent)) (*ChatResponse, error)
}

// Transport is the HTTP/websocket implementation of Exchanger.
type Transport struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// NewTransport creates a transport for the server at baseURL
// (e.g. "http://localhost:8080").
func NewTransport(baseURL string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}

	// No overall timeout and no response-header timeout: the server
	// answers only after the full agent exchange, which can take
	// minutes across several tool rounds. Cancellation comes from the
	// request context.
	rt := httpkit.NewTransport()
	rt.ResponseHeaderTimeout = 0

	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(rt),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

// wire DTOs matching the server boundary.

type wireAttachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
	Type     string `json:"type"`
	Data     []byte `json:"data,omitempty"`
}

type wireTurn struct {
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Timestamp   *time.Time       `json:"timestamp,omitempty"`
	MessageID   string           `json:"message_id,omitempty"`
	Attachments []wireAttachment `json:"attachments,omitempty"`
}

func toWireTurns(history []conversation.Turn) []wireTurn {
	out := make([]wireTurn, 0, len(history))
	for _, t := range history {
		wt := wireTurn{
			Role:      string(t.Role),
			Content:   t.Content,
			MessageID: t.ID,
		}
		if !t.Timestamp.IsZero() {
			ts := t.Timestamp
			wt.Timestamp = &ts
		}
		for _, a := range t.Attachments {
			wt.Attachments = append(wt.Attachments, wireAttachment{
				ID:       a.ID,
				Name:     a.Name,
				Size:     a.Size,
				MIMEType: a.MIMEType,
				Type:     string(a.Kind),
			})
		}
		out = append(out, wt)
	}
	return out
}

// Chat performs one blocking exchange over the multipart endpoint.
func (t *Transport) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, contentType, err := buildChatForm(req)
	if err != nil {
		return nil, &ExchangeError{Class: FailureUnknown, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/chat", body)
	if err != nil {
		return nil, &ExchangeError{Class: FailureUnknown, Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ExchangeError{Class: FailureUnknown, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

// buildChatForm assembles the multipart body: form fields, history and
// attachment metadata as JSON, and payload-bearing attachments as file
// parts named "files" whose filename is the attachment ID.
func buildChatForm(req ChatRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"message": req.Message,
		"model":   req.Model,
	}
	if req.Temperature > 0 {
		fields["temperature"] = strconv.FormatFloat(float64(req.Temperature), 'f', -1, 32)
	}
	if req.MaxTokens > 0 {
		fields["max_tokens"] = strconv.Itoa(int(req.MaxTokens))
	}
	if req.MaxToolCalls > 0 {
		fields["max_function_calls"] = strconv.Itoa(req.MaxToolCalls)
	}
	if req.SystemPrompt != "" {
		fields["system_prompt"] = req.SystemPrompt
	}

	history, err := json.Marshal(toWireTurns(req.History))
	if err != nil {
		return nil, "", fmt.Errorf("marshal history: %w", err)
	}
	fields["conversation_history"] = string(history)

	meta := make([]wireAttachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		meta = append(meta, wireAttachment{
			ID:       a.ID,
			Name:     a.Name,
			Size:     a.Size,
			MIMEType: a.MIMEType,
			Type:     string(a.Kind),
		})
	}
	atts, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("marshal attachments: %w", err)
	}
	fields["attachments"] = string(atts)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	for _, a := range req.Attachments {
		if len(a.Data) == 0 {
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="files"; filename=%q`, a.ID))
		h.Set("Content-Type", a.MIMEType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", fmt.Errorf("write file part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Stream performs one exchange over the websocket endpoint, forwarding
// each server frame to onEvent, and returns the final response from the
// done frame.
func (t *Transport) Stream(ctx context.Context, req ChatRequest, onEvent func(StreamEvent)) (*ChatResponse, error) {
	wsURL, err := t.streamURL()
	if err != nil {
		return nil, &ExchangeError{Class: FailureUnknown, Err: err}
	}

	conn, resp, err := t.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		// A refused upgrade carries the HTTP response; a 429 there must
		// classify the same way it does on the blocking path.
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, classifyStatus(resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
		}
		return nil, classifyTransportError(err)
	}
	defer conn.Close()

	// Drop the connection when ctx is cancelled so reads unblock.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	frame := map[string]any{
		"message":              req.Message,
		"conversation_history": toWireTurns(req.History),
		"attachments":          streamAttachments(req.Attachments),
		"model":                req.Model,
		"temperature":          req.Temperature,
		"max_tokens":           req.MaxTokens,
		"max_function_calls":   req.MaxToolCalls,
		"system_prompt":        req.SystemPrompt,
	}
	if err := conn.WriteJSON(frame); err != nil {
		return nil, classifyTransportError(err)
	}

	for {
		var ev StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, classifyTransportError(err)
		}

		if onEvent != nil {
			onEvent(ev)
		}

		switch ev.Type {
		case "done":
			if ev.Response == nil {
				return nil, &ExchangeError{Class: FailureUnknown, Err: errors.New("done frame without response")}
			}
			return ev.Response, nil
		case "error":
			return nil, classifyStreamError(ev.Error)
		}
	}
}

func (t *Transport) streamURL() (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/v1/chat/stream"
	return u.String(), nil
}

func streamAttachments(attachments []conversation.Attachment) []wireAttachment {
	out := make([]wireAttachment, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, wireAttachment{
			ID:       a.ID,
			Name:     a.Name,
			Size:     a.Size,
			MIMEType: a.MIMEType,
			Type:     string(a.Kind),
			Data:     a.Data,
		})
	}
	return out
}

// Transcribe uploads one audio clip and returns its transcription.
func (t *Transport) Transcribe(ctx context.Context, name string, data []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/api/v1/chat/transcribe", &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var out struct {
		Transcription string `json:"transcription"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Transcription, nil
}

// Health probes the server's health endpoint. Returns nil when the
// server responds and reports its model connection as up.
func (t *Transport) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := t.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	var out struct {
		ModelConnected bool `json:"model_connected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if !out.ModelConnected {
		return errors.New("server reports model disconnected")
	}
	return nil
}

func classifyStatus(status int, body string) *ExchangeError {
	class := FailureUnknown
	if status == http.StatusTooManyRequests {
		class = FailureRateLimited
	}
	return &ExchangeError{
		Class:  class,
		Status: status,
		Err:    fmt.Errorf("server error: %s", strings.TrimSpace(body)),
	}
}

func classifyTransportError(err error) *ExchangeError {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ExchangeError{Class: FailureNetwork, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ExchangeError{Class: FailureNetwork, Err: err}
	}
	return &ExchangeError{Class: FailureUnknown, Err: err}
}

// classifyStreamError maps an error frame to a failure class by its
// text. Wire frames carry no status code, so matching is heuristic.
func classifyStreamError(msg string) *ExchangeError {
	class := FailureUnknown
	if strings.Contains(strings.ToLower(msg), "rate limit") {
		class = FailureRateLimited
	}
	return &ExchangeError{Class: class, Err: errors.New(msg)}
}
