package api

import (
	"strings"
	"testing"

	"net/http/httptest"

	"github.com/gorilla/websocket"

	"parley/internal/llm"
)

func dialStream(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestChatStreamFrames(t *testing.T) {
	client := &fakeLLM{script: []*llm.Turn{
		{Kind: llm.TurnToolCalls, Calls: []llm.ToolCall{
			{Name: "get_weather", Args: map[string]any{"location": "Paris"}},
		}},
		{Kind: llm.TurnFinal, Text: "It is mild in Paris.", FinishReason: "stop"},
	}}
	s := newTestServer(t, client, nil)
	conn := dialStream(t, s)

	if err := conn.WriteJSON(streamRequest{Message: "weather in Paris?"}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var sawToolCall, sawToken bool
	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}

		switch frame.Type {
		case "token":
			sawToken = true
		case "tool_call":
			sawToolCall = true
			if frame.ToolCall == nil || frame.ToolCall.Name != "get_weather" {
				t.Errorf("tool_call frame = %+v", frame.ToolCall)
			}
		case "done":
			if !sawToolCall {
				t.Error("no tool_call frame before done")
			}
			if !sawToken {
				t.Error("no token frame before done")
			}
			if frame.Response == nil || frame.Response.Message != "It is mild in Paris." {
				t.Errorf("done frame response = %+v", frame.Response)
			}
			if frame.Response != nil && len(frame.Response.FunctionCalls) != 1 {
				t.Errorf("done frame function_calls = %d, want 1", len(frame.Response.FunctionCalls))
			}
			return
		case "error":
			t.Fatalf("unexpected error frame: %s", frame.Error)
		}
	}
}

func TestChatStreamRejectsEmptyMessage(t *testing.T) {
	s := newTestServer(t, &fakeLLM{}, nil)
	conn := dialStream(t, s)

	if err := conn.WriteJSON(streamRequest{}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var frame streamFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != "error" {
		t.Errorf("frame type = %q, want error", frame.Type)
	}
}
