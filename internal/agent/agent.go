// Package agent implements the orchestration loop that turns one user
// message into a finished assistant reply, interleaving model calls
// with tool execution.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parley/internal/conversation"
	"parley/internal/llm"
	"parley/internal/tools"
)

// Defaults and caps for per-request configuration.
const (
	DefaultTemperature  float32 = 0.7
	DefaultMaxTokens    int32   = 10_000
	DefaultMaxToolCalls         = 5

	MaxTemperature  float32 = 2.0
	MaxTokensCeil   int32   = 28_000
	MaxToolCallsCap         = 10
)

// abortedMessage is returned when the tool-call budget runs out and the
// model never supplied usable text.
const abortedMessage = "I could not complete this request within the allowed number of tool calls."

// RunConfig is the per-request model configuration.
type RunConfig struct {
	// Model is the concrete model name, already alias-resolved.
	Model string

	// Temperature in [0, 2]. Zero selects the default.
	Temperature float32

	// MaxTokens caps the response length. Zero selects the default.
	MaxTokens int32

	// MaxToolCalls bounds tool rounds per run. Zero selects the default.
	MaxToolCalls int

	// SystemPrompt is an optional system instruction.
	SystemPrompt string
}

func (c *RunConfig) validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.Temperature < 0 || c.Temperature > MaxTemperature {
		return fmt.Errorf("temperature %.2f out of range [0, %.0f]", c.Temperature, MaxTemperature)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxTokens < 1 || c.MaxTokens > MaxTokensCeil {
		return fmt.Errorf("max_tokens %d out of range [1, %d]", c.MaxTokens, MaxTokensCeil)
	}
	if c.MaxToolCalls == 0 {
		c.MaxToolCalls = DefaultMaxToolCalls
	}
	if c.MaxToolCalls < 1 || c.MaxToolCalls > MaxToolCallsCap {
		return fmt.Errorf("max_function_calls %d out of range [1, %d]", c.MaxToolCalls, MaxToolCallsCap)
	}
	return nil
}

// TerminationReason says how a run ended.
type TerminationReason int

const (
	// Done means the model produced a final answer.
	Done TerminationReason = iota
	// Aborted means the tool-call budget was exhausted.
	Aborted
)

func (r TerminationReason) String() string {
	if r == Aborted {
		return "aborted"
	}
	return "done"
}

// ToolInvocation is one tool call accepted during a run, recorded in
// request order. Result carries the tool output, or an "error" key when
// the call failed.
type ToolInvocation struct {
	Name      string
	Arguments map[string]any
	Result    map[string]any
}

// Result is the outcome of one orchestration run.
type Result struct {
	Text         string
	Invocations  []ToolInvocation
	Elapsed      time.Duration
	Usage        llm.Usage
	FinishReason string
	Reason       TerminationReason
}

// Records converts the invocation trail into conversation audit records.
func (r *Result) Records() []conversation.ToolCallRecord {
	if len(r.Invocations) == 0 {
		return nil
	}
	out := make([]conversation.ToolCallRecord, len(r.Invocations))
	for i, inv := range r.Invocations {
		out[i] = conversation.ToolCallRecord{
			Name:      inv.Name,
			Arguments: inv.Arguments,
			Result:    inv.Result,
		}
	}
	return out
}

// Events carries optional per-run observation hooks. The zero value
// disables all of them.
type Events struct {
	// OnToken receives incremental text from each model call.
	OnToken llm.StreamCallback

	// OnToolCall fires once per completed tool invocation, in request
	// order, before the results are fed back to the model.
	OnToolCall func(ToolInvocation)
}

// Runner drives the agent loop. Stateless across runs; one Runner is
// shared by all sessions.
type Runner struct {
	client   llm.Client
	registry *tools.Registry
	logger   *slog.Logger
}

// New creates a Runner.
func New(client llm.Client, registry *tools.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, registry: registry, logger: logger}
}

// Run executes one exchange: model calls interleaved with tool rounds
// until the model yields a final answer or the budget runs out.
//
// history must already be attachment-reconciled: only attachments whose
// payload should be transmitted carry Data.
//
// A tool failure is recoverable and fed back to the model; a model call
// failure propagates to the caller unretried.
func (r *Runner) Run(
	ctx context.Context,
	history []conversation.Turn,
	message string,
	attachments []conversation.Attachment,
	cfg RunConfig,
	events Events,
) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	start := time.Now()
	messages := buildContext(history, message, attachments)

	req := llm.Request{
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: cfg.SystemPrompt,
		Tools:        r.registry.Declarations(),
	}

	var (
		invocations []ToolInvocation
		usage       llm.Usage
		lastText    string
		rounds      int
	)

	for {
		req.Messages = messages

		turn, err := r.call(ctx, req, events.OnToken)
		if err != nil {
			return nil, fmt.Errorf("agent: model call failed: %w", err)
		}
		usage.Add(turn.Usage)

		if turn.Kind == llm.TurnFinal {
			r.logger.Debug("run complete",
				"model", cfg.Model,
				"rounds", rounds,
				"invocations", len(invocations),
				"elapsed", time.Since(start),
			)
			return &Result{
				Text:         turn.Text,
				Invocations:  invocations,
				Elapsed:      time.Since(start),
				Usage:        usage,
				FinishReason: turn.FinishReason,
				Reason:       Done,
			}, nil
		}

		// Commentary accompanying a tool request is the best partial
		// text available if the budget runs out.
		if turn.Text != "" {
			lastText = turn.Text
		}

		if rounds >= cfg.MaxToolCalls {
			r.logger.Info("tool budget exhausted, aborting run",
				"model", cfg.Model,
				"max_tool_calls", cfg.MaxToolCalls,
				"invocations", len(invocations),
			)
			text := lastText
			if text == "" {
				text = abortedMessage
			}
			return &Result{
				Text:        text,
				Invocations: invocations,
				Elapsed:     time.Since(start),
				Usage:       usage,
				Reason:      Aborted,
			}, nil
		}

		batch := r.executeBatch(ctx, turn.Calls)
		if events.OnToolCall != nil {
			for _, inv := range batch {
				events.OnToolCall(inv)
			}
		}
		invocations = append(invocations, batch...)
		rounds++

		messages = append(messages, toolCallMessage(turn.Calls), toolResultMessage(batch))
	}
}

func (r *Runner) call(ctx context.Context, req llm.Request, cb llm.StreamCallback) (*llm.Turn, error) {
	if cb != nil {
		return r.client.ChatStream(ctx, req, cb)
	}
	return r.client.Chat(ctx, req)
}

// executeBatch runs a batch of tool calls concurrently. Results land at
// their request index, so invocation order is request order. Identical
// duplicate requests execute independently; idempotence is the tool's
// responsibility.
func (r *Runner) executeBatch(ctx context.Context, calls []llm.ToolCall) []ToolInvocation {
	out := make([]ToolInvocation, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()

			result, err := r.registry.Execute(ctx, call.Name, call.Args)
			if err != nil {
				r.logger.Debug("tool call failed",
					"tool", call.Name,
					"error", err,
				)
				result = map[string]any{"error": err.Error()}
			}
			out[i] = ToolInvocation{
				Name:      call.Name,
				Arguments: call.Args,
				Result:    result,
			}
		}(i, call)
	}
	wg.Wait()

	return out
}

// buildContext converts the session history plus the new user message
// into the model-facing transcript.
func buildContext(history []conversation.Turn, message string, attachments []conversation.Attachment) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, turnToMessage(t))
	}

	parts := []llm.Part{{Text: message}}
	parts = append(parts, blobParts(attachments)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Parts: parts})

	return messages
}

func turnToMessage(t conversation.Turn) llm.Message {
	role := llm.RoleUser
	if t.Role == conversation.RoleAssistant {
		role = llm.RoleModel
	}

	var parts []llm.Part
	if t.Content != "" {
		parts = append(parts, llm.Part{Text: t.Content})
	}
	parts = append(parts, blobParts(t.Attachments)...)
	if len(parts) == 0 {
		parts = []llm.Part{{Text: " "}}
	}
	return llm.Message{Role: role, Parts: parts}
}

// blobParts emits inline data parts for attachments that still carry
// payload bytes. Reconciled attachments (Data == nil) are referenced by
// the turn text only.
func blobParts(attachments []conversation.Attachment) []llm.Part {
	var parts []llm.Part
	for _, a := range attachments {
		if len(a.Data) == 0 {
			continue
		}
		parts = append(parts, llm.Part{Blob: &llm.Blob{
			MIMEType: a.MIMEType,
			Data:     a.Data,
		}})
	}
	return parts
}

// toolCallMessage mirrors the model's tool request back into the
// transcript so the following results have their antecedent.
func toolCallMessage(calls []llm.ToolCall) llm.Message {
	parts := make([]llm.Part, len(calls))
	for i, c := range calls {
		parts[i] = llm.Part{FunctionCall: &llm.FunctionCall{Name: c.Name, Args: c.Args}}
	}
	return llm.Message{Role: llm.RoleModel, Parts: parts}
}

// toolResultMessage feeds a batch of tool results back to the model.
func toolResultMessage(batch []ToolInvocation) llm.Message {
	parts := make([]llm.Part, len(batch))
	for i, inv := range batch {
		parts[i] = llm.Part{FunctionResponse: &llm.FunctionResponse{
			Name:     inv.Name,
			Response: inv.Result,
		}}
	}
	return llm.Message{Role: llm.RoleUser, Parts: parts}
}
