package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"parley/internal/config"
)

// Sampling defaults applied to every request. Matched to the values the
// hosted Gemini chat UI uses for conversational workloads.
const (
	defaultTopP float32 = 0.8
	defaultTopK float32 = 40
)

// transcriptionPrompt instructs the model when converting audio to text.
const transcriptionPrompt = "Transcribe this audio recording. " +
	"Return only the transcribed text with no commentary or formatting."

// Gemini is the Client implementation backed by the Google Gemini API.
type Gemini struct {
	client             *genai.Client
	defaultModel       string
	transcriptionModel string
	logger             *slog.Logger
}

// GeminiOptions configures NewGemini.
type GeminiOptions struct {
	APIKey             string
	DefaultModel       string
	TranscriptionModel string
	Logger             *slog.Logger
}

// NewGemini creates a Gemini-backed client.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required (set GEMINI_API_KEY)")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Gemini{
		client:             client,
		defaultModel:       opts.DefaultModel,
		transcriptionModel: opts.TranscriptionModel,
		logger:             opts.Logger,
	}, nil
}

// Chat implements Client.
func (g *Gemini) Chat(ctx context.Context, req Request) (*Turn, error) {
	contents, cfg := g.prepare(req)

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	g.logger.Log(ctx, config.LevelTrace, "model response",
		"model", req.Model,
		"elapsed", time.Since(start),
		"candidates", len(resp.Candidates),
	)

	return parseResponse(resp)
}

// ChatStream implements Client. Text deltas are forwarded to cb as they
// arrive; function calls and usage are accumulated into the returned turn.
func (g *Gemini) ChatStream(ctx context.Context, req Request, cb StreamCallback) (*Turn, error) {
	contents, cfg := g.prepare(req)

	turn := &Turn{Kind: TurnFinal}
	var text strings.Builder
	sawChunk := false

	for resp, err := range g.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
		if err != nil {
			return nil, fmt.Errorf("gemini: stream: %w", err)
		}
		if resp == nil {
			continue
		}
		sawChunk = true

		if resp.UsageMetadata != nil {
			// Usage metadata is cumulative per chunk, not a delta.
			turn.Usage = Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		if len(resp.Candidates) == 0 {
			continue
		}

		candidate := resp.Candidates[0]
		if candidate.FinishReason != "" {
			turn.FinishReason = string(candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
				if cb != nil {
					cb(part.Text)
				}
			}
			if part.FunctionCall != nil {
				turn.Calls = append(turn.Calls, ToolCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
	}

	if !sawChunk {
		return nil, ErrEmptyResponse
	}

	turn.Text = text.String()
	if len(turn.Calls) > 0 {
		turn.Kind = TurnToolCalls
	}
	return turn, nil
}

// Transcribe implements Client using the configured transcription model.
func (g *Gemini) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	contents := []*genai.Content{{
		Role: string(RoleUser),
		Parts: []*genai.Part{
			genai.NewPartFromText(transcriptionPrompt),
			genai.NewPartFromBytes(data, mimeType),
		},
	}}

	resp, err := g.client.Models.GenerateContent(ctx, g.transcriptionModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini: transcribe: %w", err)
	}

	turn, err := parseResponse(resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(turn.Text), nil
}

// Ping implements Client with a minimal one-token round trip.
func (g *Gemini) Ping(ctx context.Context) error {
	contents := []*genai.Content{
		genai.NewContentFromText("ping", genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: 1,
	}
	_, err := g.client.Models.GenerateContent(ctx, g.defaultModel, contents, cfg)
	if err != nil {
		return fmt.Errorf("gemini: ping: %w", err)
	}
	return nil
}

// prepare converts a Request into genai wire types.
func (g *Gemini) prepare(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		parts := make([]*genai.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch {
			case p.FunctionCall != nil:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			case p.FunctionResponse != nil:
				parts = append(parts, genai.NewPartFromFunctionResponse(
					p.FunctionResponse.Name, p.FunctionResponse.Response))
			case p.Blob != nil:
				parts = append(parts, genai.NewPartFromBytes(p.Blob.Data, p.Blob.MIMEType))
			case p.Text != "":
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		// The API rejects contents with no parts.
		if len(parts) == 0 {
			parts = []*genai.Part{genai.NewPartFromText(" ")}
		}
		contents = append(contents, &genai.Content{
			Role:  string(m.Role),
			Parts: parts,
		})
	}

	cfg := &genai.GenerateContentConfig{
		TopP:           genai.Ptr(defaultTopP),
		TopK:           genai.Ptr(defaultTopK),
		CandidateCount: 1,
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = req.MaxTokens
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: req.Tools}}
	}
	return contents, cfg
}

// parseResponse converts a blocking response into a Turn.
func parseResponse(resp *genai.GenerateContentResponse) (*Turn, error) {
	turn := &Turn{Kind: TurnFinal}
	if resp.UsageMetadata != nil {
		turn.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	turn.FinishReason = string(candidate.FinishReason)
	if candidate.Content == nil {
		return nil, ErrEmptyResponse
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			turn.Calls = append(turn.Calls, ToolCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}

	turn.Text = text.String()
	if len(turn.Calls) > 0 {
		turn.Kind = TurnToolCalls
	}
	return turn, nil
}
