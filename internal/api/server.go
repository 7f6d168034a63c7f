// Package api exposes the HTTP boundary: the chat endpoints, capability
// and model listings, health, transcription, and usage reporting.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parley/internal/agent"
	"parley/internal/buildinfo"
	"parley/internal/config"
	"parley/internal/connwatch"
	"parley/internal/conversation"
	"parley/internal/llm"
	"parley/internal/ratelimit"
	"parley/internal/tools"
	"parley/internal/usage"
)

// maxMultipartMemory bounds in-memory multipart parsing; larger parts
// spill to temporary files.
const maxMultipartMemory = 32 << 20

// Server hosts the Parley HTTP API.
type Server struct {
	cfg      *config.Config
	runner   *agent.Runner
	llm      llm.Client
	registry *tools.Registry
	store    *usage.Store
	watcher  *connwatch.Watcher
	limiter  *ratelimit.Limiter
	logger   *slog.Logger

	httpServer *http.Server
}

// Options bundles the server dependencies. Store and Watcher are
// optional; the corresponding features degrade gracefully without them.
type Options struct {
	Config   *config.Config
	Runner   *agent.Runner
	LLM      llm.Client
	Registry *tools.Registry
	Store    *usage.Store
	Watcher  *connwatch.Watcher
	Logger   *slog.Logger
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      opts.Config,
		runner:   opts.Runner,
		llm:      opts.LLM,
		registry: opts.Registry,
		store:    opts.Store,
		watcher:  opts.Watcher,
		limiter:  ratelimit.New(opts.Config.Limits.RequestsPerMinute),
		logger:   logger,
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/chat", s.rateLimited(s.handleChat))
	mux.HandleFunc("GET /api/v1/chat/stream", s.rateLimited(s.handleChatStream))
	mux.HandleFunc("POST /api/v1/chat/transcribe", s.rateLimited(s.handleTranscribe))
	mux.HandleFunc("GET /api/v1/models", s.handleModels)
	mux.HandleFunc("GET /api/v1/functions", s.handleFunctions)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/usage", s.handleUsage)

	return s.logRequests(mux)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Listen.Address, strconv.Itoa(s.cfg.Listen.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Evict idle rate-limit buckets so churning client addresses don't
	// grow the map without bound.
	go s.limiter.SweepEvery(ctx, 10*time.Minute, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// logRequests is the request logging middleware.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", clientIP(r),
			"duration", time.Since(start),
		)
	})
}

// rateLimited applies the per-IP token bucket to a handler.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "rate limit exceeded, try again shortly",
			})
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// chatParams is the decoded multipart chat request.
type chatParams struct {
	message     string
	history     []conversation.Turn
	attachments []conversation.Attachment
	cfg         agent.RunConfig
}

// parseChatForm decodes the multipart chat request: form fields,
// conversation history, new-turn attachment metadata, and file parts
// named "files" whose part filename is the attachment ID.
func (s *Server) parseChatForm(r *http.Request) (*chatParams, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}

	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}

	payloads, err := s.readFileParts(r)
	if err != nil {
		return nil, err
	}

	var wireHistory []wireTurn
	if raw := r.FormValue("conversation_history"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &wireHistory); err != nil {
			return nil, fmt.Errorf("parse conversation_history: %w", err)
		}
	}
	if len(wireHistory) > s.cfg.Limits.MaxHistoryTurns {
		return nil, fmt.Errorf("conversation history too long (max %d turns)", s.cfg.Limits.MaxHistoryTurns)
	}

	// History attachments are metadata only; their payloads were
	// transmitted when they first appeared.
	history := make([]conversation.Turn, 0, len(wireHistory))
	for i, wt := range wireHistory {
		turn, err := fromWireTurn(wt, nil)
		if err != nil {
			return nil, fmt.Errorf("history turn %d: %w", i, err)
		}
		history = append(history, turn)
	}

	var wireAtts []wireAttachment
	if raw := r.FormValue("attachments"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &wireAtts); err != nil {
			return nil, fmt.Errorf("parse attachments: %w", err)
		}
	}
	attachments := make([]conversation.Attachment, 0, len(wireAtts))
	for _, wa := range wireAtts {
		a, err := fromWireAttachment(wa, payloads)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", wa.Name, err)
		}
		attachments = append(attachments, a)
	}

	// Apply the dedupe rule: drop payloads whose ID already appears in
	// the replayed history.
	attachments = conversation.NewPayloads(history, attachments)

	cfg := agent.RunConfig{
		Model:        s.cfg.ResolveModel(r.FormValue("model")),
		SystemPrompt: r.FormValue("system_prompt"),
	}
	if v := r.FormValue("temperature"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature %q", v)
		}
		cfg.Temperature = float32(f)
	}
	if v := r.FormValue("max_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid max_tokens %q", v)
		}
		cfg.MaxTokens = int32(n)
	}
	if v := r.FormValue("max_function_calls"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid max_function_calls %q", v)
		}
		cfg.MaxToolCalls = n
	}
	if err := validateRunConfig(cfg); err != nil {
		return nil, err
	}

	return &chatParams{
		message:     message,
		history:     history,
		attachments: attachments,
		cfg:         cfg,
	}, nil
}

// readFileParts collects uploaded "files" parts keyed by attachment ID
// (carried as the part filename).
func (s *Server) readFileParts(r *http.Request) (map[string][]byte, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	payloads := make(map[string][]byte)
	for _, fh := range r.MultipartForm.File["files"] {
		if fh.Size > s.cfg.Limits.MaxUploadBytes {
			return nil, fmt.Errorf("file %q exceeds %d byte limit", fh.Filename, s.cfg.Limits.MaxUploadBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.Limits.MaxUploadBytes+1))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %q: %w", fh.Filename, err)
		}
		if int64(len(data)) > s.cfg.Limits.MaxUploadBytes {
			return nil, fmt.Errorf("file %q exceeds %d byte limit", fh.Filename, s.cfg.Limits.MaxUploadBytes)
		}
		payloads[fh.Filename] = data
	}
	return payloads, nil
}

// validateRunConfig rejects out-of-range request parameters at the
// boundary so callers get a 400 instead of an upstream failure.
func validateRunConfig(cfg agent.RunConfig) error {
	if cfg.Temperature < 0 || cfg.Temperature > agent.MaxTemperature {
		return fmt.Errorf("temperature %.2f out of range [0, %.0f]", cfg.Temperature, agent.MaxTemperature)
	}
	if cfg.MaxTokens < 0 || cfg.MaxTokens > agent.MaxTokensCeil {
		return fmt.Errorf("max_tokens %d out of range [1, %d]", cfg.MaxTokens, agent.MaxTokensCeil)
	}
	if cfg.MaxToolCalls < 0 || cfg.MaxToolCalls > agent.MaxToolCallsCap {
		return fmt.Errorf("max_function_calls %d out of range [1, %d]", cfg.MaxToolCalls, agent.MaxToolCallsCap)
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseChatForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	result, err := s.runner.Run(r.Context(), params.history, params.message,
		params.attachments, params.cfg, agent.Events{})
	if err != nil {
		s.logger.Error("chat exchange failed", "error", err, "model", params.cfg.Model)
		writeError(w, http.StatusBadGateway, "model exchange failed: %v", err)
		return
	}

	s.recordUsage(r.Context(), params.cfg.Model, result)
	writeJSON(w, http.StatusOK, toChatResponse(result, params.cfg.Model))
}

func (s *Server) recordUsage(ctx context.Context, model string, result *agent.Result) {
	if s.store == nil {
		return
	}
	err := s.store.Record(ctx, usage.Record{
		Model:        model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		ToolCalls:    len(result.Invocations),
		ElapsedMS:    result.Elapsed.Milliseconds(),
		Aborted:      result.Reason == agent.Aborted,
	})
	if err != nil {
		s.logger.Warn("record usage", "error", err)
	}
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "parse multipart form: %v", err)
		return
	}

	f, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer f.Close()

	mimeType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "audio/") {
		writeError(w, http.StatusBadRequest, "unsupported content type %q, expected audio", mimeType)
		return
	}
	if fh.Size > s.cfg.Limits.MaxUploadBytes {
		writeError(w, http.StatusBadRequest, "file exceeds %d byte limit", s.cfg.Limits.MaxUploadBytes)
		return
	}

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.Limits.MaxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: %v", err)
		return
	}

	text, err := s.llm.Transcribe(r.Context(), data, mimeType)
	if err != nil {
		s.logger.Error("transcription failed", "error", err)
		writeError(w, http.StatusBadGateway, "transcription failed: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transcription": text,
		"timestamp":     time.Now().UTC(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":        s.cfg.Models.Available,
		"default_model": s.cfg.Models.Default,
		"timestamp":     time.Now().UTC(),
	})
}

func (s *Server) handleFunctions(w http.ResponseWriter, r *http.Request) {
	catalog := s.registry.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"functions": catalog,
		"count":     len(catalog),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := false
	if s.watcher != nil {
		connected = s.watcher.IsReady()
	} else if s.llm != nil {
		connected = s.llm.Ping(r.Context()) == nil
	}

	status := "healthy"
	if !connected {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"model_connected": connected,
		"version":         buildinfo.Version,
		"timestamp":       time.Now().UTC(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "usage tracking is not enabled")
		return
	}

	// Default window: the trailing 24 hours.
	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			writeError(w, http.StatusBadRequest, "invalid hours %q", v)
			return
		}
		start = end.Add(-time.Duration(h) * time.Hour)
	}

	total, err := s.store.Summary(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query usage: %v", err)
		return
	}
	byModel, err := s.store.SummaryByModel(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query usage: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"window_start": start.UTC(),
		"window_end":   end.UTC(),
		"total":        total,
		"by_model":     byModel,
	})
}
