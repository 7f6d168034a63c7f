// Parley is a conversational front end for the Gemini API with
// server-side tools.
//
// It exposes an HTTP and websocket chat API, a CLI for one-shot queries
// and interactive sessions, and audio transcription. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); the Gemini API key can also come from
// the GEMINI_API_KEY environment variable or a .env file.
//
// Usage:
//
//	parley serve             Start the API server
//	parley ask <question>    Ask a single question (no server needed)
//	parley chat              Interactive session against a running server
//	parley tools             List the server-side tool catalog
//	parley version           Print version and build information
//	parley -o json version   Output version information as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"parley/internal/agent"
	"parley/internal/api"
	"parley/internal/buildinfo"
	"parley/internal/client"
	"parley/internal/config"
	"parley/internal/connwatch"
	"parley/internal/conversation"
	"parley/internal/llm"
	"parley/internal/tools"
	"parley/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the parley command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:]. We parse these manually rather than using
//     the flag package to avoid global state that interferes with
//     parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// A .env file beside the binary is the simplest way to supply
	// GEMINI_API_KEY during development. Missing files are fine.
	_ = godotenv.Load()

	var configPath string
	var serverURL string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-server" && i+1 < len(args):
			serverURL = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-server="):
			serverURL = strings.TrimPrefix(args[i], "-server=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: parley ask <question>")
		}
		return runAsk(ctx, stdout, configPath, strings.Join(cmdArgs, " "))
	case "chat":
		return runChat(ctx, stdout, os.Stdin, serverURL)
	case "tools":
		return runTools(stdout, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Parley - Conversational Gemini front end with server-side tools")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: parley [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (no server needed)")
	fmt.Fprintln(w, "  chat         Interactive session against a running server")
	fmt.Fprintln(w, "  tools        List the server-side tool catalog")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -server <url>     Server URL for chat (default: http://localhost:8080)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./parley.yaml, ~/.config/parley/config.yaml, /etc/parley/config.yaml")
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runTools prints the registered tool catalog.
func runTools(w io.Writer, outputFmt string) error {
	registry := tools.NewRegistry()
	catalog := registry.Catalog()

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(catalog)
	}
	for _, entry := range catalog {
		fmt.Fprintf(w, "%-20s %s\n", entry.Name, entry.Description)
	}
	return nil
}

// runServe is the primary operating mode: loads config, opens the usage
// database, connects to Gemini, starts the health watcher, and serves
// the API until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Parley",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	if cfgPath != "" {
		logger.Info("config loaded",
			"path", cfgPath,
			"port", cfg.Listen.Port,
			"model", cfg.Models.Default,
		)
	} else {
		logger.Info("no config file found, using defaults", "port", cfg.Listen.Port)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	llmClient, err := llm.NewGemini(ctx, llm.GeminiOptions{
		APIKey:             cfg.Gemini.APIKey,
		DefaultModel:       cfg.Models.Default,
		TranscriptionModel: cfg.Gemini.TranscriptionModel,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	logger.Info("tool registry initialized", "tools", registry.Len())

	runner := agent.New(llmClient, registry, logger)

	// Usage accounting. SQLite-backed so totals survive restarts.
	store, err := usage.NewStore(cfg.DataDir + "/usage.db")
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer store.Close()
	logger.Info("usage store opened", "path", cfg.DataDir+"/usage.db")

	// Background Gemini health monitoring. The health endpoint reads the
	// watcher instead of pinging the API on every request.
	watcher := connwatch.Watch(ctx, connwatch.Config{
		Name:   "gemini",
		Probe:  llmClient.Ping,
		Logger: logger,
	})
	defer watcher.Stop()

	server := api.NewServer(api.Options{
		Config:   cfg,
		Runner:   runner,
		LLM:      llmClient,
		Registry: registry,
		Store:    store,
		Watcher:  watcher,
		Logger:   logger,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Parley stopped")
	return nil
}

// runAsk handles "parley ask <question>": a single exchange straight
// against the Gemini API, with the full tool registry but no server.
func runAsk(ctx context.Context, stdout io.Writer, configPath, question string) error {
	logger := newLogger(io.Discard, slog.LevelInfo)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	llmClient, err := llm.NewGemini(ctx, llm.GeminiOptions{
		APIKey:             cfg.Gemini.APIKey,
		DefaultModel:       cfg.Models.Default,
		TranscriptionModel: cfg.Gemini.TranscriptionModel,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	runner := agent.New(llmClient, tools.NewRegistry(), logger)

	result, err := runner.Run(ctx, nil, question, nil, agent.RunConfig{
		Model:        cfg.Models.Default,
		MaxTokens:    int32(cfg.Limits.MaxTokens),
		MaxToolCalls: cfg.Limits.MaxToolCalls,
	}, agent.Events{
		OnToken: func(token string) { fmt.Fprint(stdout, token) },
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	// Streaming already printed the text; just terminate the line.
	fmt.Fprintln(stdout)
	if result.Reason == agent.Aborted {
		fmt.Fprintln(stdout, "(stopped: tool call budget exhausted)")
	}
	return nil
}

// runChat is an interactive session against a running server. Lines are
// sent as messages; a few slash commands control the session:
//
//	/retry            replay the last message after a failure
//	/attach <path>    attach a file to the next message
//	/clear            start a fresh conversation
//	/export <path>    write the transcript (.html renders, else markdown)
//	/quit             exit
func runChat(ctx context.Context, stdout io.Writer, stdin io.Reader, serverURL string) error {
	logger := newLogger(io.Discard, slog.LevelInfo)

	transport := client.NewTransport(serverURL, logger)
	if err := transport.Health(ctx); err != nil {
		return fmt.Errorf("server %s not reachable: %w", serverURL, err)
	}

	session := client.NewSession(transport, client.SessionOptions{Logger: logger})

	fmt.Fprintf(stdout, "Connected to %s. /quit to exit.\n", serverURL)

	var pending []conversation.Attachment
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	fmt.Fprint(stdout, "> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			// Nothing to send.

		case line == "/quit" || line == "/exit":
			return nil

		case line == "/clear":
			session.Clear()
			pending = nil
			fmt.Fprintln(stdout, "Conversation cleared.")

		case line == "/retry":
			exchange(ctx, stdout, func() error {
				_, err := session.RetryLast(ctx)
				return err
			})

		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			att, err := loadAttachment(path)
			if err != nil {
				fmt.Fprintf(stdout, "attach: %v\n", err)
				break
			}
			pending = append(pending, att)
			fmt.Fprintf(stdout, "Attached %s (%d bytes).\n", att.Name, att.Size)

		case strings.HasPrefix(line, "/export "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/export "))
			if err := exportTranscript(session.History(), path); err != nil {
				fmt.Fprintf(stdout, "export: %v\n", err)
			} else {
				fmt.Fprintf(stdout, "Transcript written to %s.\n", path)
			}

		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(stdout, "unknown command: %s\n", line)

		default:
			atts := pending
			pending = nil
			exchange(ctx, stdout, func() error {
				_, err := session.SendStream(ctx, line, atts, func(ev client.StreamEvent) {
					switch ev.Type {
					case "token":
						fmt.Fprint(stdout, ev.Text)
					case "tool_call":
						if ev.ToolCall != nil {
							fmt.Fprintf(stdout, "\n[%s]\n", ev.ToolCall.Name)
						}
					}
				})
				return err
			})
		}

		fmt.Fprint(stdout, "> ")
	}
	return scanner.Err()
}

// exchange runs one send and renders the outcome. Failures print the
// user-facing message for their class and suggest /retry.
func exchange(ctx context.Context, stdout io.Writer, fn func() error) {
	err := fn()
	fmt.Fprintln(stdout)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	var exErr *client.ExchangeError
	if errors.As(err, &exErr) {
		fmt.Fprintln(stdout, exErr.Class.UserMessage())
	} else {
		fmt.Fprintf(stdout, "error: %v\n", err)
	}
	fmt.Fprintln(stdout, "Use /retry to try again.")
}

// loadAttachment reads a local file into an attachment, inferring the
// MIME type from the extension.
func loadAttachment(path string) (conversation.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return conversation.Attachment{}, err
	}
	mimeType := mimeTypeForPath(path)
	if mimeType == "" {
		return conversation.Attachment{}, fmt.Errorf("unsupported file type: %s", path)
	}
	return conversation.NewAttachment(baseName(path), mimeType, data)
}

func mimeTypeForPath(path string) string {
	switch strings.ToLower(path[strings.LastIndex(path, ".")+1:]) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "m4a":
		return "audio/m4a"
	case "webm":
		return "audio/webm"
	default:
		return ""
	}
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// exportTranscript writes the session history to path. The extension
// picks the format: .html renders through markdown, everything else is
// the raw markdown transcript.
func exportTranscript(history []conversation.Turn, path string) error {
	var out string
	if strings.HasSuffix(path, ".html") {
		rendered, err := client.ExportHTML(history)
		if err != nil {
			return err
		}
		out = rendered
	} else {
		out = client.ExportMarkdown(history)
	}
	return os.WriteFile(path, []byte(out), 0644)
}

// newLogger creates a structured text logger writing to w. All log
// output goes through slog; the ReplaceAttr hook renders the custom
// trace level by name.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration. When no file
// exists anywhere in the search path, built-in defaults apply and the
// API key falls back to the GEMINI_API_KEY environment variable, so a
// bare `parley serve` works with nothing but the key exported.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg := config.Default()
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
		return cfg, "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	return cfg, cfgPath, nil
}
