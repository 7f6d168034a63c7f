package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfigExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if found != path {
		t.Errorf("found = %q, want %q", found, path)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	_, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestFindConfigSearchesCWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "parley.yaml"), []byte("listen:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(orig)

	found, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if found != "parley.yaml" {
		t.Errorf("found = %q, want parley.yaml", found)
	}
}

func TestFindConfigNothingFound(t *testing.T) {
	orig, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(orig)

	// Home and /etc paths may exist on a developer machine; skip if so.
	for _, p := range DefaultSearchPaths()[1:] {
		if _, err := os.Stat(p); err == nil {
			t.Skipf("config exists at %s", p)
		}
	}

	if _, err := FindConfig(""); err == nil {
		t.Error("expected error when no config exists")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("PARLEY_TEST_KEY", "secret-from-env")

	path := filepath.Join(t.TempDir(), "parley.yaml")
	content := `
gemini:
  api_key: ${PARLEY_TEST_KEY}
listen:
  port: 9090
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gemini.APIKey != "secret-from-env" {
		t.Errorf("api_key = %q, want expanded env value", cfg.Gemini.APIKey)
	}
	if cfg.Listen.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Listen.Port)
	}
}

func TestLoadInlineSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("gemini:\n  api_key: inline-secret\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gemini.APIKey != "inline-secret" {
		t.Errorf("api_key = %q", cfg.Gemini.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("listen: [not a mapping"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Listen.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Models.Default != "gemini-2.5-flash" {
		t.Errorf("default model = %q", cfg.Models.Default)
	}
	if len(cfg.Models.Available) == 0 {
		t.Error("available models should not be empty")
	}
	if cfg.Models.Aliases["gemini-pro"] != "gemini-2.5-pro" {
		t.Errorf("gemini-pro alias = %q", cfg.Models.Aliases["gemini-pro"])
	}
	if cfg.Gemini.TranscriptionModel != "gemini-2.5-pro" {
		t.Errorf("transcription model = %q", cfg.Gemini.TranscriptionModel)
	}
	if cfg.Limits.MaxTokens != 10_000 {
		t.Errorf("max tokens = %d", cfg.Limits.MaxTokens)
	}
	if cfg.Limits.MaxHistoryTurns != 50 {
		t.Errorf("max history turns = %d", cfg.Limits.MaxHistoryTurns)
	}
	if cfg.Limits.MaxUploadBytes != 10<<20 {
		t.Errorf("max upload bytes = %d", cfg.Limits.MaxUploadBytes)
	}
	if cfg.Limits.MaxToolCalls != 5 {
		t.Errorf("max tool calls = %d", cfg.Limits.MaxToolCalls)
	}
	if cfg.Limits.RequestsPerMinute != 60 {
		t.Errorf("requests per minute = %d", cfg.Limits.RequestsPerMinute)
	}
	if cfg.DataDir != "data" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
}

func TestLoadSparseFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 3000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Listen.Port)
	}
	if cfg.Models.Default == "" {
		t.Error("sparse config should still get a default model")
	}
	if cfg.Limits.RequestsPerMinute != 60 {
		t.Errorf("requests per minute = %d, want default 60", cfg.Limits.RequestsPerMinute)
	}
}

func TestResolveModel(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty falls back to default", "", "gemini-2.5-flash"},
		{"exact match", "gemini-2.0-flash", "gemini-2.0-flash"},
		{"alias resolved", "gemini-pro", "gemini-2.5-pro"},
		{"substring match", "2.5-pro", "gemini-2.5-pro"},
		{"unknown falls back to default", "llama-70b", "gemini-2.5-flash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.ResolveModel(tt.in); got != tt.want {
				t.Errorf("ResolveModel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{" debug ", slog.LevelDebug, false},
		{"trace", LevelTrace, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	attr := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(LevelTrace)}
	got := ReplaceLogLevelNames(nil, attr)
	if got.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", got.Value.String())
	}

	info := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(slog.LevelInfo)}
	got = ReplaceLogLevelNames(nil, info)
	if got.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Error("info level should pass through unchanged")
	}
}
