// Package config handles Parley configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./parley.yaml, ~/.config/parley/config.yaml, /etc/parley/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"parley.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "parley", "config.yaml"))
	}

	paths = append(paths, "/etc/parley/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Parley configuration.
type Config struct {
	Listen   ListenConfig `yaml:"listen"`
	Gemini   GeminiConfig `yaml:"gemini"`
	Models   ModelsConfig `yaml:"models"`
	Limits   LimitsConfig `yaml:"limits"`
	DataDir  string       `yaml:"data_dir"`
	LogLevel string       `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GeminiConfig defines the upstream model service connection.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API. Usually supplied via
	// ${GEMINI_API_KEY} expansion from the environment.
	APIKey string `yaml:"api_key"`
	// TranscriptionModel handles audio transcription requests. It is
	// resolved independently of the chat model because transcription
	// needs a model with audio understanding.
	TranscriptionModel string `yaml:"transcription_model"`
}

// ModelsConfig defines the advertised model catalog.
type ModelsConfig struct {
	Default   string            `yaml:"default"`
	Available []string          `yaml:"available"`
	Aliases   map[string]string `yaml:"aliases"`
}

// LimitsConfig bounds per-request resource usage.
type LimitsConfig struct {
	MaxTokens         int   `yaml:"max_tokens"`          // Default response token ceiling
	MaxHistoryTurns   int   `yaml:"max_history_turns"`   // Inbound conversation history cap
	MaxUploadBytes    int64 `yaml:"max_upload_bytes"`    // Per-attachment size cap
	MaxToolCalls      int   `yaml:"max_tool_calls"`      // Agent loop iteration budget
	RequestsPerMinute int   `yaml:"requests_per_minute"` // Per-IP rate limit on chat endpoints
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-value fields so a sparse YAML file still
// yields a runnable configuration.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Models.Default == "" {
		c.Models.Default = "gemini-2.5-flash"
	}
	if len(c.Models.Available) == 0 {
		c.Models.Available = []string{
			"gemini-2.5-pro",
			"gemini-2.5-flash",
			"gemini-2.0-flash",
		}
	}
	if c.Models.Aliases == nil {
		c.Models.Aliases = map[string]string{
			"gemini-pro":   "gemini-2.5-pro",
			"gemini-flash": "gemini-2.5-flash",
		}
	}
	if c.Gemini.TranscriptionModel == "" {
		c.Gemini.TranscriptionModel = "gemini-2.5-pro"
	}
	if c.Limits.MaxTokens == 0 {
		c.Limits.MaxTokens = 10_000
	}
	if c.Limits.MaxHistoryTurns == 0 {
		c.Limits.MaxHistoryTurns = 50
	}
	if c.Limits.MaxUploadBytes == 0 {
		c.Limits.MaxUploadBytes = 10 << 20 // 10 MiB
	}
	if c.Limits.MaxToolCalls == 0 {
		c.Limits.MaxToolCalls = 5
	}
	if c.Limits.RequestsPerMinute == 0 {
		c.Limits.RequestsPerMinute = 60
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}

// ResolveModel maps an alias to its concrete model name and verifies the
// result is in the advertised catalog. Unknown names fall back to the
// closest catalog entry containing the requested name as a substring,
// and finally to the default model.
func (c *Config) ResolveModel(name string) string {
	if name == "" {
		return c.Models.Default
	}
	if concrete, ok := c.Models.Aliases[name]; ok {
		name = concrete
	}
	for _, m := range c.Models.Available {
		if m == name {
			return m
		}
	}
	for _, m := range c.Models.Available {
		if strings.Contains(strings.ToLower(m), strings.ToLower(name)) {
			return m
		}
	}
	return c.Models.Default
}
