package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), "Parley") {
		t.Errorf("version output missing banner:\n%s", out.String())
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v", err)
	}
	if info["version"] == "" {
		t.Error("version field missing")
	}
}

func TestRunTools(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"tools"}); err != nil {
		t.Fatalf("run tools: %v", err)
	}
	for _, name := range []string{"calculate_math", "convert_currency", "get_current_time", "get_weather"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("tools output missing %q:\n%s", name, out.String())
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: parley") {
		t.Errorf("usage output missing:\n%s", out.String())
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"-o", "yaml", "version"})
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("err = %v, want unknown output format", err)
	}
}

func TestMIMETypeForPath(t *testing.T) {
	cases := map[string]string{
		"photo.JPG":     "image/jpeg",
		"cat.png":       "image/png",
		"clip.mp3":      "audio/mpeg",
		"note.wav":      "audio/wav",
		"document.pdf":  "",
		"dir/image.gif": "image/gif",
	}
	for path, want := range cases {
		if got := mimeTypeForPath(path); got != want {
			t.Errorf("mimeTypeForPath(%q) = %q, want %q", path, got, want)
		}
	}
}
