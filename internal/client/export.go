package client

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"parley/internal/conversation"
)

// ExportMarkdown renders the conversation as a Markdown transcript.
// Assistant content is emitted verbatim since the model already speaks
// Markdown; tool calls and attachments become annotated sub-items.
func ExportMarkdown(history []conversation.Turn) string {
	var b strings.Builder
	b.WriteString("# Conversation\n\n")

	for _, t := range history {
		switch t.Role {
		case conversation.RoleUser:
			b.WriteString("## You")
		case conversation.RoleAssistant:
			if t.Error {
				b.WriteString("## Assistant (error)")
			} else {
				b.WriteString("## Assistant")
			}
		}
		if !t.Timestamp.IsZero() {
			fmt.Fprintf(&b, " — %s", t.Timestamp.Format(time.RFC3339))
		}
		b.WriteString("\n\n")

		if t.Content != "" {
			b.WriteString(t.Content)
			b.WriteString("\n\n")
		}

		for _, a := range t.Attachments {
			fmt.Fprintf(&b, "> attached %s `%s` (%d bytes)\n", a.Kind, a.Name, a.Size)
		}
		if len(t.Attachments) > 0 {
			b.WriteString("\n")
		}

		for _, c := range t.ToolCalls {
			fmt.Fprintf(&b, "> called `%s`\n", c.Name)
		}
		if len(t.ToolCalls) > 0 {
			b.WriteString("\n")
		}
	}

	return b.String()
}

var exportRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
)

const htmlHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Conversation</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
blockquote { color: #666; border-left: 3px solid #ccc; margin-left: 0; padding-left: 1rem; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; border-radius: 3px; }
</style>
</head>
<body>
`

const htmlFooter = `</body>
</html>
`

// ExportHTML renders the conversation as a standalone HTML page.
func ExportHTML(history []conversation.Turn) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(htmlHeader)
	if err := exportRenderer.Convert([]byte(ExportMarkdown(history)), &buf); err != nil {
		return "", fmt.Errorf("render transcript: %w", err)
	}
	buf.WriteString(htmlFooter)
	return buf.String(), nil
}
