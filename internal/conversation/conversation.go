// Package conversation holds the turn history for one chat session and
// the attachment reconciliation rules applied when a request is built.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AttachmentKind is the broad media category of an attachment.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindAudio AttachmentKind = "audio"
)

// MaxAttachmentBytes is the per-file upload cap.
const MaxAttachmentBytes = 10 << 20

// allowedMIMETypes are the media formats accepted for upload.
var allowedMIMETypes = map[string]AttachmentKind{
	"image/jpeg": KindImage,
	"image/png":  KindImage,
	"image/gif":  KindImage,
	"image/webp": KindImage,
	"audio/mpeg": KindAudio,
	"audio/wav":  KindAudio,
	"audio/mp3":  KindAudio,
	"audio/m4a":  KindAudio,
	"audio/webm": KindAudio,
}

// Attachment is a binary file associated with a turn. The ID is the
// deduplication key: a payload is transmitted at most once per request
// no matter how many replayed turns reference it. Data is nil for
// attachments whose bytes were already sent in an earlier exchange.
type Attachment struct {
	ID       string
	Kind     AttachmentKind
	Name     string
	Size     int64
	MIMEType string
	Data     []byte
}

// NewAttachment builds an attachment with a fresh ID from an uploaded file.
func NewAttachment(name, mimeType string, data []byte) (Attachment, error) {
	a := Attachment{
		ID:       uuid.NewString(),
		Name:     name,
		Size:     int64(len(data)),
		MIMEType: mimeType,
		Data:     data,
	}
	kind, ok := allowedMIMETypes[mimeType]
	if !ok {
		return Attachment{}, fmt.Errorf("unsupported MIME type: %s", mimeType)
	}
	a.Kind = kind
	if err := a.Validate(); err != nil {
		return Attachment{}, err
	}
	return a, nil
}

// Validate checks the attachment against the size cap and MIME allowlist.
func (a Attachment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("attachment %q has no id", a.Name)
	}
	if a.Size > MaxAttachmentBytes {
		return fmt.Errorf("attachment %q exceeds %d byte limit (%d bytes)",
			a.Name, int(MaxAttachmentBytes), a.Size)
	}
	if _, ok := allowedMIMETypes[a.MIMEType]; !ok {
		return fmt.Errorf("unsupported MIME type: %s", a.MIMEType)
	}
	return nil
}

// ToolCallRecord is one entry in an assistant turn's audit trail.
// Result holds the tool output on success or an "error" key on failure.
type ToolCallRecord struct {
	Name      string
	Arguments map[string]any
	Result    map[string]any
}

// Turn is one message in the conversation. Immutable once appended.
type Turn struct {
	ID          string
	Role        Role
	Content     string
	Timestamp   time.Time
	Attachments []Attachment

	// ToolCalls records the tools invoked while producing an assistant
	// turn. Empty on user turns.
	ToolCalls []ToolCallRecord

	// Error marks an assistant turn that records a failed exchange.
	// Error turns stay in history as the anchor for retry.
	Error bool
}

// NewUserTurn creates a user turn with a fresh ID and timestamp.
func NewUserTurn(content string, attachments []Attachment) Turn {
	return Turn{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Content:     content,
		Timestamp:   time.Now(),
		Attachments: attachments,
	}
}

// NewAssistantTurn creates an assistant turn with a fresh ID and timestamp.
func NewAssistantTurn(content string, toolCalls []ToolCallRecord) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
		ToolCalls: toolCalls,
	}
}

// NewErrorTurn creates an assistant turn recording a failed exchange.
func NewErrorTurn(content string) Turn {
	t := NewAssistantTurn(content, nil)
	t.Error = true
	return t
}

// Log is the append-only turn history for one session. Safe for
// concurrent use, though a session normally has a single writer.
type Log struct {
	mu    sync.Mutex
	turns []Turn
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a turn to the end of the history.
func (l *Log) Append(t Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, t)
}

// Snapshot returns a copy of the history in append order.
func (l *Log) Snapshot() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Clear removes all turns.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
}

// Truncate keeps only the first n turns. Used by retry to rewind the
// history to just before the failed exchange.
func (l *Log) Truncate(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(l.turns) {
		l.turns = l.turns[:n]
	}
}

// SeenAttachmentIDs collects the attachment IDs referenced anywhere in
// the replayed history.
func SeenAttachmentIDs(history []Turn) map[string]bool {
	seen := make(map[string]bool)
	for _, t := range history {
		for _, a := range t.Attachments {
			seen[a.ID] = true
		}
	}
	return seen
}

// NewPayloads selects the attachments whose binary payload must be
// included in the next request: those whose ID does not appear anywhere
// in history. Duplicates within attachments itself are also collapsed,
// keeping the first occurrence.
func NewPayloads(history []Turn, attachments []Attachment) []Attachment {
	seen := SeenAttachmentIDs(history)
	var out []Attachment
	for _, a := range attachments {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}
