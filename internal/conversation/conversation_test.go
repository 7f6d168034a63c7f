package conversation

import (
	"fmt"
	"testing"
)

func TestLogAppendOrder(t *testing.T) {
	log := NewLog()

	// Simulate N successful exchanges: one user + one assistant turn each.
	const n = 5
	for i := 0; i < n; i++ {
		log.Append(NewUserTurn(fmt.Sprintf("question %d", i), nil))
		log.Append(NewAssistantTurn(fmt.Sprintf("answer %d", i), nil))
	}

	if log.Len() != 2*n {
		t.Fatalf("Len() = %d, want %d", log.Len(), 2*n)
	}

	turns := log.Snapshot()
	for i := 0; i < n; i++ {
		user, assistant := turns[2*i], turns[2*i+1]
		if user.Role != RoleUser || user.Content != fmt.Sprintf("question %d", i) {
			t.Errorf("turn %d: got %s %q", 2*i, user.Role, user.Content)
		}
		if assistant.Role != RoleAssistant || assistant.Content != fmt.Sprintf("answer %d", i) {
			t.Errorf("turn %d: got %s %q", 2*i+1, assistant.Role, assistant.Content)
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	log := NewLog()
	log.Append(NewUserTurn("hello", nil))

	snap := log.Snapshot()
	snap[0].Content = "mutated"

	if log.Snapshot()[0].Content != "hello" {
		t.Error("mutating a snapshot leaked into the log")
	}
}

func TestTruncate(t *testing.T) {
	log := NewLog()
	for i := 0; i < 4; i++ {
		log.Append(NewUserTurn(fmt.Sprintf("t%d", i), nil))
	}

	log.Truncate(2)
	if log.Len() != 2 {
		t.Fatalf("Len() after Truncate(2) = %d, want 2", log.Len())
	}
	if got := log.Snapshot()[1].Content; got != "t1" {
		t.Errorf("last turn = %q, want t1", got)
	}

	log.Truncate(-1)
	if log.Len() != 0 {
		t.Errorf("Truncate(-1) should empty the log, got %d turns", log.Len())
	}
}

func mustAttachment(t *testing.T, name string) Attachment {
	t.Helper()
	a, err := NewAttachment(name, "image/png", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("NewAttachment: %v", err)
	}
	return a
}

func TestNewPayloadsDedupe(t *testing.T) {
	photo := mustAttachment(t, "photo.png")
	chart := mustAttachment(t, "chart.png")

	history := []Turn{
		NewUserTurn("look at this", []Attachment{photo}),
		NewAssistantTurn("nice photo", nil),
	}

	// photo was already transmitted; only chart's payload goes out.
	payloads := NewPayloads(history, []Attachment{photo, chart})
	if len(payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(payloads))
	}
	if payloads[0].ID != chart.ID {
		t.Errorf("payload = %s, want %s", payloads[0].ID, chart.ID)
	}
}

func TestNewPayloadsCollapsesDuplicates(t *testing.T) {
	photo := mustAttachment(t, "photo.png")

	payloads := NewPayloads(nil, []Attachment{photo, photo, photo})
	if len(payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(payloads))
	}
}

func TestNewPayloadsFreshHistory(t *testing.T) {
	photo := mustAttachment(t, "photo.png")

	payloads := NewPayloads(nil, []Attachment{photo})
	if len(payloads) != 1 || payloads[0].ID != photo.ID {
		t.Fatalf("fresh attachment should be included exactly once, got %d", len(payloads))
	}
}

func TestAttachmentValidation(t *testing.T) {
	if _, err := NewAttachment("notes.txt", "text/plain", []byte("hi")); err == nil {
		t.Error("text/plain should be rejected")
	}

	big := Attachment{
		ID:       "a1",
		Name:     "big.png",
		MIMEType: "image/png",
		Size:     MaxAttachmentBytes + 1,
	}
	if err := big.Validate(); err == nil {
		t.Error("oversized attachment should be rejected")
	}

	ok := Attachment{ID: "a2", Name: "song.wav", MIMEType: "audio/wav", Size: 1024}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid attachment rejected: %v", err)
	}
}

func TestNewAttachmentKind(t *testing.T) {
	img, err := NewAttachment("p.png", "image/png", []byte{1})
	if err != nil {
		t.Fatalf("NewAttachment: %v", err)
	}
	if img.Kind != KindImage {
		t.Errorf("Kind = %s, want image", img.Kind)
	}

	audio, err := NewAttachment("v.wav", "audio/wav", []byte{1})
	if err != nil {
		t.Fatalf("NewAttachment: %v", err)
	}
	if audio.Kind != KindAudio {
		t.Errorf("Kind = %s, want audio", audio.Kind)
	}
}
