package notify_test

import (
	"fmt"
	"testing"

	"gigboard/internal/domain"
	"gigboard/internal/events"
	"gigboard/internal/notify"
)

func msgEvent(conv, sender, content, at string) events.MessageInserted {
	return events.MessageInserted{
		Message: domain.Message{
			ID:             "m-" + conv + "-" + at,
			ConversationID: conv,
			SenderID:       sender,
			Kind:           domain.MessageUserText,
			Content:        content,
			CreatedAt:      at,
		},
		JobID:    "job-1",
		JobTitle: "Move boxes",
		PosterID: "alice",
		WorkerID: "bob",
	}
}

func TestInboxCollapsesPerConversation(t *testing.T) {
	in := notify.NewInbox()
	for i := 0; i < 5; i++ {
		in.Observe(msgEvent("conv-1", "bob", fmt.Sprintf("ping %d", i), fmt.Sprintf("2026-06-01T12:00:0%dZ", i)))
	}

	entries, unread := in.Snapshot("alice")
	if len(entries) != 1 {
		t.Fatalf("expected one collapsed entry, got %d", len(entries))
	}
	if unread != 1 {
		t.Fatalf("five messages in one thread count as one unread, got %d", unread)
	}
	if entries[0].Preview != "ping 4" {
		t.Fatalf("entry must carry the latest message, got %q", entries[0].Preview)
	}
	if !entries[0].Unread {
		t.Fatalf("recipient entry must be unread")
	}

	// the sender's own digest stays read
	if got := in.Unread("bob"); got != 0 {
		t.Fatalf("sender must have no unread, got %d", got)
	}
}

func TestInboxReplyMarksThreadRead(t *testing.T) {
	in := notify.NewInbox()
	in.Observe(msgEvent("conv-1", "bob", "hi", "2026-06-01T12:00:00Z"))
	if got := in.Unread("alice"); got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}
	in.Observe(msgEvent("conv-1", "alice", "hello", "2026-06-01T12:00:01Z"))
	if got := in.Unread("alice"); got != 0 {
		t.Fatalf("replying must clear the thread, got %d unread", got)
	}
	if got := in.Unread("bob"); got != 1 {
		t.Fatalf("the reply is unread for bob, got %d", got)
	}
}

func TestInboxSnapshotOrder(t *testing.T) {
	in := notify.NewInbox()
	in.Observe(msgEvent("conv-1", "bob", "first", "2026-06-01T12:00:00Z"))
	in.Observe(msgEvent("conv-2", "bob", "second", "2026-06-01T12:00:05Z"))
	in.Observe(msgEvent("conv-3", "bob", "third", "2026-06-01T12:00:02Z"))

	entries, unread := in.Snapshot("alice")
	if unread != 3 {
		t.Fatalf("expected 3 unread conversations, got %d", unread)
	}
	want := []string{"conv-2", "conv-3", "conv-1"}
	for i, e := range entries {
		if e.ConversationID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], e.ConversationID)
		}
	}
}

func TestInboxMarkAllRead(t *testing.T) {
	in := notify.NewInbox()
	in.Observe(msgEvent("conv-1", "bob", "a", "2026-06-01T12:00:00Z"))
	in.Observe(msgEvent("conv-2", "bob", "b", "2026-06-01T12:00:01Z"))
	in.MarkAllRead("alice")
	entries, unread := in.Snapshot("alice")
	if unread != 0 {
		t.Fatalf("expected 0 unread, got %d", unread)
	}
	for _, e := range entries {
		if e.Unread {
			t.Fatalf("entry %s still unread", e.ConversationID)
		}
	}
	// new activity flips it back
	in.Observe(msgEvent("conv-1", "bob", "c", "2026-06-01T12:00:02Z"))
	if got := in.Unread("alice"); got != 1 {
		t.Fatalf("expected 1 unread after new message, got %d", got)
	}
}
