package mailbox

import (
	"testing"
	"time"

	"docindex/pkg/events"
)

func TestStore_PostAppendsToEachRecipientInFIFOOrder(t *testing.T) {
	s := NewStore()
	s.Post([]string{"alice", "bob"}, events.Notification{EventType: events.Create, RelativePath: "a.txt", Summary: "first"})
	s.Post([]string{"alice"}, events.Notification{EventType: events.Update, RelativePath: "a.txt", Summary: "second"})

	alice := s.Fetch("alice")
	if len(alice) != 2 {
		t.Fatalf("expected 2 messages for alice, got %d", len(alice))
	}
	if alice[0].Payload.Summary != "first" || alice[1].Payload.Summary != "second" {
		t.Fatalf("expected FIFO order, got %+v", alice)
	}

	bob := s.Fetch("bob")
	if len(bob) != 1 || bob[0].Payload.Summary != "first" {
		t.Fatalf("unexpected bob queue: %+v", bob)
	}
}

func TestStore_FetchUnknownUserReturnsEmptyNotError(t *testing.T) {
	s := NewStore()
	got := s.Fetch("nobody")
	if got == nil {
		t.Fatalf("expected empty slice, got nil")
	}
	if len(got) != 0 {
		t.Fatalf("expected no messages, got %d", len(got))
	}
}

func TestStore_FetchReturnsACopyNotAliasingInternalSlice(t *testing.T) {
	s := NewStore()
	s.Post([]string{"alice"}, events.Notification{EventType: events.Delete, RelativePath: "a.txt"})

	first := s.Fetch("alice")
	first[0].Payload.Summary = "mutated"

	second := s.Fetch("alice")
	if second[0].Payload.Summary == "mutated" {
		t.Fatalf("expected Fetch to return an independent copy")
	}
}

func TestMessage_FormattedAtIsRFC3339(t *testing.T) {
	s := NewStore()
	s.Post([]string{"alice"}, events.Notification{EventType: events.Create, RelativePath: "a.txt"})
	msg := s.Fetch("alice")[0]
	if _, err := time.Parse(time.RFC3339, msg.FormattedAt); err != nil {
		t.Fatalf("expected RFC3339 formatted_time, got %q: %v", msg.FormattedAt, err)
	}
}
