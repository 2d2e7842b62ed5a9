// Package mailbox implements the per-user FIFO notification mailbox
// (spec section 4.6): post(user_ids, payload) appends a timestamped copy
// of payload to each user's queue; fetch(user_id) returns the ordered
// list. No state is persisted to disk — per section 6, only the watcher's
// version snapshot is — so the queues live entirely in memory, guarded by
// a single mutex.
package mailbox

import (
	"sync"
	"time"

	"docindex/pkg/events"
)

// Message is one delivered notification, timestamped at post time (not
// at the time of the originating file event).
type Message struct {
	Payload      events.Notification `json:"message"`
	PostedAt     time.Time           `json:"timestamp"`
	FormattedAt  string              `json:"formatted_time"`
}

// Store is the in-memory per-user FIFO queue set.
type Store struct {
	mu     sync.Mutex
	queues map[string][]Message
}

// NewStore constructs an empty mailbox store.
func NewStore() *Store {
	return &Store{queues: make(map[string][]Message)}
}

// Post appends payload to every user in userIDs' queue, at-least-once:
// a caller that retries after an ambiguous failure may cause duplicates,
// which is acceptable per the mailbox's stated delivery guarantee.
func (s *Store) Post(userIDs []string, payload events.Notification) {
	now := time.Now()
	msg := Message{
		Payload:     payload,
		PostedAt:    now,
		FormattedAt: now.Format(time.RFC3339),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, userID := range userIDs {
		s.queues[userID] = append(s.queues[userID], msg)
	}
}

// Fetch returns userID's queue in FIFO order. An unknown user has an
// empty queue, not an error.
func (s *Store) Fetch(userID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.queues[userID]
	out := make([]Message, len(queue))
	copy(out, queue)
	return out
}
