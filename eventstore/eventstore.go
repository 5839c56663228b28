// Package eventstore keeps a bounded, process-wide log of messages emitted
// on resumable session streams. A client that drops its SSE connection
// presents the last event id it saw and the store replays everything that
// stream emitted afterwards.
package eventstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// DefaultMaxEvents bounds retention across the whole store, not per stream.
// Once the window fills, the oldest event is evicted regardless of which
// stream owns it: a quiet stream can lose replay history to a noisy
// neighbor and resumption degrades to a partial or empty replay.
const DefaultMaxEvents = 1000

// Event is an immutable stored message.
type Event struct {
	ID       string
	StreamID string
	Message  []byte
}

// Store is an append-only, size-bounded event log safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	events  []Event
	max     int
	entropy *ulid.MonotonicEntropy
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEvents overrides the retention bound. Values below one are ignored.
func WithMaxEvents(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		max: DefaultMaxEvents,
		// Monotonic entropy keeps ids generated within the same millisecond
		// lexicographically increasing. Only touched under s.mu.
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores a message under the given stream and returns its event id.
// The id embeds the stream id as a prefix so the owning stream can be
// recovered from the id alone, and sorts lexicographically in emission
// order thanks to the ULID suffix.
func (s *Store) Append(streamID string, message []byte) (string, error) {
	if streamID == "" {
		return "", fmt.Errorf("stream id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	suffix, err := ulid.New(ulid.Now(), s.entropy)
	if err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}
	id := streamID + "_" + suffix.String()

	s.events = append(s.events, Event{
		ID:       id,
		StreamID: streamID,
		Message:  append([]byte(nil), message...),
	})
	if overflow := len(s.events) - s.max; overflow > 0 {
		s.events = append(s.events[:0], s.events[overflow:]...)
	}

	return id, nil
}

// ReplayAfter emits, in store order, every event that belongs to the same
// stream as lastEventID and was appended after it. If lastEventID is not in
// the store (never issued, or already evicted) nothing is emitted and the
// returned stream id is empty: the caller should treat the stream as not
// resumable rather than fail.
func (s *Store) ReplayAfter(ctx context.Context, lastEventID string, emit func(eventID string, message []byte) error) (string, error) {
	streamID, ok := StreamIDFromEventID(lastEventID)
	if !ok {
		return "", nil
	}

	s.mu.Lock()
	start := -1
	for i := range s.events {
		if s.events[i].ID == lastEventID {
			start = i + 1
			break
		}
	}
	if start < 0 {
		s.mu.Unlock()
		return "", nil
	}
	var pending []Event
	for _, ev := range s.events[start:] {
		if ev.StreamID == streamID {
			pending = append(pending, ev)
		}
	}
	s.mu.Unlock()

	for _, ev := range pending {
		if err := ctx.Err(); err != nil {
			return streamID, err
		}
		if err := emit(ev.ID, ev.Message); err != nil {
			return streamID, err
		}
	}
	return streamID, nil
}

// Get returns the stored message for an event id, if it is still retained.
func (s *Store) Get(eventID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == eventID {
			return append([]byte(nil), s.events[i].Message...), true
		}
	}
	return nil, false
}

// Len reports the number of retained events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// StreamIDFromEventID recovers the owning stream from an event id. The ULID
// suffix has a fixed width, so everything before the final separator is the
// stream id.
func StreamIDFromEventID(eventID string) (string, bool) {
	idx := strings.LastIndex(eventID, "_")
	if idx <= 0 || len(eventID)-idx-1 != ulid.EncodedSize {
		return "", false
	}
	return eventID[:idx], true
}
