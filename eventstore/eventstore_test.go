package eventstore

import (
	"context"
	"fmt"
	"testing"
)

func TestAppendIDsSortInEmissionOrder(t *testing.T) {
	s := New()

	var prev string
	for i := 0; i < 50; i++ {
		id, err := s.Append("stream-a", []byte(fmt.Sprintf("msg-%d", i)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if prev != "" && !(id > prev) {
			t.Fatalf("event id %q does not sort after %q", id, prev)
		}
		prev = id
	}
}

func TestStreamIDRecoverableFromEventID(t *testing.T) {
	s := New()
	id, err := s.Append("2f1c7e0a-stream", []byte("hello"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got, ok := StreamIDFromEventID(id)
	if !ok {
		t.Fatalf("expected stream id to be recoverable from %q", id)
	}
	if got != "2f1c7e0a-stream" {
		t.Fatalf("unexpected stream id %q", got)
	}

	if _, ok := StreamIDFromEventID("garbage"); ok {
		t.Fatalf("expected malformed id to be rejected")
	}
}

func TestReplayAfterFiltersToOwningStream(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Interleave two streams and resume stream-a from its second event.
	var cursor string
	appendTo := func(stream, msg string) string {
		t.Helper()
		id, err := s.Append(stream, []byte(msg))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		return id
	}

	appendTo("stream-a", "a1")
	cursor = appendTo("stream-a", "a2")
	appendTo("stream-b", "b1")
	appendTo("stream-a", "a3")
	appendTo("stream-b", "b2")
	appendTo("stream-a", "a4")

	var got []string
	streamID, err := s.ReplayAfter(ctx, cursor, func(_ string, msg []byte) error {
		got = append(got, string(msg))
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if streamID != "stream-a" {
		t.Fatalf("unexpected stream id %q", streamID)
	}
	if len(got) != 2 || got[0] != "a3" || got[1] != "a4" {
		t.Fatalf("unexpected replay %v", got)
	}
}

func TestReplayAfterUnknownIDEmitsNothing(t *testing.T) {
	s := New()
	if _, err := s.Append("stream-a", []byte("a1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	streamID, err := s.ReplayAfter(context.Background(), "stream-a_00000000000000000000000000", func(string, []byte) error {
		t.Fatalf("emit should not be called for an unknown id")
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if streamID != "" {
		t.Fatalf("expected empty stream id, got %q", streamID)
	}
}

func TestRetentionEvictsOldestAcrossStreams(t *testing.T) {
	s := New()

	oldest, err := s.Append("quiet-stream", []byte("first"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	for i := 0; i < DefaultMaxEvents; i++ {
		if _, err := s.Append("noisy-stream", []byte("spam")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if s.Len() != DefaultMaxEvents {
		t.Fatalf("expected %d retained events, got %d", DefaultMaxEvents, s.Len())
	}
	if _, ok := s.Get(oldest); ok {
		t.Fatalf("expected oldest event to be evicted")
	}

	// Replay from the evicted cursor degrades to empty rather than failing.
	streamID, err := s.ReplayAfter(context.Background(), oldest, func(string, []byte) error { return nil })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if streamID != "" {
		t.Fatalf("expected empty stream id after eviction, got %q", streamID)
	}
}

func TestWithMaxEvents(t *testing.T) {
	s := New(WithMaxEvents(3))
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := s.Append("s", []byte{byte(i)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, id)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 retained events, got %d", s.Len())
	}
	if _, ok := s.Get(ids[1]); ok {
		t.Fatalf("expected second event to be evicted")
	}
	if _, ok := s.Get(ids[2]); !ok {
		t.Fatalf("expected third event to be retained")
	}
}
