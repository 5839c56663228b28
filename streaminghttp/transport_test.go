package streaminghttp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gatewaykit/ghgateway/eventstore"
)

func TestLaggedSubscriberIsDisconnectedForResume(t *testing.T) {
	tr := NewTransport("sess", eventstore.New())
	ctx := context.Background()

	sub, err := tr.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Publish past the delivery buffer while nothing drains it. The overflow
	// must disconnect the subscriber instead of losing the event.
	var ids []string
	for i := 0; i < 40; i++ {
		id, err := tr.Publish(ctx, []byte(fmt.Sprintf(`{"seq": %d}`, i)))
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	var delivered []string
	err = sub.Run(ctx, "", func(id string, msg []byte) error {
		delivered = append(delivered, id)
		return nil
	})
	if !errors.Is(err, ErrSubscriberLagged) {
		t.Fatalf("expected lagged disconnect, got %v", err)
	}
	if len(delivered) == 0 || len(delivered) == len(ids) {
		t.Fatalf("expected a partial delivery before the disconnect, got %d of %d", len(delivered), len(ids))
	}

	// The slot is free again and the undelivered tail comes back via replay.
	sub2, err := tr.Subscribe()
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var replayed []string
	err = sub2.Run(runCtx, delivered[len(delivered)-1], func(id string, msg []byte) error {
		replayed = append(replayed, id)
		if id == ids[len(ids)-1] {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("resumed run: %v", err)
	}
	if len(delivered)+len(replayed) != len(ids) {
		t.Fatalf("resume left a gap: %d delivered, %d replayed, %d published", len(delivered), len(replayed), len(ids))
	}
	for i, id := range append(append([]string(nil), delivered...), replayed...) {
		if id != ids[i] {
			t.Fatalf("event %d out of order: got %q, want %q", i, id, ids[i])
		}
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	tr := NewTransport("sess", eventstore.New())
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := tr.Publish(context.Background(), []byte(`{}`)); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected closed transport error, got %v", err)
	}
	if _, err := tr.Subscribe(); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected closed transport error, got %v", err)
	}
}
