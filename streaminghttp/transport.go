package streaminghttp

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/gatewaykit/ghgateway/eventstore"
)

var (
	// ErrStreamBusy is returned when a session already has a live SSE
	// subscriber. Sessions carry sequential HTTP exchanges, never
	// concurrent ones.
	ErrStreamBusy = errors.New("session already has an active stream")
	// ErrTransportClosed is returned once the session has been terminated.
	ErrTransportClosed = errors.New("transport closed")
	// ErrSubscriberLagged is returned by Run when the subscriber stopped
	// draining and was disconnected; the client resumes via Last-Event-ID
	// replay, since every published event is already in the store.
	ErrSubscriberLagged = errors.New("subscriber fell behind")
)

// Transport binds one session's server-to-client message flow to the HTTP
// layer. Outbound messages are recorded in the event store under the
// session's stream id before delivery, so a dropped connection can resume
// via Last-Event-ID. Closing the transport ends the session's stream for
// good; a subscriber disconnecting does not.
type Transport struct {
	sessionID string
	streamID  string
	store     *eventstore.Store

	mu  sync.Mutex
	sub *Subscription

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTransport constructs a Transport with a fresh stream id.
func NewTransport(sessionID string, store *eventstore.Store) *Transport {
	return &Transport{
		sessionID: sessionID,
		streamID:  uuid.NewString(),
		store:     store,
		closed:    make(chan struct{}),
	}
}

// StreamID returns the id this session's events are stored under.
func (t *Transport) StreamID() string { return t.streamID }

// Publish records a message in the event store and hands it to the live
// subscriber, if any. The store write happens first: keeping the replay
// window complete beats prompt delivery.
func (t *Transport) Publish(ctx context.Context, message []byte) (string, error) {
	select {
	case <-t.closed:
		return "", ErrTransportClosed
	default:
	}

	id, err := t.store.Append(t.streamID, message)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	sub := t.sub
	t.mu.Unlock()
	if sub != nil {
		select {
		case sub.ch <- eventstore.Event{ID: id, StreamID: t.streamID, Message: message}:
		default:
			// The subscriber stopped draining. Disconnect it rather than
			// drop the event silently; the stored copy is replayed when the
			// client reconnects with Last-Event-ID.
			t.mu.Lock()
			if t.sub == sub {
				t.sub = nil
				close(sub.lagged)
			}
			t.mu.Unlock()
		}
	}
	return id, nil
}

// Subscribe claims the session's single live subscriber slot. The caller
// must invoke Run exactly once on the returned Subscription, which releases
// the slot when it returns.
func (t *Transport) Subscribe() (*Subscription, error) {
	select {
	case <-t.closed:
		return nil, ErrTransportClosed
	default:
	}

	sub := &Subscription{
		t:      t,
		ch:     make(chan eventstore.Event, 32),
		lagged: make(chan struct{}),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub != nil {
		return nil, ErrStreamBusy
	}
	t.sub = sub
	return sub, nil
}

// Close terminates the transport. Idempotent; a live subscriber's Run
// returns nil, distinguishing session teardown from client disconnect.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Subscription is one attached SSE consumer.
type Subscription struct {
	t      *Transport
	ch     chan eventstore.Event
	lagged chan struct{}
}

// Run replays events after lastEventID (when the cursor is still retained)
// and then delivers live events until ctx ends or the transport closes.
// It returns ctx.Err() on client disconnect, nil on session termination.
func (s *Subscription) Run(ctx context.Context, lastEventID string, emit func(eventID string, message []byte) error) error {
	defer func() {
		s.t.mu.Lock()
		if s.t.sub == s {
			s.t.sub = nil
		}
		s.t.mu.Unlock()
	}()

	// The subscriber was registered before replay starts, so an event
	// published mid-replay shows up both in the replay and on the live
	// channel. Event ids sort in emission order, which makes the
	// deduplication below safe.
	var lastSent string
	if lastEventID != "" {
		_, err := s.t.store.ReplayAfter(ctx, lastEventID, func(id string, msg []byte) error {
			lastSent = id
			return emit(id, msg)
		})
		if err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.t.closed:
			return nil
		case <-s.lagged:
			// Drain whatever was buffered before the disconnect fired.
			for {
				select {
				case ev := <-s.ch:
					if lastSent != "" && ev.ID <= lastSent {
						continue
					}
					lastSent = ev.ID
					if err := emit(ev.ID, ev.Message); err != nil {
						return err
					}
				default:
					return ErrSubscriberLagged
				}
			}
		case ev := <-s.ch:
			if lastSent != "" && ev.ID <= lastSent {
				continue
			}
			lastSent = ev.ID
			if err := emit(ev.ID, ev.Message); err != nil {
				return err
			}
		}
	}
}
