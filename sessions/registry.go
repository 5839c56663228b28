// Package sessions owns the mapping from server-assigned session ids to
// their transport and tool-server handles. Sessions are soft state: the
// registry is memory-resident and everything in it is lost on restart.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTTL is the maximum session age before the sweeper evicts it.
	DefaultTTL = 30 * time.Minute
	// DefaultSweepInterval is how often the sweeper scans for stale sessions.
	DefaultSweepInterval = 5 * time.Minute
)

// ErrDuplicateID is returned by Create when the id is already registered.
// Ids are generated server-side and unique, so hitting this indicates a bug
// in the caller rather than a recoverable condition.
var ErrDuplicateID = errors.New("session id already registered")

// Transport is the per-session handle the registry tears down when a
// session is removed or evicted. Close must be idempotent.
type Transport interface {
	Close() error
}

// Session is one registry entry. The transport is exclusively owned by the
// entry and must not outlive it; the server handle is opaque to the
// registry and interpreted by the HTTP layer.
type Session struct {
	ID        string
	CreatedAt time.Time
	Transport Transport
	Server    any
}

// Registry is a mutex-guarded session table.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty registry. A nil logger discards output.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session under id. The id must not already exist.
func (r *Registry) Create(id string, transport Transport, server any) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.sessions[id] = &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Transport: transport,
		Server:    server,
	}
	return nil
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove deletes a session and closes its transport. Removing an absent id
// is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok && sess.Transport != nil {
		_ = sess.Transport.Close()
	}
}

// EvictStale removes every session older than ttl at the given instant and
// returns the evicted ids. Each eviction closes the owning transport so
// resources are not leaked.
func (r *Registry) EvictStale(now time.Time, ttl time.Duration) []string {
	r.mu.Lock()
	var stale []*Session
	for id, sess := range r.sessions {
		if now.Sub(sess.CreatedAt) > ttl {
			stale = append(stale, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, sess := range stale {
		ids = append(ids, sess.ID)
		if sess.Transport != nil {
			_ = sess.Transport.Close()
		}
	}
	return ids
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep runs the periodic TTL eviction until ctx is cancelled. Eviction is
// routine cleanup, logged for operability only.
func (r *Registry) Sweep(ctx context.Context, interval, ttl time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if evicted := r.EvictStale(now, ttl); len(evicted) > 0 {
				r.log.InfoContext(ctx, "session.sweep",
					slog.Int("evicted", len(evicted)),
					slog.Any("ids", evicted),
				)
			}
		}
	}
}
