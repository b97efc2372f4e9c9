// Package presence tracks which user identities currently have at least one
// live chat session and persists online/offline transitions to the store.
package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/watchsync/engine/internal/logging"
	"github.com/watchsync/engine/internal/metrics"
)

// Store is the slice of the external store presence touches.
type Store interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// Session is anything a chat session needs to expose to be tracked. It is an
// alias so that interfaces elsewhere spelling out the same method set accept
// *Registry's methods without a wrapper.
type Session = interface {
	ID() string
}

// Registry maps user ids to their set of live sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[string]Session
	store    Store
}

// NewRegistry builds an empty presence registry.
func NewRegistry(store Store) *Registry {
	return &Registry{
		sessions: make(map[string]map[string]Session),
		store:    store,
	}
}

// Attach adds sess to userID's session set. If this is the user's first live
// session, their online transition is persisted asynchronously.
func (r *Registry) Attach(ctx context.Context, userID string, sess Session) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[string]Session)
		r.sessions[userID] = set
	}
	wasEmpty := len(set) == 0
	set[sess.ID()] = sess
	total := len(r.sessions)
	r.mu.Unlock()

	if wasEmpty {
		metrics.OnlineUsers.Set(float64(total))
		r.persistOnline(ctx, userID, true)
	}
}

// Detach removes sess from userID's session set. If the set becomes empty,
// the user's offline + last-seen transition is persisted asynchronously.
func (r *Registry) Detach(ctx context.Context, userID string, sess Session) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(set, sess.ID())
	empty := len(set) == 0
	if empty {
		delete(r.sessions, userID)
	}
	total := len(r.sessions)
	r.mu.Unlock()

	if empty {
		metrics.OnlineUsers.Set(float64(total))
		r.persistOnline(ctx, userID, false)
	}
}

// IsOnline reports whether userID has at least one live session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID]) > 0
}

// SessionsOf returns the live sessions currently attached for userID.
func (r *Registry) SessionsOf(userID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.sessions[userID]
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// OnlineCount reports the number of distinct online users (health-check stat).
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) persistOnline(ctx context.Context, userID string, online bool) {
	if r.store == nil {
		return
	}
	go func() {
		if err := r.store.SetOnline(context.Background(), userID, online); err != nil {
			logging.Warn(ctx, "failed to persist presence transition", zap.Error(err), zap.String("user_id", userID), zap.Bool("online", online))
		}
	}()
}
