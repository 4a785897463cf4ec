package session

import (
	"context"
	"sync"
	"time"
)

// Factory builds the per-session state (cart store and friends) for auth.
type Factory[V any] func(auth *Auth) V

// entry tracks one browser session.
type entry[V any] struct {
	auth     *Auth
	value    V
	lastSeen time.Time
}

// Registry maps browser session ids to their identity and per-session
// state. State is created lazily and evicted after ttl without use.
type Registry[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	factory Factory[V]
	ttl     time.Duration
	nowFunc func() time.Time // injectable clock for testing
}

// NewRegistry creates an empty registry.
func NewRegistry[V any](ttl time.Duration, factory Factory[V]) *Registry[V] {
	return &Registry[V]{
		entries: make(map[string]*entry[V]),
		factory: factory,
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Get returns the session's identity and state, creating both on first use.
// token is the bearer token presented with the current request; when it
// differs from the session's the identity is updated, and a change of user
// rebuilds the state so the next read fetches that user's cart.
func (r *Registry[V]) Get(sessionID, token string) (*Auth, V, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		auth := NewAuth(sessionID)
		if token != "" {
			if err := auth.SetToken(token); err != nil {
				var zero V
				return nil, zero, err
			}
		}
		e = &entry[V]{auth: auth}
		r.arm(sessionID, auth)
		e.value = r.factory(auth)
		r.entries[sessionID] = e
	} else if token != e.auth.Token() {
		before := e.auth.UserID()
		if token == "" {
			e.auth.SignOut()
		} else if err := e.auth.SetToken(token); err != nil {
			var zero V
			return nil, zero, err
		}
		if e.auth.UserID() != before {
			e.value = r.factory(e.auth)
		}
	}

	e.lastSeen = r.nowFunc()
	return e.auth, e.value, nil
}

// arm removes the session from the registry when its identity expires.
func (r *Registry[V]) arm(sessionID string, auth *Auth) {
	auth.OnExpired(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if e, ok := r.entries[sessionID]; ok && e.auth == auth {
			delete(r.entries, sessionID)
		}
	})
}

// Remove drops a session.
func (r *Registry[V]) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run evicts idle sessions every ttl/2 until ctx is done.
func (r *Registry[V]) Run(ctx context.Context) {
	interval := r.ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

// cleanup evicts all sessions whose lastSeen is older than the TTL.
func (r *Registry[V]) cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	var evicted int
	for id, e := range r.entries {
		if now.Sub(e.lastSeen) > r.ttl {
			delete(r.entries, id)
			evicted++
		}
	}
	return evicted
}
