package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adewale/keyboardia/internal/metrics"
	"github.com/adewale/keyboardia/internal/model"
	"github.com/adewale/keyboardia/internal/persistence"
)

// IdleEvictionInterval is how often the registry sweeps for sessions with no
// connections, to bound the set of live actor
// goroutines to sessions someone is actually using.
const IdleEvictionInterval = time.Minute

// Registry owns every live Session actor, keyed by session id. Hydration on
// first access follows spec §4.2's "hot tier first, else cold tier, else
// new" load order.
type Registry struct {
	store   *persistence.Store
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry backed by store. m may be nil, in
// which case sessions skip metrics instrumentation (used by tests that
// don't want to contend for the default Prometheus registry).
func NewRegistry(store *persistence.Store, m *metrics.Metrics) *Registry {
	return &Registry{
		store:    store,
		metrics:  m,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the live Session actor for id, hydrating it from
// persistence (or creating a fresh model.Session) if this is the first
// access in this process lifetime.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, nil
	}

	state, err := r.store.Hydrate(ctx, id)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			return nil, err
		}
		state = model.NewSession(id)
	}
	model.ValidateAndRepair(state)

	s := newSession(id, r.store, r.metrics, state)
	r.sessions[id] = s
	return s, nil
}

// Evict stops tracking a session's actor. Its mailbox loop is terminated; a
// subsequent GetOrCreate rehydrates a fresh actor from the hot tier.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		close(s.done)
		delete(r.sessions, id)
	}
}

// RunIdleEviction blocks, periodically evicting sessions with zero connected
// players, until ctx is cancelled. Evicting (rather than leaving the
// goroutine parked forever) bounds per-process memory to active sessions;
// the hot tier guarantees nothing is lost.
func (r *Registry) RunIdleEviction(ctx context.Context) {
	ticker := time.NewTicker(IdleEvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepIdle()
		}
	}
}

func (r *Registry) sweepIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		var idle bool
		s.enqueue(func() {
			idle = len(s.conns) == 0
		})
		if idle {
			close(s.done)
			delete(r.sessions, id)
		}
	}
}

// Len returns the number of live session actors, for metrics and tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// FlushAll writes every resident session's current state to the cold tier.
// Called on graceful shutdown so a session idle-timer debounce in progress
// doesn't lose the last few mutations to process exit.
func (r *Registry) FlushAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.FlushCold(ctx); err != nil {
			slog.Error("cold tier flush on shutdown failed", "session_id", s.id, "error", err)
		}
	}
}
