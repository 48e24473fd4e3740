package session

import (
	"context"
	"fmt"
	"sync"
)

// Repository persists sessions. All mutation goes through Create and Mutate
// so the backing store can be swapped without touching callers.
type Repository interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	ListActive(ctx context.Context) ([]Session, error)
	// Mutate runs fn against the stored session inside a per-session critical
	// section. The result is persisted only when fn returns nil.
	Mutate(ctx context.Context, id string, fn func(*Session) error) (Session, error)
}

type entry struct {
	mu      sync.Mutex
	session Session
}

// MemoryRepository keeps sessions in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]*entry)}
}

// Create stores a new session.
func (r *MemoryRepository) Create(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[s.SessionID]; exists {
		return fmt.Errorf("%w: session %s already exists", ErrConflict, s.SessionID)
	}
	r.entries[s.SessionID] = &entry{session: s.Clone()}
	r.order = append(r.order, s.SessionID)
	return nil
}

// Get returns a copy of the session.
func (r *MemoryRepository) Get(_ context.Context, id string) (Session, error) {
	e := r.lookup(id)
	if e == nil {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// ListActive returns active sessions in creation order.
func (r *MemoryRepository) ListActive(_ context.Context) ([]Session, error) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.entries[id])
	}
	r.mu.RUnlock()

	out := make([]Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.session.Active() {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
	}
	return out, nil
}

// Mutate applies fn to a working copy while holding the session's lock.
func (r *MemoryRepository) Mutate(_ context.Context, id string, fn func(*Session) error) (Session, error) {
	e := r.lookup(id)
	if e == nil {
		return Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	working := e.session.Clone()
	if err := fn(&working); err != nil {
		return Session{}, err
	}
	e.session = working
	return working.Clone(), nil
}

func (r *MemoryRepository) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}
