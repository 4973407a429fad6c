package calculation

import (
	"context"
	"sync"
	"time"
)

// Store keeps open sessions in memory and expires those idle for longer than
// the TTL.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates a Store. A nil now uses time.Now.
func NewStore(ttl time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		ttl:      ttl,
		now:      now,
		sessions: make(map[string]*Session),
	}
}

// Put adds s to the store.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
}

// Get returns the session with id or ErrSessionNotFound if it is unknown or
// expired.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok || st.expired(s, st.now()) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes the session with id.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len returns the number of stored sessions, expired ones included until the
// next sweep.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
func (st *Store) Sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		if st.expired(s, now) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps the store every interval until ctx is cancelled.
func (st *Store) StartCleanup(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := st.Sweep(st.now())
				if onSweep != nil && n > 0 {
					onSweep(n)
				}
			}
		}
	}()
}

func (st *Store) expired(s *Session, now time.Time) bool {
	if st.ttl <= 0 {
		return false
	}
	return now.Sub(s.idleSince()) > st.ttl
}
