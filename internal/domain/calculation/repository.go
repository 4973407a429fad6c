package calculation

import (
	"context"
	"sync"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

// MemoryRepository is an in-process scheme master. Snapshot returns deep
// copies, so Replace never affects a pass already in flight.
type MemoryRepository struct {
	mu   sync.RWMutex
	defs []scheme.Definition
}

// NewMemoryRepository returns a repository holding copies of defs.
func NewMemoryRepository(defs ...scheme.Definition) *MemoryRepository {
	r := &MemoryRepository{}
	r.Replace(defs...)
	return r
}

// Replace swaps the whole definition set.
func (r *MemoryRepository) Replace(defs ...scheme.Definition) {
	next := make([]scheme.Definition, len(defs))
	for i, d := range defs {
		next[i] = d.Clone()
	}
	r.mu.Lock()
	r.defs = next
	r.mu.Unlock()
}

// Snapshot implements scheme.Repository.
func (r *MemoryRepository) Snapshot(context.Context) ([]scheme.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]scheme.Definition, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Clone()
	}
	return out, nil
}
