// Package pipeline holds the phase executor registry. Concrete executors
// live in subpackages, one per assessment phase.
package pipeline

import (
	"sort"
	"sync"

	"bytemomo/redstorm/internal/domain"
)

// Registry maps phase names to their executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]domain.PhaseExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]domain.PhaseExecutor)}
}

// Register binds an executor under its own name. The last registration
// for a name wins.
func (r *Registry) Register(e domain.PhaseExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Name()] = e
}

func (r *Registry) Lookup(phase string) (domain.PhaseExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[phase]
	return e, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for n := range r.executors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
