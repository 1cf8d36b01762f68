// Package registry holds the running set of compiled imposters. Writers
// (admin operations) serialize on a mutex and publish immutable snapshots;
// readers (the matching hot path) load the current snapshot with a single
// atomic pointer read and never block.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shamd/shamd/pkg/imposter"
)

// ErrNotFound is returned when no imposter is registered on a port.
var ErrNotFound = errors.New("imposter not found")

// ErrPortInUse is returned when an imposter is already registered on a port.
var ErrPortInUse = errors.New("port already in use")

type snapshot struct {
	byPort map[int]*imposter.Compiled
}

// Registry is the concurrent imposter store.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{byPort: map[int]*imposter.Compiled{}})
	return r
}

// Add registers a compiled imposter on its port.
func (r *Registry) Add(imp *imposter.Compiled) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snap.Load()
	if _, exists := cur.byPort[imp.Port]; exists {
		return fmt.Errorf("%w: %d", ErrPortInUse, imp.Port)
	}
	r.snap.Store(cur.with(imp.Port, imp))
	return nil
}

// Replace swaps the whole imposter set in one publication.
func (r *Registry) Replace(imps []*imposter.Compiled) error {
	byPort := make(map[int]*imposter.Compiled, len(imps))
	for _, imp := range imps {
		if _, exists := byPort[imp.Port]; exists {
			return fmt.Errorf("%w: %d", ErrPortInUse, imp.Port)
		}
		byPort[imp.Port] = imp
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(&snapshot{byPort: byPort})
	return nil
}

// Get returns the imposter on a port.
func (r *Registry) Get(port int) (*imposter.Compiled, error) {
	imp, ok := r.snap.Load().byPort[port]
	if !ok {
		return nil, fmt.Errorf("%w: port %d", ErrNotFound, port)
	}
	return imp, nil
}

// Delete removes and returns the imposter on a port.
func (r *Registry) Delete(port int) (*imposter.Compiled, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snap.Load()
	imp, ok := cur.byPort[port]
	if !ok {
		return nil, fmt.Errorf("%w: port %d", ErrNotFound, port)
	}
	r.snap.Store(cur.without(port))
	return imp, nil
}

// DeleteAll removes every imposter and returns them in port order.
func (r *Registry) DeleteAll() []*imposter.Compiled {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.snap.Load().list()
	r.snap.Store(&snapshot{byPort: map[int]*imposter.Compiled{}})
	return out
}

// List returns the registered imposters in port order.
func (r *Registry) List() []*imposter.Compiled {
	return r.snap.Load().list()
}

func (s *snapshot) with(port int, imp *imposter.Compiled) *snapshot {
	byPort := make(map[int]*imposter.Compiled, len(s.byPort)+1)
	for p, i := range s.byPort {
		byPort[p] = i
	}
	byPort[port] = imp
	return &snapshot{byPort: byPort}
}

func (s *snapshot) without(port int) *snapshot {
	byPort := make(map[int]*imposter.Compiled, len(s.byPort))
	for p, i := range s.byPort {
		if p != port {
			byPort[p] = i
		}
	}
	return &snapshot{byPort: byPort}
}

func (s *snapshot) list() []*imposter.Compiled {
	ports := make([]int, 0, len(s.byPort))
	for p := range s.byPort {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	out := make([]*imposter.Compiled, 0, len(ports))
	for _, p := range ports {
		out = append(out, s.byPort[p])
	}
	return out
}
