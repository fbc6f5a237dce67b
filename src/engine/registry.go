package engine

import "sync"

// Registry tracks which signals and positions already have a running
// watcher. Acquisition is the admission check every launch path goes
// through, so at most one watcher per signal and per position record
// exists regardless of how many dispatch or resume passes overlap.
type Registry struct {
	mu        sync.Mutex
	signals   map[uint]struct{}
	positions map[uint]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		signals:   make(map[uint]struct{}),
		positions: make(map[uint]struct{}),
	}
}

func (r *Registry) TryAcquireSignal(id uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.signals[id]; held {
		return false
	}
	r.signals[id] = struct{}{}
	return true
}

func (r *Registry) ReleaseSignal(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.signals, id)
}

func (r *Registry) TryAcquirePosition(id uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.positions[id]; held {
		return false
	}
	r.positions[id] = struct{}{}
	return true
}

func (r *Registry) ReleasePosition(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, id)
}

// Counts reports the number of live signal and position watchers.
func (r *Registry) Counts() (signals, positions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals), len(r.positions)
}
