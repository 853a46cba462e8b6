package escrow

import "sync"

// lockRegistry hands out one mutex per escrow key so that operations on
// different escrows never serialize against each other.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex of the given escrow and returns the release
// function. Locks are kept for the lifetime of the registry, the number
// of escrows bounds the map size.
func (r *lockRegistry) acquire(id []byte) func() {
	r.mu.Lock()
	l, ok := r.locks[string(id)]
	if !ok {
		l = &sync.Mutex{}
		r.locks[string(id)] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
