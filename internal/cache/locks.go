package cache

import "sync"

// keyedLocks serializes operations per key when opt-in key serialization is
// enabled. Mutexes are created on demand and never released; the set of
// (owner, topic) pairs a process touches is bounded by its active users.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for key and returns its unlock function. When the
// receiver is nil (serialization disabled) it is a no-op, preserving the
// legacy last-writer-wins behavior.
func (k *keyedLocks) acquire(key string) func() {
	if k == nil {
		return func() {}
	}
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
