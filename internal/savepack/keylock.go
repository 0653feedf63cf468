package savepack

import "sync"

// keyLocks is an arena of per-key mutexes. One global lock would
// serialize packaging across unrelated games; per-key locks keep
// cross-game parallelism while still forbidding two packaging runs
// from interleaving writes to the same archive path.
type keyLocks struct {
	mu    sync.Mutex
	inUse map[string]struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{inUse: make(map[string]struct{})}
}

// tryAcquire claims the key, returning false if it is already held.
func (k *keyLocks) tryAcquire(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, held := k.inUse[key]; held {
		return false
	}
	k.inUse[key] = struct{}{}
	return true
}

func (k *keyLocks) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.inUse, key)
}
