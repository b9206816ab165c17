package engine

import "sync"

// keyedMutex provides one exclusive lock per int64 key. Entries are created
// on demand and removed once the last holder releases them, so idle users
// cost nothing.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for the key and returns its release function.
func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[int64]*lockEntry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
