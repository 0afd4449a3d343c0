package dedup

import "sync"

// KeyedLock serializes work per fingerprint so two concurrent runs can
// never both classify the same notice as New and double-insert it.
type KeyedLock struct {
	mu sync.Mutex
	m  map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{m: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (kl *KeyedLock) Lock(key string) func() {
	kl.mu.Lock()
	e, ok := kl.m[key]
	if !ok {
		e = &entry{}
		kl.m[key] = e
	}
	e.refs++
	kl.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		kl.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(kl.m, key)
		}
		kl.mu.Unlock()
	}
}
