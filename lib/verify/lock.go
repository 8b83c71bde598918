package verify

import "sync"

// keyLock hands out one mutex per challenge key. Entries are dropped once the
// last holder releases them.
type keyLock struct {
	lock  sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: map[string]*refMutex{}}
}

// Lock blocks until key is free and returns the function that frees it.
func (k *keyLock) Lock(key string) func() {
	k.lock.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.lock.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.lock.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.lock.Unlock()
	}
}

func (k *keyLock) len() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return len(k.locks)
}
