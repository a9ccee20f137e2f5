package transition

import (
	"sync"

	"github.com/google/uuid"
)

// Locker serializes work per alert ID. Lock blocks until the key is free and
// returns the matching unlock.
type Locker interface {
	Lock(id uuid.UUID) (unlock func())
}

type noLocker struct{}

func (noLocker) Lock(uuid.UUID) func() { return func() {} }

// KeyedMutex is an in-process Locker. Entries are dropped once nobody holds
// or waits for them.
type KeyedMutex struct {
	mu   sync.Mutex
	keys map[uuid.UUID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{keys: make(map[uuid.UUID]*keyedEntry)}
}

func (k *KeyedMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	e, ok := k.keys[id]
	if !ok {
		e = &keyedEntry{}
		k.keys[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.keys, id)
		}
		k.mu.Unlock()
	}
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}
