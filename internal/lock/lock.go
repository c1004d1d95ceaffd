// Package lock provides the per-project single-writer discipline used when
// capture and audit runs update a project's pointers.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Locker serializes critical sections by key.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned unlock
	// function releases the key and is safe to call more than once.
	Lock(ctx context.Context, key string) (func(), error)
}

// ProjectKey returns the lock key guarding a project's pointer fields.
func ProjectKey(projectID string) string {
	return "scanara:lock:project:" + projectID
}

// CredentialKey returns the lock key guarding the binding of an API key.
// The key itself is hashed so it never reaches a shared lock store.
func CredentialKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "scanara:lock:key:" + hex.EncodeToString(sum[:16])
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// removed once no goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock implements Locker.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
