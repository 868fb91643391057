// Package lock provides per-entity locking for the engine hot paths.
// Spins lock on the user key, code verification on the code key and game
// moves on the session key; unrelated entities never contend.
package lock

import (
	"context"
	"sync"
	"time"
)

// entry wraps a mutex with a reference count so idle entries can be
// removed from the map once the last holder or waiter is gone.
type entry struct {
	mu       sync.Mutex
	refCount int
}

// KeyedLock provides mutual exclusion scoped to a string key.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyedLock creates a new KeyedLock instance.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*entry)}
}

// acquire returns the entry for key, creating it if needed, and takes a
// reference on it.
func (kl *KeyedLock) acquire(key string) *entry {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	e := kl.entries[key]
	if e == nil {
		e = &entry{}
		kl.entries[key] = e
	}
	e.refCount++
	return e
}

// releaseRef drops one reference on key's entry, deleting it at zero.
func (kl *KeyedLock) releaseRef(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	e := kl.entries[key]
	if e == nil {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(kl.entries, key)
	}
}

// Lock acquires the lock for a key, blocking until it is available.
func (kl *KeyedLock) Lock(key string) {
	e := kl.acquire(key)
	e.mu.Lock()
}

// Unlock releases the lock for a key.
func (kl *KeyedLock) Unlock(key string) {
	kl.mu.Lock()
	e := kl.entries[key]
	if e == nil {
		kl.mu.Unlock()
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(kl.entries, key)
	}
	kl.mu.Unlock()

	e.mu.Unlock()
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired.
func (kl *KeyedLock) TryLock(key string) bool {
	e := kl.acquire(key)
	if e.mu.TryLock() {
		return true
	}
	kl.releaseRef(key)
	return false
}

// LockWithTimeout attempts to acquire the lock, giving up after the timeout
// or when the context is cancelled. Returns true if the lock was acquired.
func (kl *KeyedLock) LockWithTimeout(ctx context.Context, key string, timeout time.Duration) bool {
	e := kl.acquire(key)

	done := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		return true
	case <-timeoutCtx.Done():
		// The waiting goroutine will eventually acquire the mutex; release
		// it and our reference once it does.
		go func() {
			<-done
			e.mu.Unlock()
			kl.releaseRef(key)
		}()
		return false
	}
}

// WithLock executes fn while holding the key's lock.
func (kl *KeyedLock) WithLock(key string, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLockContext executes fn while holding the key's lock, failing with
// ErrLockTimeout if the lock cannot be acquired in time.
func (kl *KeyedLock) WithLockContext(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	if !kl.LockWithTimeout(ctx, key, timeout) {
		return ErrLockTimeout
	}
	defer kl.Unlock(key)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// Len returns the number of live lock entries. Exposed for tests.
func (kl *KeyedLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.entries)
}
