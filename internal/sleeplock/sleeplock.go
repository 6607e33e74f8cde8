// Package sleeplock provides a mutual exclusion lock whose waiters sleep
// until the lock is released instead of spinning.
package sleeplock

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Lock is a blocking mutex that can report whether it is held.
//
// Unlike sync.Mutex, a Lock may be acquired with a context so that a waiter
// can give up. Callers that pass context.Background wait indefinitely.
type Lock struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// New returns an unlocked Lock.
func New() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.held.Store(true)
	return nil
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *Lock) TryLock() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.held.Store(true)
	return true
}

// Unlock releases the lock and wakes one waiter.
// It panics if the lock is not held.
func (l *Lock) Unlock() {
	if !l.held.CompareAndSwap(true, false) {
		panic("sleeplock: unlock of unlocked lock")
	}
	l.sem.Release(1)
}

// Held reports whether the lock is currently held.
func (l *Lock) Held() bool {
	return l.held.Load()
}
