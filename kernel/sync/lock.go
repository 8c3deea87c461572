package sync

import (
	"sync"
)

// Lock is a blocking mutual exclusion lock. Unlike Spinlock, a thread that
// fails to acquire a Lock is put to sleep until the lock is released.
type Lock struct {
	name string
	mu   sync.Mutex
}

// NewLock returns a new named lock.
func NewLock(name string) *Lock {
	return &Lock{name: name}
}

// Name returns the name the lock was created with.
func (l *Lock) Name() string { return l.name }

// Acquire blocks until the lock is held by the caller.
func (l *Lock) Acquire() {
	l.mu.Lock()
}

// Release relinquishes the lock. Releasing a lock that is not held is a
// fatal error.
func (l *Lock) Release() {
	l.mu.Unlock()
}

// CV is a condition variable. Every CV operation must be invoked while
// holding the lock that protects the condition being waited on.
type CV struct {
	name string

	// mu protects the waiter list. It is only ever held for the duration
	// of a list update.
	mu      sync.Mutex
	waiters []chan struct{}
}

// NewCV returns a new named condition variable.
func NewCV(name string) *CV {
	return &CV{name: name}
}

// Name returns the name the condition variable was created with.
func (cv *CV) Name() string { return cv.name }

// Wait atomically releases lk and suspends the caller until it is woken up
// by Signal or Broadcast. The lock is re-acquired before Wait returns. As
// with every condition variable, callers must re-check their condition after
// Wait returns.
func (cv *CV) Wait(lk *Lock) {
	wakeCh := make(chan struct{})

	cv.mu.Lock()
	cv.waiters = append(cv.waiters, wakeCh)
	cv.mu.Unlock()

	lk.Release()
	<-wakeCh
	lk.Acquire()
}

// Signal wakes up one of the threads sleeping on the condition variable.
func (cv *CV) Signal(_ *Lock) {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	if len(cv.waiters) == 0 {
		return
	}

	close(cv.waiters[0])
	cv.waiters = cv.waiters[1:]
}

// Broadcast wakes up all threads sleeping on the condition variable.
func (cv *CV) Broadcast(_ *Lock) {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	for _, wakeCh := range cv.waiters {
		close(wakeCh)
	}
	cv.waiters = nil
}
