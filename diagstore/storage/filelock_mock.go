package storage

import (
	"context"
	"sync"
	"time"
)

// MockFileLock is an in-memory FileLock for tests
type MockFileLock struct {
	mu     sync.Mutex
	locked bool

	LockError   error
	UnlockError error

	LockAttempts   int
	UnlockAttempts int
}

// TryLockContext takes the lock if it is free. A held lock reports false
// without waiting.
func (l *MockFileLock) TryLockContext(ctx context.Context, retryDelay time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.LockAttempts++
	if l.LockError != nil {
		return false, l.LockError
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if l.locked {
		return false, nil
	}
	l.locked = true
	return true, nil
}

func (l *MockFileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.UnlockAttempts++
	if l.UnlockError != nil {
		return l.UnlockError
	}
	l.locked = false
	return nil
}

// IsLocked reports whether the lock is held
func (l *MockFileLock) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// MockLockFactory hands out one MockFileLock per path
type MockLockFactory struct {
	mu    sync.Mutex
	locks map[string]*MockFileLock
}

// NewMockLockFactory creates an empty factory
func NewMockLockFactory() *MockLockFactory {
	return &MockLockFactory{locks: make(map[string]*MockFileLock)}
}

// New implements LockFactory
func (f *MockLockFactory) New(path string) FileLock {
	return f.Lock(path)
}

// Lock returns the mock lock for path, creating it on first use
func (f *MockLockFactory) Lock(path string) *MockFileLock {
	f.mu.Lock()
	defer f.mu.Unlock()

	lock, ok := f.locks[path]
	if !ok {
		lock = &MockFileLock{}
		f.locks[path] = lock
	}
	return lock
}
