package storage

import (
	"context"
	"time"

	"github.com/gofrs/flock"
)

// FileLock is a cross-process exclusive lock
type FileLock interface {
	// TryLockContext retries every retryDelay until the lock is taken or ctx
	// is done
	TryLockContext(ctx context.Context, retryDelay time.Duration) (bool, error)

	// Unlock releases the lock
	Unlock() error
}

// LockFactory creates the lock guarding a path
type LockFactory interface {
	New(path string) FileLock
}

// FlockFactory creates advisory locks with github.com/gofrs/flock
type FlockFactory struct{}

// New implements LockFactory
func (FlockFactory) New(path string) FileLock {
	return flock.New(path)
}
