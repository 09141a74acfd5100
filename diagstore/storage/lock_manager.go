package storage

import "sync"

// OperationType selects shared or exclusive in-process locking
type OperationType int

const (
	// ReadOperation may run concurrently with other reads
	ReadOperation OperationType = iota

	// WriteOperation excludes every other operation
	WriteOperation
)

// LockManager serializes operations on one store within a process. The file
// lock covers other processes; goroutines sharing a store also queue here.
type LockManager struct {
	mu sync.RWMutex
}

// Execute runs fn holding the lock that matches opType
func (lm *LockManager) Execute(opType OperationType, fn func() error) error {
	switch opType {
	case ReadOperation:
		lm.mu.RLock()
		defer lm.mu.RUnlock()
	default:
		lm.mu.Lock()
		defer lm.mu.Unlock()
	}
	return fn()
}
