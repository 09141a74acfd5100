// Package storage persists document files.
//
// JSONFile guards every access with an in-process read/write lock and a
// cross-process flock on path+".lock". Writes go to path+".tmp" first and
// are renamed into place, so readers never observe a partial file.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"
)

// Store reads and writes the raw bytes of one document file
type Store interface {
	// Read returns the stored bytes, or nil when nothing has been stored yet
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored bytes
	Write(ctx context.Context, data []byte) error
}

// Updater is a Store that can run a read-modify-write cycle under one lock
type Updater interface {
	Store
	Update(ctx context.Context, fn func(data []byte) ([]byte, error)) error
}

// Defaults for file locking
const (
	DefaultLockTimeout = 3 * time.Second
	lockMaxRetries     = 3
	lockRetryDelay     = 100 * time.Millisecond
)

// ErrLockTimeout is returned when the file lock could not be acquired
var ErrLockTimeout = errors.New("timed out waiting for file lock")

// JSONFile is a Store backed by a single file
type JSONFile struct {
	path        string
	fs          FileSystem
	lockFactory LockFactory
	fileLock    FileLock
	lockTimeout time.Duration
	perm        fs.FileMode
	locks       LockManager
	logger      *slog.Logger
}

// Option configures a JSONFile
type Option func(*JSONFile)

// WithFileSystem sets a custom FileSystem implementation
func WithFileSystem(fsys FileSystem) Option {
	return func(s *JSONFile) {
		s.fs = fsys
	}
}

// WithLockFactory sets a custom LockFactory implementation
func WithLockFactory(factory LockFactory) Option {
	return func(s *JSONFile) {
		s.lockFactory = factory
	}
}

// WithLockTimeout bounds how long a single operation waits for the file lock
func WithLockTimeout(d time.Duration) Option {
	return func(s *JSONFile) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithPerm sets the permissions of newly written files
func WithPerm(perm fs.FileMode) Option {
	return func(s *JSONFile) {
		s.perm = perm
	}
}

// WithLogger sets the logger used for debug output
func WithLogger(logger *slog.Logger) Option {
	return func(s *JSONFile) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewJSONFile creates a store for path. Nothing is touched on disk until the
// first Read or Write.
func NewJSONFile(path string, opts ...Option) *JSONFile {
	s := &JSONFile{
		path:        path,
		lockTimeout: DefaultLockTimeout,
		perm:        0644,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.fs == nil {
		s.fs = OSFileSystem{}
	}
	if s.lockFactory == nil {
		s.lockFactory = FlockFactory{}
	}
	s.fileLock = s.lockFactory.New(s.LockPath())
	return s
}

// Path returns the document file path
func (s *JSONFile) Path() string {
	return s.path
}

// LockPath returns the path of the lock file
func (s *JSONFile) LockPath() string {
	return s.path + ".lock"
}

// Read implements Store. A missing or empty file reads as nil.
func (s *JSONFile) Read(ctx context.Context) ([]byte, error) {
	// The lock file lives next to the document; no directory means no document
	if dir := s.dir(); dir != "." {
		if _, err := s.fs.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
	}

	var data []byte
	err := s.locks.Execute(ReadOperation, func() error {
		return s.withFileLock(ctx, func() error {
			var err error
			data, err = s.read()
			return err
		})
	})
	return data, err
}

// Write implements Store
func (s *JSONFile) Write(ctx context.Context, data []byte) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	return s.locks.Execute(WriteOperation, func() error {
		return s.withFileLock(ctx, func() error {
			return s.write(data)
		})
	})
}

// Update reads the file, passes its content to fn and writes fn's result
// back, all under one lock. A nil result from fn leaves the file untouched.
func (s *JSONFile) Update(ctx context.Context, fn func(data []byte) ([]byte, error)) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	return s.locks.Execute(WriteOperation, func() error {
		return s.withFileLock(ctx, func() error {
			current, err := s.read()
			if err != nil {
				return err
			}
			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				return nil
			}
			return s.write(next)
		})
	})
}

func (s *JSONFile) withFileLock(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if err := s.acquireLock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.Warn("failed to release file lock", "path", s.LockPath(), "error", err)
		}
	}()
	return fn()
}

// acquireLock attempts to take the file lock with bounded retries
func (s *JSONFile) acquireLock(ctx context.Context) error {
	for i := 0; i < lockMaxRetries; i++ {
		locked, err := s.fileLock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrLockTimeout, s.LockPath())
			}
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if locked {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrLockTimeout, s.LockPath())
			}
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return fmt.Errorf("%w: %s (after %d attempts)", ErrLockTimeout, s.LockPath(), lockMaxRetries)
}

func (s *JSONFile) dir() string {
	return filepath.Dir(s.path)
}

func (s *JSONFile) ensureDir() error {
	if dir := s.dir(); dir != "." {
		if err := s.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// read loads the file; the caller holds the locks
func (s *JSONFile) read() ([]byte, error) {
	if _, err := s.fs.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	s.logger.Debug("document file read", "path", s.path, "bytes", len(data))
	return data, nil
}

// write replaces the file atomically; the caller holds the locks
func (s *JSONFile) write(data []byte) error {
	tmp := s.path + ".tmp"
	if err := s.fs.WriteFile(tmp, data, s.perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	s.logger.Debug("document file written", "path", s.path, "bytes", len(data))
	return nil
}
