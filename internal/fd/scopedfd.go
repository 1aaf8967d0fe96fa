// Package fd provides ScopedFd, the scoped-acquisition file descriptor
// wrapper spec.md §5 requires: guaranteed release on every exit path,
// including unwinding due to errors. Grounded directly in the teacher's
// own cleanup idiom (engine/replay.go's debuggerLoop: "defer
// es.rrFile.Close()", "defer es.gdbSession.Exit()") generalized from two
// ad hoc defers into one reusable, idempotent-Close type.
package fd

import (
	"os"
	"sync"
)

// ScopedFd wraps an *os.File so Close is safe to call more than once (the
// second and subsequent calls are no-ops), matching the teacher's pattern
// of deferring a close that may also be triggered explicitly earlier in
// the same function.
type ScopedFd struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// New wraps an already-open file.
func New(f *os.File) *ScopedFd {
	return &ScopedFd{file: f}
}

// Open opens path with the given flags/perm and wraps the result.
func Open(path string, flags int, perm os.FileMode) (*ScopedFd, error) {
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

// File returns the underlying *os.File, or nil if Close has already run.
func (s *ScopedFd) File() *os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.file
}

// Valid reports whether the descriptor is still open.
func (s *ScopedFd) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close releases the descriptor. Safe to call multiple times and from a
// deferred call after an earlier explicit Close.
func (s *ScopedFd) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
