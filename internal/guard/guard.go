// Package guard provides host-scoped mutual exclusion for provisioning runs.
//
// Exactly one run may be active per host. Concurrent runs risk colliding on
// auto-assigned VM identifiers, so a second invocation must fail fast rather
// than queue.
package guard

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// DefaultLockPath is the well-known lock file shared by all invocations on
// a host.
const DefaultLockPath = "/var/lock/kiln.lock"

// AlreadyRunningError indicates another invocation holds the host lock.
type AlreadyRunningError struct {
	Path string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("another run is already in progress (lock held on %s)", e.Path)
}

// IsAlreadyRunning reports whether err wraps an *AlreadyRunningError.
func IsAlreadyRunning(err error) bool {
	var are *AlreadyRunningError
	return errors.As(err, &are)
}

// Guard is a non-blocking, process-wide lock backed by flock(2). The kernel
// drops the lock when the process exits, whatever the exit path, so release
// never depends on reaching cleanup code. Release exists for tidy unlocking
// in tests and long-lived callers.
type Guard struct {
	lock *flock.Flock
	held bool
}

// New returns a guard over the given lock file path. The file is created on
// first acquisition and intentionally never removed (removing it would race
// a concurrent acquirer).
func New(path string) *Guard {
	return &Guard{lock: flock.New(path)}
}

// Acquire attempts to take the lock without blocking. Contention returns an
// *AlreadyRunningError; any other failure (permissions, missing directory)
// is returned wrapped.
func (g *Guard) Acquire() error {
	locked, err := g.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", g.lock.Path(), err)
	}
	if !locked {
		return &AlreadyRunningError{Path: g.lock.Path()}
	}
	g.held = true
	return nil
}

// Release drops the lock if held. Safe to call when the lock was never
// acquired.
func (g *Guard) Release() error {
	if !g.held {
		return nil
	}
	g.held = false
	if err := g.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", g.lock.Path(), err)
	}
	return nil
}

// Path returns the lock file path.
func (g *Guard) Path() string {
	return g.lock.Path()
}
