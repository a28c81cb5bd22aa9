// Package latch implements the typed one-way completion flag used to signal
// upstream-done across pipeline stages: downstream stages read it to decide
// between waiting for more work and draining what remains.
package latch

import "sync"

// Flag is a one-way latch: it starts unset, can be Set exactly once (later
// calls are no-ops), and Done() returns a channel that is closed when the
// flag is set, so callers can select on it alongside other channels.
type Flag struct {
	once sync.Once
	done chan struct{}
}

// New returns an unset Flag.
func New() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Set marks the flag as complete. Safe to call more than once or from
// multiple goroutines.
func (f *Flag) Set() {
	f.once.Do(func() { close(f.done) })
}

// IsSet reports whether Set has been called.
func (f *Flag) IsSet() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed exactly when Set is first called.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}
