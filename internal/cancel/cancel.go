// Package cancel provides a cooperative cancellation token for long-running
// single-threaded walk/diff/execute loops. Callers poll it at iteration
// boundaries rather than relying on goroutine preemption.
package cancel

import "sync/atomic"

// Token is a cooperative cancellation flag. The zero value is a valid,
// not-yet-cancelled token. Safe for concurrent use.
type Token struct {
	fired atomic.Bool
}

// New returns a fresh, not-yet-cancelled Token.
func New() *Token {
	return &Token{}
}

// Cancel marks the token as fired. Idempotent.
func (t *Token) Cancel() {
	t.fired.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.fired.Load()
}
