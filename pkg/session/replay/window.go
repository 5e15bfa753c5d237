// Package replay enforces the session registry's msg_id monotonicity
// invariant (C3): for any accepted request on a session, the new msg_id
// must strictly exceed the stored one.
package replay

import (
	"errors"
	"sync"
)

// Counter tracks the last accepted msg_id for one session. Unlike the
// teacher's bounded sliding window, this enforces strict monotonicity with
// no out-of-order tolerance, per spec section 4.3/8.
type Counter struct {
	mu    sync.Mutex
	value uint64
}

// Config is kept for symmetry with the rest of the session subsystem; the
// strict counter has no tunable depth.
type Config struct{}

// ErrReplay indicates the supplied msg_id did not strictly exceed the
// session's last accepted msg_id.
var ErrReplay = errors.New("replay: msg_id is not greater than last accepted")

// New creates a replay counter starting at zero, matching a freshly created
// session's msg_id.
func New(_ Config) *Counter {
	return &Counter{}
}

// Accept validates msgID against the stored value and, if accepted,
// advances the stored value to msgID.
func (c *Counter) Accept(msgID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msgID <= c.value {
		return ErrReplay
	}
	c.value = msgID
	return nil
}

// Advance forcibly sets the stored msg_id, used when the server increments
// it again to produce the response's msg_id (section 4.3).
func (c *Counter) Advance(msgID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msgID > c.value {
		c.value = msgID
	}
}

// Value returns the last accepted msg_id.
func (c *Counter) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
