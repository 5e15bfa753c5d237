// Package params validates handshake and session parameters: the
// configurable expiration window Delta and the minimum password length
// guard noted as an open question in the spec design notes.
package params

import (
	"fmt"
	"time"

	"github.com/exampleorg/docrepo/pkg/crypto/sign"
)

// Config bounds the acceptable session expiration window.
type Config struct {
	MinDelta          time.Duration
	MaxDelta          time.Duration
	MinPasswordLength int
}

// Parameters describes a negotiated session's tunables.
type Parameters struct {
	Delta            time.Duration
	PasswordLength   int
	PasswordProvided bool
}

// Enforcer validates session parameters against configured policy.
type Enforcer struct {
	cfg Config
}

// New builds an Enforcer from the given configuration, filling in defaults
// for unset fields: MinDelta one minute, MaxDelta 24 hours, and
// MinPasswordLength sign.MinPasswordBytes.
func New(cfg Config) *Enforcer {
	if cfg.MinDelta <= 0 {
		cfg.MinDelta = time.Minute
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = 24 * time.Hour
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = sign.MinPasswordBytes
	}
	return &Enforcer{cfg: cfg}
}

// Validate ensures the parameters respect configured policy.
func (e *Enforcer) Validate(p Parameters) error {
	if p.Delta < e.cfg.MinDelta {
		return fmt.Errorf("params: expiration delta %s below minimum %s", p.Delta, e.cfg.MinDelta)
	}
	if p.Delta > e.cfg.MaxDelta {
		return fmt.Errorf("params: expiration delta %s exceeds maximum %s", p.Delta, e.cfg.MaxDelta)
	}
	if p.PasswordProvided && p.PasswordLength < e.cfg.MinPasswordLength {
		return fmt.Errorf("params: password must be at least %d bytes", e.cfg.MinPasswordLength)
	}
	return nil
}
