// Package registry implements the session registry (C3): session
// creation, lookup, expiry, and the per-session lock that serializes
// msg_id progression and assumed-role mutation for a single session.
package registry

import (
	"sync"
	"time"

	"github.com/exampleorg/docrepo/pkg/apierr"
	"github.com/exampleorg/docrepo/pkg/session/expiry"
	"github.com/exampleorg/docrepo/pkg/session/replay"
)

// Session is the full server-side record of spec section 3: owning
// organization, subject, derived key, replay counter, expiry deadline, and
// the ordered multiset of roles the subject has assumed in this session.
//
// All mutable fields are guarded by mu; callers must hold it for the
// entire decrypt/handle/encrypt span of a request (design note in spec
// section 9) so msg_id progression and role mutation stay linearizable.
type Session struct {
	mu sync.Mutex

	ID           uint64
	Organization string
	Username     string
	Key          []byte

	replay *replay.Counter
	expiry *expiry.Tracker

	assumedRoles []string
}

// Config bundles the construction parameters for a new session.
type Config struct {
	Organization string
	Username     string
	Key          []byte
	Delta        time.Duration
	CreatedAt    time.Time
}

func newSession(id uint64, cfg Config) *Session {
	delta := cfg.Delta
	if delta <= 0 {
		delta = expiry.DefaultDelta
	}
	return &Session{
		ID:           id,
		Organization: cfg.Organization,
		Username:     cfg.Username,
		Key:          cfg.Key,
		replay:       replay.New(replay.Config{}),
		expiry:       expiry.New(expiry.Config{Delta: delta}, cfg.CreatedAt),
		assumedRoles: nil,
	}
}

// Lock acquires the session's per-session mutex. Unlock releases it.
// Handlers must hold the lock across the whole request span.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Accept validates msgID against expiry and replay state, in that order
// (spec section 4.4/4.8: expiry is checked on every server-side
// decapsulation, ahead of any other decision). The caller must hold the
// session lock.
func (s *Session) Accept(now time.Time, msgID uint64) error {
	if s.expiry.Expired(now) {
		return apierr.New(apierr.SessionExpired, "session expiration reached")
	}
	if err := s.replay.Accept(msgID); err != nil {
		return apierr.New(apierr.Replay, err.Error())
	}
	return nil
}

// NextResponseMsgID advances the stored msg_id past the just-accepted
// request value and returns the value the response envelope must carry
// (spec section 4.3: "incremented for the response"). The caller must
// hold the session lock and must have already called Accept successfully
// for the request's msg_id.
func (s *Session) NextResponseMsgID() uint64 {
	next := s.replay.Value() + 1
	s.replay.Advance(next)
	return next
}

// AssumeRole appends role to the assumed-roles multiset. The caller must
// hold the session lock and must already have verified role eligibility
// (existence, active state, membership) via the role engine.
func (s *Session) AssumeRole(role string) {
	s.assumedRoles = append(s.assumedRoles, role)
}

// DropRole removes the first occurrence of role from the assumed-roles
// multiset, if present. The caller must hold the session lock.
func (s *Session) DropRole(role string) {
	for i, r := range s.assumedRoles {
		if r == role {
			s.assumedRoles = append(s.assumedRoles[:i], s.assumedRoles[i+1:]...)
			return
		}
	}
}

// AssumedRoles returns a copy of the current assumed-roles list, in
// assumption order. The caller must hold the session lock.
func (s *Session) AssumedRoles() []string {
	out := make([]string, len(s.assumedRoles))
	copy(out, s.assumedRoles)
	return out
}

// FirstAssumedRole returns the earliest-assumed role, used by the
// document store to pick a deterministic initial ACL grantee (spec
// section 4.7 / design note on first-assumed-role). The caller must hold
// the session lock.
func (s *Session) FirstAssumedRole() (string, bool) {
	if len(s.assumedRoles) == 0 {
		return "", false
	}
	return s.assumedRoles[0], true
}

// HasAssumedRole reports whether role is currently assumed. The caller
// must hold the session lock.
func (s *Session) HasAssumedRole(role string) bool {
	for _, r := range s.assumedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Expired reports whether the session has passed its expiration deadline.
func (s *Session) Expired(now time.Time) bool {
	return s.expiry.Expired(now)
}

// Registry stores sessions keyed by session_id, guarded by a single
// RWMutex protecting the map itself (per-session fields have their own
// lock, per spec section 5).
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
}

// New constructs an empty session registry.
func New() *Registry {
	return &Registry{sessions: make(map[uint64]*Session)}
}

// Put allocates a fresh session_id, stores the session under it, and
// returns the new session (its ID field holds the allocated session_id).
func (r *Registry) Put(cfg Config) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sess := newSession(r.nextID, cfg)
	r.sessions[sess.ID] = sess
	return sess
}

// Get looks up a session by ID, returning apierr.SessionUnknown if absent.
func (r *Registry) Get(id uint64) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, apierr.New(apierr.SessionUnknown, "no such session")
	}
	return sess, nil
}

// DeleteExpired removes every session whose expiry deadline has passed as
// of now. Lazy sweeping is sufficient per spec section 5; this may also
// be driven by a periodic background sweep.
func (r *Registry) DeleteExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, sess := range r.sessions {
		if sess.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Count returns the current number of live (not-yet-swept) sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
