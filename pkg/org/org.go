// Package org implements the organization & subject store (C5), the role &
// permission engine (C6), document metadata & ACL (C7), and the
// authorization decision point (C8). They share one package, split across
// files, because the data model is a cyclic graph (roles reference
// subjects and vice versa, documents reference roles) that the spec's own
// design notes resolve by having the organization own both maps and
// everything else refer to them by name rather than by pointer — there is
// no clean subset of that graph that imports another subset without a
// cycle.
package org

import (
	"fmt"
	"sync"
	"time"

	"github.com/exampleorg/docrepo/pkg/apierr"
)

// SubjectState is the subject lifecycle state (spec section 3).
type SubjectState string

const (
	SubjectActive    SubjectState = "active"
	SubjectSuspended SubjectState = "suspended"
)

// Subject is a user identity within an organization.
type Subject struct {
	Username     string
	Name         string
	Email        string
	PublicKeyPEM []byte
	State        SubjectState
}

// Organization is the top-level container: subjects, roles, documents, and
// the name of the subject that created it.
type Organization struct {
	mu sync.RWMutex

	Name    string
	Creator string

	subjects  map[string]*Subject
	roles     map[string]*Role
	documents map[string]*Document
}

// Store holds organizations keyed by name, each with its own lock, per
// spec section 5 ("the organization store uses per-organization locks").
type Store struct {
	mu    sync.RWMutex
	byName map[string]*Organization
}

// NewStore constructs an empty organization store.
func NewStore() *Store {
	return &Store{byName: make(map[string]*Organization)}
}

// CreateOrganization bootstraps a new organization (spec section 4.2's
// create_org): rejects if the name is already taken, otherwise persists
// the creator subject and the built-in managers role containing it with
// every administrative permission.
func (s *Store) CreateOrganization(name string, creator Subject, createdAt time.Time) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, apierr.New(apierr.Conflict, fmt.Sprintf("organization %q already exists", name))
	}

	creator.State = SubjectActive
	o := &Organization{
		Name:      name,
		Creator:   creator.Username,
		subjects:  map[string]*Subject{creator.Username: &creator},
		roles:     make(map[string]*Role),
		documents: make(map[string]*Document),
	}
	o.roles[ManagersRole] = &Role{
		Name:        ManagersRole,
		State:       RoleActive,
		Permissions: newPermissionSet(AllAdministrativePermissions()...),
		Members:     map[string]struct{}{creator.Username: {}},
	}
	s.byName[name] = o
	return o, nil
}

// Get looks up an organization by name.
func (s *Store) Get(name string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byName[name]
	if !ok {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("organization %q not found", name))
	}
	return o, nil
}

// List returns every organization name, for GET /organizations/.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	return names
}

// AddSubject creates a new subject within the organization (SUBJECT_NEW).
func (o *Organization) AddSubject(subj Subject) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.subjects[subj.Username]; exists {
		return apierr.New(apierr.Conflict, fmt.Sprintf("subject %q already exists", subj.Username))
	}
	if subj.State == "" {
		subj.State = SubjectActive
	}
	o.subjects[subj.Username] = &subj
	return nil
}

// Subject returns a copy of the subject record.
func (o *Organization) Subject(username string) (Subject, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	subj, ok := o.subjects[username]
	if !ok {
		return Subject{}, apierr.New(apierr.NotFound, fmt.Sprintf("subject %q not found", username))
	}
	return *subj, nil
}

// SubjectStates returns the given subject's (or, with an empty username,
// every subject's) state, for GET /organizations/subjects/state.
func (o *Organization) SubjectStates(username string) (map[string]SubjectState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if username != "" {
		subj, ok := o.subjects[username]
		if !ok {
			return nil, apierr.New(apierr.NotFound, fmt.Sprintf("subject %q not found", username))
		}
		return map[string]SubjectState{username: subj.State}, nil
	}
	out := make(map[string]SubjectState, len(o.subjects))
	for name, subj := range o.subjects {
		out[name] = subj.State
	}
	return out, nil
}

// SetSubjectState toggles a subject active/suspended (SUBJECT_DOWN/SUBJECT_UP).
// Suspending the organization's last active manager is rejected to preserve
// the managers non-emptiness invariant.
func (o *Organization) SetSubjectState(username string, state SubjectState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	subj, ok := o.subjects[username]
	if !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("subject %q not found", username))
	}

	if state == SubjectSuspended {
		if managers, ok := o.roles[ManagersRole]; ok {
			if _, isMember := managers.Members[username]; isMember {
				if o.countActiveMembersLocked(managers) <= 1 && subj.State == SubjectActive {
					return apierr.New(apierr.InvariantViolation, "managers must retain at least one active member")
				}
			}
		}
	}

	subj.State = state
	return nil
}

// countActiveMembersLocked counts role members whose subject state is
// active. Caller must hold o.mu.
func (o *Organization) countActiveMembersLocked(r *Role) int {
	count := 0
	for member := range r.Members {
		subj, ok := o.subjects[member]
		if ok && subj.State == SubjectActive {
			count++
		}
	}
	return count
}
