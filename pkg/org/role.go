package org

import (
	"fmt"

	"github.com/exampleorg/docrepo/pkg/apierr"
)

// Permission is one entry of the spec section 3 permission enum.
type Permission string

const (
	PermRoleNew    Permission = "ROLE_NEW"
	PermRoleDown   Permission = "ROLE_DOWN"
	PermRoleUp     Permission = "ROLE_UP"
	PermRoleMod    Permission = "ROLE_MOD"
	PermRoleACL    Permission = "ROLE_ACL"
	PermSubjectNew Permission = "SUBJECT_NEW"
	PermSubjectDown Permission = "SUBJECT_DOWN"
	PermSubjectUp  Permission = "SUBJECT_UP"
	PermDocNew     Permission = "DOC_NEW"

	PermDocACL    Permission = "DOC_ACL"
	PermDocRead   Permission = "DOC_READ"
	PermDocDelete Permission = "DOC_DELETE"
)

// AllAdministrativePermissions returns the permissions that managers must
// always hold (spec section 3).
func AllAdministrativePermissions() []Permission {
	return []Permission{
		PermRoleNew, PermRoleDown, PermRoleUp, PermRoleMod, PermRoleACL,
		PermSubjectNew, PermSubjectDown, PermSubjectUp, PermDocNew,
	}
}

// documentPermissions are the three permissions that live inside a
// document's ACL rather than a role's global permission set.
func documentPermissions() []Permission {
	return []Permission{PermDocACL, PermDocRead, PermDocDelete}
}

// isDocumentPermission reports whether perm is granted per-document via a
// Document's ACL rather than a role's global Permissions set.
func isDocumentPermission(perm Permission) bool {
	for _, p := range documentPermissions() {
		if p == perm {
			return true
		}
	}
	return false
}

// ManagersRole is the name of the organization's built-in administrative
// role, auto-created on CreateOrganization.
const ManagersRole = "managers"

// RoleState is the role lifecycle state (spec section 3).
type RoleState string

const (
	RoleActive    RoleState = "active"
	RoleSuspended RoleState = "suspended"
)

// Role is a named bundle of permissions and members within an
// organization. Members are held by name (weak reference), per spec
// section 9's cyclic-object-graph design note.
type Role struct {
	Name        string
	State       RoleState
	Permissions map[Permission]struct{}
	Members     map[string]struct{}
}

func newPermissionSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// CreateRole adds a new, initially empty, active role (ROLE_NEW).
func (o *Organization) CreateRole(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.roles[name]; exists {
		return apierr.New(apierr.Conflict, fmt.Sprintf("role %q already exists", name))
	}
	o.roles[name] = &Role{
		Name:        name,
		State:       RoleActive,
		Permissions: newPermissionSet(),
		Members:     make(map[string]struct{}),
	}
	return nil
}

// SetRoleState suspends or reactivates a role (ROLE_DOWN/ROLE_UP). The
// managers role is pinned to active.
func (o *Organization) SetRoleState(name string, state RoleState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.roles[name]
	if !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("role %q not found", name))
	}
	if name == ManagersRole && state == RoleSuspended {
		return apierr.New(apierr.InvariantViolation, "managers cannot be suspended")
	}
	r.State = state
	return nil
}

// AddPermission grants a permission to a role (ROLE_MOD). Any permission
// name is accepted; a document-scoped permission recorded here is not
// consulted by Authorize, which reads those from the document's ACL.
func (o *Organization) AddPermission(role string, perm Permission) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.roles[role]
	if !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("role %q not found", role))
	}
	r.Permissions[perm] = struct{}{}
	return nil
}

// RemovePermission revokes a permission from a role (ROLE_MOD). Managers
// may never lose an administrative permission.
func (o *Organization) RemovePermission(role string, perm Permission) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.roles[role]
	if !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("role %q not found", role))
	}
	if role == ManagersRole {
		for _, admin := range AllAdministrativePermissions() {
			if admin == perm {
				return apierr.New(apierr.InvariantViolation, "managers cannot lose an administrative permission")
			}
		}
	}
	delete(r.Permissions, perm)
	return nil
}

// AddMember adds a subject to a role (ROLE_MOD semantics on membership).
func (o *Organization) AddMember(role, username string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.roles[role]
	if !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("role %q not found", role))
	}
	if _, ok := o.subjects[username]; !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("subject %q not found", username))
	}
	r.Members[username] = struct{}{}
	return nil
}

// RemoveMember removes a subject from a role. Removing the last active
// member of managers is rejected (spec section 4.6 invariant).
func (o *Organization) RemoveMember(role, username string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.roles[role]
	if !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("role %q not found", role))
	}
	if _, isMember := r.Members[username]; !isMember {
		return apierr.New(apierr.NotFound, fmt.Sprintf("subject %q is not a member of %q", username, role))
	}
	if role == ManagersRole {
		subj := o.subjects[username]
		if subj != nil && subj.State == SubjectActive && o.countActiveMembersLocked(r) <= 1 {
			return apierr.New(apierr.InvariantViolation, "managers must retain at least one active member")
		}
	}
	delete(r.Members, username)
	return nil
}

// RoleState returns a role's lifecycle state, used by assume_role (spec
// section 4.5) to reject assuming a suspended role.
func (o *Organization) RoleState(role string) (RoleState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.roles[role]
	if !ok {
		return "", apierr.New(apierr.NotFound, fmt.Sprintf("role %q not found", role))
	}
	return r.State, nil
}

// Members returns the member usernames of a role.
func (o *Organization) Members(role string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.roles[role]
	if !ok {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("role %q not found", role))
	}
	out := make([]string, 0, len(r.Members))
	for m := range r.Members {
		out = append(out, m)
	}
	return out, nil
}

// SubjectRoles returns every role name the subject belongs to.
func (o *Organization) SubjectRoles(username string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []string
	for name, r := range o.roles {
		if _, ok := r.Members[username]; ok {
			out = append(out, name)
		}
	}
	return out
}

// RolePermissions returns the permission set of a role.
func (o *Organization) RolePermissions(role string) ([]Permission, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.roles[role]
	if !ok {
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("role %q not found", role))
	}
	out := make([]Permission, 0, len(r.Permissions))
	for p := range r.Permissions {
		out = append(out, p)
	}
	return out, nil
}

// RolesWithPermission returns every role holding perm, active or suspended.
func (o *Organization) RolesWithPermission(perm Permission) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []string
	for name, r := range o.roles {
		if _, ok := r.Permissions[perm]; ok {
			out = append(out, name)
		}
	}
	return out
}

// roleSnapshot returns the stored role (not a copy) for read-only
// inspection by the authorization decision point. Caller must hold o.mu for
// reading and must not mutate the result.
func (o *Organization) roleSnapshot(name string) (*Role, bool) {
	r, ok := o.roles[name]
	return r, ok
}
