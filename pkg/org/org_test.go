package org

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestOrg(t *testing.T) *Organization {
	t.Helper()
	store := NewStore()
	o, err := store.CreateOrganization("acme", Subject{Username: "alice", Name: "Alice"}, time.Now())
	require.NoError(t, err)
	return o
}

func TestCreateOrganizationBootstrapsManagers(t *testing.T) {
	o := newTestOrg(t)

	members, err := o.Members(ManagersRole)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, members)

	perms, err := o.RolePermissions(ManagersRole)
	require.NoError(t, err)
	want := newPermissionSet(AllAdministrativePermissions()...)
	require.Len(t, perms, len(want))
}

func TestCreateOrganizationRejectsDuplicateName(t *testing.T) {
	store := NewStore()
	_, err := store.CreateOrganization("acme", Subject{Username: "alice"}, time.Now())
	require.NoError(t, err)

	_, err = store.CreateOrganization("acme", Subject{Username: "bob"}, time.Now())
	require.Error(t, err, "expected conflict on duplicate organization name")
}

func TestManagersInvariantBlocksLastMemberRemoval(t *testing.T) {
	o := newTestOrg(t)
	err := o.RemoveMember(ManagersRole, "alice")
	require.Error(t, err, "expected invariant violation removing the last active manager")
}

func TestManagersInvariantBlocksSuspendingLastActiveManager(t *testing.T) {
	o := newTestOrg(t)
	err := o.SetSubjectState("alice", SubjectSuspended)
	require.Error(t, err, "expected invariant violation suspending the last active manager")
}

func TestManagersInvariantAllowsRemovalAfterSecondManagerAdded(t *testing.T) {
	o := newTestOrg(t)
	require.NoError(t, o.AddSubject(Subject{Username: "bob", State: SubjectActive}))
	require.NoError(t, o.AddMember(ManagersRole, "bob"))
	require.NoError(t, o.RemoveMember(ManagersRole, "alice"))
}

func TestManagersCannotBeSuspendedOrStrippedOfPermissions(t *testing.T) {
	o := newTestOrg(t)
	err := o.SetRoleState(ManagersRole, RoleSuspended)
	require.Error(t, err, "expected invariant violation suspending managers")

	err = o.RemovePermission(ManagersRole, PermRoleMod)
	require.Error(t, err, "expected invariant violation stripping an administrative permission from managers")
}

func TestSubjectStateToggle(t *testing.T) {
	o := newTestOrg(t)
	require.NoError(t, o.AddSubject(Subject{Username: "bob", State: SubjectActive}))
	require.NoError(t, o.SetSubjectState("bob", SubjectSuspended))

	states, err := o.SubjectStates("bob")
	require.NoError(t, err)
	require.Equal(t, SubjectSuspended, states["bob"])
}
