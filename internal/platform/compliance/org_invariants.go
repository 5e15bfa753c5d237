package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/exampleorg/docrepo/pkg/org"
)

// NewManagersInvariantCheck builds a Check that audits, across every
// organization in store, the managers-role invariants: the role stays
// active, it holds every administrative permission, and it retains at
// least one active member. Intended to run on demand or on a periodic
// sweep alongside the rest of a deployment's compliance posture.
func NewManagersInvariantCheck(store *org.Store) Check {
	return CheckFunc(func(ctx context.Context) Result {
		var evidence []Evidence
		var failures []string

		for _, name := range store.List() {
			o, err := store.Get(name)
			if err != nil {
				continue
			}

			state, err := o.RoleState(org.ManagersRole)
			if err != nil || state != org.RoleActive {
				failures = append(failures, fmt.Sprintf("%s: managers role is not active", name))
				continue
			}

			perms, err := o.RolePermissions(org.ManagersRole)
			if err != nil || !holdsAllAdminPermissions(perms) {
				failures = append(failures, fmt.Sprintf("%s: managers is missing an administrative permission", name))
				continue
			}

			members, err := o.Members(org.ManagersRole)
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: managers membership unreadable: %v", name, err))
				continue
			}
			active := 0
			for _, m := range members {
				subj, err := o.Subject(m)
				if err == nil && subj.State == org.SubjectActive {
					active++
				}
			}
			if active == 0 {
				failures = append(failures, fmt.Sprintf("%s: managers has no active member", name))
				continue
			}
			evidence = append(evidence, Evidence{Key: name, Value: fmt.Sprintf("%d active managers", active)})
		}

		if len(failures) > 0 {
			return Result{
				Name:     "managers_invariants",
				Status:   StatusFail,
				Details:  strings.Join(failures, "; "),
				Evidence: evidence,
			}
		}
		return Result{
			Name:     "managers_invariants",
			Status:   StatusPass,
			Evidence: evidence,
		}
	})
}

func holdsAllAdminPermissions(have []org.Permission) bool {
	set := make(map[org.Permission]struct{}, len(have))
	for _, p := range have {
		set[p] = struct{}{}
	}
	for _, want := range org.AllAdministrativePermissions() {
		if _, ok := set[want]; !ok {
			return false
		}
	}
	return true
}
