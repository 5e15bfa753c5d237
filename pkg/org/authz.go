package org

import (
	"context"
	"fmt"

	"github.com/exampleorg/docrepo/internal/platform/policy"
	"github.com/exampleorg/docrepo/pkg/apierr"
)

// SessionView is the slice of session state the authorization decision
// point needs: the owning subject and the roles currently assumed. It is
// supplied by the session package rather than imported from it, keeping
// org free of a dependency on session internals.
type SessionView struct {
	Subject      string
	AssumedRoles []string
}

// Authorize implements the authorization decision point (C8, spec section
// 4.8): composes session validity (checked by the caller before this is
// reached), subject-active, required-permission-held-by-an-assumed-role,
// and (for document-scoped permissions) ACL checks, in that order. The
// first failing check dictates the denial reason.
func (o *Organization) Authorize(ctx context.Context, engine *policy.Engine, sess SessionView, required Permission, doc *Document) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	subj, ok := o.subjects[sess.Subject]
	if !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("subject %q not found", sess.Subject))
	}
	if subj.State != SubjectActive {
		return apierr.New(apierr.SubjectInactive, fmt.Sprintf("subject %q is suspended", sess.Subject))
	}

	// Document-scoped permissions (DOC_READ/DOC_DELETE/DOC_ACL) are never
	// recorded in a role's global Permissions set — they live in the
	// document's own ACL (document.go's IngestDocument/ReplaceACL). For
	// those, active membership is enough to make a role a candidate
	// grantor; evaluateDocumentACL below makes the real decision.
	docScoped := isDocumentPermission(required)

	grantingRole := ""
	for _, roleName := range sess.AssumedRoles {
		r, ok := o.roleSnapshot(roleName)
		if !ok || r.State != RoleActive {
			continue
		}
		if _, isMember := r.Members[sess.Subject]; !isMember {
			continue
		}
		if !docScoped {
			if _, hasPerm := r.Permissions[required]; !hasPerm {
				continue
			}
		}
		grantingRole = roleName
		break
	}
	if grantingRole == "" {
		return apierr.New(apierr.PermissionDenied, fmt.Sprintf("no assumed active role grants %s", required))
	}

	if doc == nil {
		return nil
	}

	allowed, err := evaluateDocumentACL(ctx, engine, grantingRole, required, doc.ACL)
	if err != nil {
		return fmt.Errorf("org: evaluate document acl: %w", err)
	}
	if !allowed {
		return apierr.New(apierr.ACLDenied, fmt.Sprintf("role %q lacks %s on document %q", grantingRole, required, doc.Name))
	}
	return nil
}

func evaluateDocumentACL(ctx context.Context, engine *policy.Engine, role string, perm Permission, acl map[string]map[Permission]struct{}) (bool, error) {
	if engine == nil {
		perms, ok := acl[role]
		if !ok {
			return false, nil
		}
		_, allowed := perms[perm]
		return allowed, nil
	}

	aclInput := make(map[string][]string, len(acl))
	for r, perms := range acl {
		names := make([]string, 0, len(perms))
		for p := range perms {
			names = append(names, string(p))
		}
		aclInput[r] = names
	}

	decision, err := engine.Evaluate(ctx, map[string]any{
		"role":       role,
		"permission": string(perm),
		"acl":        aclInput,
	})
	if err != nil {
		return false, err
	}
	return decision.Allow, nil
}
