package org

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/exampleorg/docrepo/pkg/apierr"
	"github.com/exampleorg/docrepo/pkg/crypto/aead"
)

func TestAuthorizeAllowsAssumedRoleWithPermission(t *testing.T) {
	o := newTestOrg(t)
	sess := SessionView{Subject: "alice", AssumedRoles: []string{ManagersRole}}

	if err := o.Authorize(context.Background(), nil, sess, PermSubjectNew, nil); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestAuthorizeDeniesWithoutAssumedRole(t *testing.T) {
	o := newTestOrg(t)
	sess := SessionView{Subject: "alice"}

	err := o.Authorize(context.Background(), nil, sess, PermSubjectNew, nil)
	if apierr.AsError(err).Kind != apierr.PermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
}

func TestAuthorizeDeniesSuspendedSubject(t *testing.T) {
	o := newTestOrg(t)
	if err := o.AddSubject(Subject{Username: "bob", State: SubjectActive}); err != nil {
		t.Fatalf("add subject: %v", err)
	}
	if err := o.AddMember(ManagersRole, "bob"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := o.SetSubjectState("bob", SubjectSuspended); err != nil {
		t.Fatalf("suspend bob: %v", err)
	}

	sess := SessionView{Subject: "bob", AssumedRoles: []string{ManagersRole}}
	err := o.Authorize(context.Background(), nil, sess, PermSubjectNew, nil)
	if apierr.AsError(err).Kind != apierr.SubjectInactive {
		t.Fatalf("expected SUBJECT_INACTIVE, got %v", err)
	}
}

func TestAuthorizeEnforcesDocumentACL(t *testing.T) {
	o := newTestOrg(t)
	blobs := newMemBlobStore()

	plaintext := []byte("hello")
	sum := sha256.Sum256(plaintext)
	fileHandle := hex.EncodeToString(sum[:])
	key := make([]byte, aead.KeySize)
	nonce, ciphertext, err := aead.Encrypt(key, plaintext, []byte(fileHandle))
	if err != nil {
		t.Fatalf("encrypt document: %v", err)
	}
	doc, err := o.IngestDocument("d1", "alice", fileHandle, key, "AES-256-GCM", ManagersRole, time.Now(), append(nonce, ciphertext...), blobs)
	if err != nil {
		t.Fatalf("ingest document: %v", err)
	}

	sess := SessionView{Subject: "alice", AssumedRoles: []string{ManagersRole}}
	if err := o.Authorize(context.Background(), nil, sess, PermDocRead, doc); err != nil {
		t.Fatalf("expected allow before ACL revocation, got %v", err)
	}

	if err := o.ReplaceACL("d1", ACLRevoke, ManagersRole, PermDocRead); err != nil {
		t.Fatalf("revoke DOC_READ: %v", err)
	}
	updated, err := o.Metadata("d1")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}

	err = o.Authorize(context.Background(), nil, sess, PermDocRead, &updated)
	if apierr.AsError(err).Kind != apierr.ACLDenied {
		t.Fatalf("expected ACL_DENIED after revocation, got %v", err)
	}
}
