package org

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/exampleorg/docrepo/pkg/apierr"
	"github.com/exampleorg/docrepo/pkg/crypto/aead"
)

type memBlobStore struct {
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (m *memBlobStore) Put(fileHandle string, ciphertext []byte) error {
	cp := make([]byte, len(ciphertext))
	copy(cp, ciphertext)
	m.blobs[fileHandle] = cp
	return nil
}

func (m *memBlobStore) Get(fileHandle string) ([]byte, error) {
	blob, ok := m.blobs[fileHandle]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "no such blob")
	}
	return blob, nil
}

func (m *memBlobStore) Delete(fileHandle string) error {
	delete(m.blobs, fileHandle)
	return nil
}

// ingestPlaintext mimics the client's pre-upload steps (spec section 6.3's
// POST /organizations/documents): compute the file handle, generate a
// document key, encrypt under AES-256-GCM, and hand the already-sealed blob
// to IngestDocument, the same shape the server itself stores.
func ingestPlaintext(t *testing.T, o *Organization, name, creator, firstAssumedRole string, plaintext []byte, now time.Time, blobs BlobStore) (*Document, string) {
	t.Helper()
	sum := sha256.Sum256(plaintext)
	fileHandle := hex.EncodeToString(sum[:])

	key := make([]byte, aead.KeySize)
	nonce, ciphertext, err := aead.Encrypt(key, plaintext, []byte(fileHandle))
	if err != nil {
		t.Fatalf("encrypt document: %v", err)
	}
	blob := append(nonce, ciphertext...)

	doc, err := o.IngestDocument(name, creator, fileHandle, key, "AES-256-GCM", firstAssumedRole, now, blob, blobs)
	if err != nil {
		t.Fatalf("ingest document: %v", err)
	}
	return doc, fileHandle
}

func TestIngestDocumentGrantsFirstAssumedRoleFullACL(t *testing.T) {
	o := newTestOrg(t)
	blobs := newMemBlobStore()

	doc, wantHandle := ingestPlaintext(t, o, "d1", "alice", ManagersRole, []byte("hello"), time.Now(), blobs)

	if doc.FileHandle == nil || *doc.FileHandle != wantHandle {
		t.Fatalf("unexpected file handle: %+v", doc.FileHandle)
	}

	perms := doc.ACL[ManagersRole]
	for _, want := range documentPermissions() {
		if _, ok := perms[want]; !ok {
			t.Fatalf("expected %s granted to %s, got %v", want, ManagersRole, perms)
		}
	}
}

func TestGetDocumentFileRoundTrip(t *testing.T) {
	o := newTestOrg(t)
	blobs := newMemBlobStore()

	ingestPlaintext(t, o, "d1", "alice", ManagersRole, []byte("hello"), time.Now(), blobs)

	plaintext, err := o.GetDocumentFile("d1", blobs)
	if err != nil {
		t.Fatalf("get document file: %v", err)
	}
	if !bytes.Equal(plaintext, []byte("hello")) {
		t.Fatalf("plaintext mismatch: got %q", plaintext)
	}
}

func TestGetDocumentFileDetectsTampering(t *testing.T) {
	o := newTestOrg(t)
	blobs := newMemBlobStore()

	doc, _ := ingestPlaintext(t, o, "d1", "alice", ManagersRole, []byte("hello"), time.Now(), blobs)

	blob := blobs.blobs[*doc.FileHandle]
	blob[len(blob)-1] ^= 0xff

	if _, err := o.GetDocumentFile("d1", blobs); apierr.AsError(err).Kind != apierr.IntegrityFail {
		t.Fatalf("expected INTEGRITY_FAIL, got %v", err)
	}
}

func TestDeleteDocumentSemantics(t *testing.T) {
	o := newTestOrg(t)
	blobs := newMemBlobStore()

	doc, formerHandle := ingestPlaintext(t, o, "d1", "alice", ManagersRole, []byte("hello"), time.Now(), blobs)
	_ = doc

	deleted, err := o.DeleteDocument("d1", blobs)
	if err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if deleted != formerHandle {
		t.Fatalf("expected deleted handle %q, got %q", formerHandle, deleted)
	}

	meta, err := o.Metadata("d1")
	if err != nil {
		t.Fatalf("metadata after delete: %v", err)
	}
	if meta.FileHandle != nil {
		t.Fatal("expected nil file handle after delete")
	}

	if _, err := o.GetDocumentFile("d1", blobs); apierr.AsError(err).Kind != apierr.DocGone {
		t.Fatalf("expected DOC_GONE after delete, got %v", err)
	}
}

func TestReplaceACLRejectsRemovingLastDocACLHolder(t *testing.T) {
	o := newTestOrg(t)
	blobs := newMemBlobStore()

	ingestPlaintext(t, o, "d1", "alice", ManagersRole, []byte("hello"), time.Now(), blobs)

	if err := o.ReplaceACL("d1", ACLRevoke, ManagersRole, PermDocACL); err == nil {
		t.Fatal("expected rejection removing the last role holding DOC_ACL")
	}
}

func TestReplaceACLAllowsRevokeAfterGrantingAnotherRole(t *testing.T) {
	o := newTestOrg(t)
	blobs := newMemBlobStore()

	if err := o.CreateRole("editors"); err != nil {
		t.Fatalf("create role: %v", err)
	}
	ingestPlaintext(t, o, "d1", "alice", ManagersRole, []byte("hello"), time.Now(), blobs)

	if err := o.ReplaceACL("d1", ACLGrant, "editors", PermDocACL); err != nil {
		t.Fatalf("grant DOC_ACL to editors: %v", err)
	}
	if err := o.ReplaceACL("d1", ACLRevoke, ManagersRole, PermDocACL); err != nil {
		t.Fatalf("revoke DOC_ACL from managers: %v", err)
	}
}
