package org

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/exampleorg/docrepo/pkg/apierr"
	"github.com/exampleorg/docrepo/pkg/crypto/aead"
)

// BlobStore is the external collaborator contract for content-addressed
// ciphertext storage, keyed by file handle (spec section 1: "document blob
// storage, treated as a content-addressed byte-store keyed by a SHA-256
// file handle"). The core never touches ciphertext bytes outside of this
// interface.
type BlobStore interface {
	Put(fileHandle string, ciphertext []byte) error
	Get(fileHandle string) ([]byte, error)
	Delete(fileHandle string) error
}

// Document is a repository document's metadata and ACL (spec section 3).
// FileHandle is nil once the document has been deleted; metadata and ACL
// persist regardless.
type Document struct {
	Name       string
	Creator    string
	CreatedAt  time.Time
	FileHandle *string
	Key        []byte
	Alg        string
	ACL        map[string]map[Permission]struct{}
}

// DateFilter selects documents by creation date relative to a reference
// day (spec section 6.3 / design note): "newer than", "older than" or
// "equal to", compared at day granularity in UTC.
type DateFilter string

const (
	DateFilterNewerThan DateFilter = "nt"
	DateFilterOlderThan DateFilter = "ot"
	DateFilterEqual     DateFilter = "eq"
)

// IngestDocument stores the caller-encrypted ciphertext into blobs under
// fileHandle and registers the document's metadata (spec section 6.3 POST
// /organizations/documents, which carries the already-encrypted file
// alongside its declared key and handle rather than plaintext). The
// declared file_handle is trusted at ingest time; integrity is verified
// again on every read.
func (o *Organization) IngestDocument(name, creator, fileHandle string, key []byte, alg string, firstAssumedRole string, now time.Time, ciphertext []byte, blobs BlobStore) (*Document, error) {
	if err := blobs.Put(fileHandle, ciphertext); err != nil {
		return nil, fmt.Errorf("org: store ciphertext: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.documents[name]; exists {
		return nil, apierr.New(apierr.Conflict, fmt.Sprintf("document %q already exists", name))
	}

	fh := fileHandle
	doc := &Document{
		Name:       name,
		Creator:    creator,
		CreatedAt:  now,
		FileHandle: &fh,
		Key:        key,
		Alg:        alg,
		ACL:        make(map[string]map[Permission]struct{}),
	}
	if firstAssumedRole != "" {
		doc.ACL[firstAssumedRole] = newPermissionSet(documentPermissions()...)
	}
	o.documents[name] = doc
	return doc, nil
}

// Metadata returns a document's metadata (including a nil FileHandle if
// deleted); the ACL remains readable regardless of deletion.
func (o *Organization) Metadata(name string) (Document, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	doc, ok := o.documents[name]
	if !ok {
		return Document{}, apierr.New(apierr.NotFound, fmt.Sprintf("document %q not found", name))
	}
	return *doc, nil
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	Creator    string
	DateFilter DateFilter
	Date       time.Time
	HasDate    bool
}

// ListDocuments returns metadata for every document matching filter.
func (o *Organization) ListDocuments(filter DocumentFilter) []Document {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []Document
	for _, doc := range o.documents {
		if filter.Creator != "" && doc.Creator != filter.Creator {
			continue
		}
		if filter.HasDate && !matchesDateFilter(doc.CreatedAt, filter.DateFilter, filter.Date) {
			continue
		}
		out = append(out, *doc)
	}
	return out
}

func matchesDateFilter(created time.Time, f DateFilter, ref time.Time) bool {
	createdDay := created.UTC().Truncate(24 * time.Hour)
	refDay := ref.UTC().Truncate(24 * time.Hour)
	switch f {
	case DateFilterNewerThan:
		return createdDay.After(refDay)
	case DateFilterOlderThan:
		return createdDay.Before(refDay)
	case DateFilterEqual:
		return createdDay.Equal(refDay)
	default:
		return true
	}
}

// ACLOp is the operation requested by POST /organizations/documents/acl.
type ACLOp string

const (
	ACLGrant  ACLOp = "+"
	ACLRevoke ACLOp = "-"
)

// ReplaceACL implements rep_acl_doc (spec section 4.7): mutates a
// document's ACL for one role/permission pair. Removing the last role
// carrying DOC_ACL is rejected.
func (o *Organization) ReplaceACL(docName string, op ACLOp, role string, perm Permission) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	doc, ok := o.documents[docName]
	if !ok {
		return apierr.New(apierr.NotFound, fmt.Sprintf("document %q not found", docName))
	}

	if op == ACLRevoke && perm == PermDocACL {
		holders := 0
		for r, perms := range doc.ACL {
			if _, ok := perms[PermDocACL]; ok && r != role {
				holders++
			}
		}
		if _, hasGrant := doc.ACL[role][PermDocACL]; hasGrant && holders == 0 {
			return apierr.New(apierr.InvariantViolation, "cannot remove the last role holding DOC_ACL")
		}
	}

	if doc.ACL[role] == nil {
		doc.ACL[role] = make(map[Permission]struct{})
	}
	switch op {
	case ACLGrant:
		doc.ACL[role][perm] = struct{}{}
	case ACLRevoke:
		delete(doc.ACL[role], perm)
	default:
		return apierr.New(apierr.BadRequest, fmt.Sprintf("unknown acl operation %q", op))
	}
	return nil
}

// DeleteDocument implements rep_delete_doc: nulls file_handle and returns
// its former value. Metadata and ACL remain readable.
func (o *Organization) DeleteDocument(name string, blobs BlobStore) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	doc, ok := o.documents[name]
	if !ok {
		return "", apierr.New(apierr.NotFound, fmt.Sprintf("document %q not found", name))
	}
	if doc.FileHandle == nil {
		return "", apierr.New(apierr.DocGone, fmt.Sprintf("document %q already deleted", name))
	}
	former := *doc.FileHandle
	if err := blobs.Delete(former); err != nil {
		return "", fmt.Errorf("org: delete ciphertext: %w", err)
	}
	doc.FileHandle = nil
	return former, nil
}

// GetDocumentFile implements rep_get_doc_file: fetches ciphertext, decrypts
// it, and verifies SHA-256(plaintext) == file_handle, returning
// INTEGRITY_FAIL on mismatch and DOC_GONE if the document was deleted.
func (o *Organization) GetDocumentFile(name string, blobs BlobStore) ([]byte, error) {
	o.mu.RLock()
	doc, ok := o.documents[name]
	if !ok {
		o.mu.RUnlock()
		return nil, apierr.New(apierr.NotFound, fmt.Sprintf("document %q not found", name))
	}
	if doc.FileHandle == nil {
		o.mu.RUnlock()
		return nil, apierr.New(apierr.DocGone, fmt.Sprintf("document %q has been deleted", name))
	}
	fileHandle := *doc.FileHandle
	key := doc.Key
	o.mu.RUnlock()

	blob, err := blobs.Get(fileHandle)
	if err != nil {
		return nil, fmt.Errorf("org: fetch ciphertext: %w", err)
	}
	if len(blob) < aead.NonceSize {
		return nil, apierr.New(apierr.IntegrityFail, "stored blob too short to contain a nonce")
	}
	nonce, ciphertext := blob[:aead.NonceSize], blob[aead.NonceSize:]

	plaintext, err := aead.Decrypt(key, nonce, ciphertext, []byte(fileHandle))
	if err != nil {
		return nil, apierr.New(apierr.IntegrityFail, "stored ciphertext failed to decrypt")
	}

	sum := sha256.Sum256(plaintext)
	if hex.EncodeToString(sum[:]) != fileHandle {
		return nil, apierr.New(apierr.IntegrityFail, "plaintext hash does not match file handle")
	}
	return plaintext, nil
}
