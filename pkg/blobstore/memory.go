// Package blobstore provides an in-process implementation of org.BlobStore,
// the content-addressed byte-store the spec treats as an external
// collaborator (spec section 1). It exists so cmd/server can run standalone
// without a real object-storage dependency; production deployments are
// expected to supply their own BlobStore.
package blobstore

import (
	"sync"

	"github.com/exampleorg/docrepo/pkg/apierr"
)

// Memory is a concurrency-safe in-memory BlobStore keyed by file handle.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory constructs an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Put(fileHandle string, ciphertext []byte) error {
	cp := make([]byte, len(ciphertext))
	copy(cp, ciphertext)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[fileHandle] = cp
	return nil
}

func (m *Memory) Get(fileHandle string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[fileHandle]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "no blob for file handle")
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

func (m *Memory) Delete(fileHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, fileHandle)
	return nil
}
