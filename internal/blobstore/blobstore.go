// Package blobstore keeps large job outputs out of job records.
// Records carry only a refID; the payload lives here.
package blobstore

import (
	"github.com/google/uuid"

	"github.com/warden/warden/internal/storage"
)

// DefaultInlineLimit is the largest payload kept inline in a job
// record before it is moved to the blob store.
const DefaultInlineLimit = 4 * 1024

// Store persists large payloads addressed by reference ID.
type Store struct {
	blobs storage.BlobStore
}

// New creates a blob store over the given backend.
func New(blobs storage.BlobStore) *Store {
	return &Store{blobs: blobs}
}

// Put stores content and returns its reference ID.
func (s *Store) Put(content []byte) (string, error) {
	id := uuid.New().String()
	if err := s.blobs.PutBlob(id, content); err != nil {
		return "", err
	}
	return id, nil
}

// Get retrieves content by reference ID.
func (s *Store) Get(refID string) ([]byte, error) {
	return s.blobs.GetBlob(refID)
}

// Delete removes content by reference ID.
func (s *Store) Delete(refID string) error {
	return s.blobs.DeleteBlob(refID)
}

// PutIfLarge stores content only when it exceeds limit. It returns the
// reference ID and whether the content was externalized.
func (s *Store) PutIfLarge(content []byte, limit int) (string, bool, error) {
	if limit <= 0 {
		limit = DefaultInlineLimit
	}
	if len(content) <= limit {
		return "", false, nil
	}
	id, err := s.Put(content)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
