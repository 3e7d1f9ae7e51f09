// Package blobstore implements the document blob store (C2): immutable,
// content-addressed-by-name storage under a (index, document_id, file_name)
// path, per the "objects are immutable once written" policy.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a (index, documentID, name) tuple has no
// stored object.
var ErrNotFound = errors.New("blobstore: not found")

// Store persists and retrieves file bytes under the pipeline's layout.
type Store interface {
	Save(ctx context.Context, index, documentID, name string, data []byte) error
	Load(ctx context.Context, index, documentID, name string) ([]byte, error)
	Delete(ctx context.Context, index, documentID, name string) error
	// DeleteDocument removes every object under (index, documentID).
	DeleteDocument(ctx context.Context, index, documentID string) error
}

func objectKey(index, documentID, name string) string {
	return index + "/" + documentID + "/" + name
}
