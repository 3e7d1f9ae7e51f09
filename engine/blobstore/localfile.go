package blobstore

import (
	"context"
	"os"
	"path/filepath"
)

// LocalFileStore persists blobs under baseDir/<index>/<document_id>/<name>,
// the "Persisted layout" profile for local/dev use.
type LocalFileStore struct {
	baseDir string
}

func NewLocalFileStore(baseDir string) *LocalFileStore {
	return &LocalFileStore{baseDir: baseDir}
}

func (s *LocalFileStore) path(index, documentID, name string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(index), filepath.FromSlash(documentID), filepath.FromSlash(name))
}

func (s *LocalFileStore) Save(_ context.Context, index, documentID, name string, data []byte) error {
	p := s.path(index, documentID, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (s *LocalFileStore) Load(_ context.Context, index, documentID, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(index, documentID, name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *LocalFileStore) Delete(_ context.Context, index, documentID, name string) error {
	err := os.Remove(s.path(index, documentID, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalFileStore) DeleteDocument(_ context.Context, index, documentID string) error {
	dir := filepath.Join(s.baseDir, filepath.FromSlash(index), filepath.FromSlash(documentID))
	return os.RemoveAll(dir)
}

var _ Store = (*LocalFileStore)(nil)
