package document

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalFileStore keeps uploads on the local filesystem under a single root.
// Stored paths are always relative; anything trying to climb out of the root
// is rejected.
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("document: create store root: %w", err)
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) Save(ctx context.Context, storedPath string, content io.Reader) (int64, error) {
	full, err := s.resolve(storedPath)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("document: create dir: %w", err)
	}

	file, err := os.Create(full)
	if err != nil {
		return 0, fmt.Errorf("document: create file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, content)
	if err != nil {
		os.Remove(full)
		return 0, fmt.Errorf("document: write file: %w", err)
	}
	return written, nil
}

func (s *LocalFileStore) Remove(ctx context.Context, storedPath string) error {
	full, err := s.resolve(storedPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("document: remove file: %w", err)
	}
	return nil
}

func (s *LocalFileStore) resolve(storedPath string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(storedPath))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("document: path %q escapes store root", storedPath)
	}
	return full, nil
}

var _ FileStore = (*LocalFileStore)(nil)
