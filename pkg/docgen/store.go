package docgen

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Store reads the hash recorded in an existing document and writes new ones.
type Store interface {
	ExistingHash(ctx context.Context, repo, file string) (hash string, ok bool, err error)
	Write(ctx context.Context, repo, file, sourceHash string, body []byte) error
}

// FileStore lays documents out as <root>/<repo>/<file>.md.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Path returns where the document for repo/file lives.
func (s *FileStore) Path(repo, file string) (string, error) {
	rel := filepath.Clean(filepath.Join(repo, file))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("document path %q escapes the docs root", filepath.Join(repo, file))
	}
	return filepath.Join(s.root, rel) + ".md", nil
}

func (s *FileStore) ExistingHash(_ context.Context, repo, file string) (string, bool, error) {
	path, err := s.Path(repo, file)
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}

	hash, ok := ParseHeader(data)
	return hash, ok, nil
}

// Write replaces the document atomically: readers see the old or the new
// file, never a partial one.
func (s *FileStore) Write(_ context.Context, repo, file, sourceHash string, body []byte) error {
	path, err := s.Path(repo, file)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".docgen-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(RenderDocument(sourceHash, body)); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
