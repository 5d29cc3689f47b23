package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// NameStore remembers the last display name between runs.
type NameStore interface {
	Load() (string, error)
	Save(name string) error
}

// FileNameStore keeps the name in a small text file.
type FileNameStore struct {
	path string
}

// NewFileNameStore returns a store backed by path.
func NewFileNameStore(path string) *FileNameStore {
	return &FileNameStore{path: path}
}

// Load returns the stored name, or "" when nothing was saved yet.
func (s *FileNameStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load name: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save replaces the stored name.
func (s *FileNameStore) Save(name string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("save name: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(name+"\n"), 0o600); err != nil {
		return fmt.Errorf("save name: %w", err)
	}
	return nil
}

// DefaultNameFile is where the terminal client keeps the last name.
func DefaultNameFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "roomchat", "name")
}

type discardNameStore struct{}

func (discardNameStore) Load() (string, error) { return "", nil }
func (discardNameStore) Save(string) error     { return nil }
