// Package storage keeps uploaded material files on local disk, addressed by
// opaque storage keys.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory failed: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

// Save streams r into the file for key and returns the byte count.
func (s *FileStore) Save(key string, r io.Reader) (int64, error) {
	path, err := s.path(key)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create stored file failed: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return 0, fmt.Errorf("write stored file failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close stored file failed: %w", err)
	}
	return n, nil
}

// Open returns the stored file for reading.
func (s *FileStore) Open(key string) (*os.File, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stored file failed: %w", err)
	}
	return f, nil
}

// Path exposes the on-disk location, used for download responses.
func (s *FileStore) Path(key string) (string, error) {
	return s.path(key)
}

// Remove deletes the stored file. A missing file is not an error.
func (s *FileStore) Remove(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stored file failed: %w", err)
	}
	return nil
}
