package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"pictor/internal/apperr"
)

// FileStore writes derivative files below Root. Directories are created on
// first write; every write goes through a temp file and an atomic rename so
// readers never see a partially written derivative.
type FileStore struct {
	Root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, &apperr.StorageError{Op: "mkdir", Path: root, Err: err}
	}
	return &FileStore{Root: root}, nil
}

// Write stores data at path, creating parent directories if absent.
func (s *FileStore) Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &apperr.StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	tmpPath := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString()[:8])
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return &apperr.StorageError{Op: "create", Path: tmpPath, Err: err}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &apperr.StorageError{Op: "write", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &apperr.StorageError{Op: "fsync", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return &apperr.StorageError{Op: "close", Path: path, Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &apperr.StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// Read returns the content of path. A missing file yields apperr.ErrNotFound.
func (s *FileStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, &apperr.StorageError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// Open opens path for streaming. The caller closes the file.
func (s *FileStore) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, &apperr.StorageError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

// CopyFrom streams r into path using the same atomic write as Write.
func (s *FileStore) CopyFrom(path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &apperr.StorageError{Op: "read", Path: path, Err: err}
	}
	return s.Write(path, data)
}

// Exists reports whether path is a regular file.
func (s *FileStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Size returns the size of path in bytes, 0 if it does not exist.
func (s *FileStore) Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Remove deletes path. A file that is already gone is not an error.
func (s *FileStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &apperr.StorageError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// PruneEmpty removes dir and then each empty parent up to, but excluding,
// Root. It stops at the first directory that still has entries.
func (s *FileStore) PruneEmpty(dir string) error {
	root := filepath.Clean(s.Root)
	dir = filepath.Clean(dir)

	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				dir = filepath.Dir(dir)
				continue
			}
			return &apperr.StorageError{Op: "readdir", Path: dir, Err: err}
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &apperr.StorageError{Op: "rmdir", Path: dir, Err: err}
		}
		dir = filepath.Dir(dir)
	}
	return nil
}
