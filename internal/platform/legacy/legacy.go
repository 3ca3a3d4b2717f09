// Package legacy imports flat key-value exports from the old record
// keeper into the document store. Each legacy key holds a JSON array of
// records for one resource type; a completion marker makes the import a
// one-time operation.
package legacy

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// KV is the minimal key-value surface the importer reads from.
type KV interface {
	// Get returns the value for key and whether the key exists.
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// FileKV is a KV backed by one file per key inside a directory.
type FileKV struct {
	dir string
}

// NewFileKV opens dir as a key-value root, creating it when absent.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key)
}

func (f *FileKV) Get(key string) ([]byte, bool, error) {
	raw, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (f *FileKV) Put(key string, value []byte) error {
	return os.WriteFile(f.path(key), value, 0o600)
}

func (f *FileKV) Delete(key string) error {
	err := os.Remove(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
