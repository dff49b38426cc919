package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath is used when no state path is configured.
const DefaultPath = "aion_state.txt"

// Store holds encoded state. Read reports ok=false when nothing has been
// saved yet.
type Store interface {
	Init(ctx context.Context) error
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context) (data []byte, ok bool, err error)
	Close() error
	// Location names the backing file for logs and error messages.
	Location() string
}

// NewStore returns the backend named by kind.
func NewStore(kind, path string) (Store, error) {
	if path == "" {
		path = DefaultPath
	}
	switch kind {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		return NewSQLiteStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// FileStore keeps state in a plain text file, replaced atomically on write.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Init(ctx context.Context) error {
	if s.path == "" {
		return errors.New("state path is required")
	}
	return nil
}

func (s *FileStore) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) Read(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Location() string { return s.path }
