// Package filestore persists the session record as a JSON file on local disk.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	"github.com/target/sessionkeeper/internal/ports"
)

const defaultFileMode = 0o600

// Store is a file-backed ports.StatePersister. Writes go to a temporary file in
// the same directory and are renamed into place.
type Store struct {
	path string

	mu          sync.Mutex
	lastWritten []byte
}

var _ ports.StatePersister = (*Store)(nil)

// NewStore returns a store writing to dir/<key>.json.
func NewStore(dir, key string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("filestore: directory is required")
	}
	if key == "" {
		return nil, errors.New("filestore: key is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, key+".json")}, nil
}

// Path returns the file the session is persisted to.
func (s *Store) Path() string { return s.path }

func (s *Store) Load(_ context.Context) (domainauth.PersistedState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domainauth.PersistedState{}, ports.ErrNotFound
		}
		return domainauth.PersistedState{}, fmt.Errorf("read session file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return domainauth.PersistedState{}, ports.ErrNotFound
	}

	var st domainauth.PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return domainauth.PersistedState{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return st, nil
}

func (s *Store) Save(_ context.Context, state domainauth.PersistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		return errors.Join(fmt.Errorf("write temp file: %w", err), tmp.Close(), os.Remove(tmpName))
	}
	if err := tmp.Chmod(defaultFileMode); err != nil {
		return errors.Join(fmt.Errorf("chmod temp file: %w", err), tmp.Close(), os.Remove(tmpName))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("close temp file: %w", err), os.Remove(tmpName))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Join(fmt.Errorf("rename session file: %w", err), os.Remove(tmpName))
	}

	s.lastWritten = data
	return nil
}

// wroteLast reports whether data matches the last payload this store wrote.
func (s *Store) wroteLast(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWritten != nil && bytes.Equal(s.lastWritten, data)
}
