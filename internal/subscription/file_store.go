package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists subscriptions as one JSON object mapping user id to
// descriptor. Every mutation re-reads the file and rewrites it atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by the file at path. The parent
// directory is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file. A missing file yields an empty map.
func (s *FileStore) Load() (map[string]Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Upsert rewrites the file with ep stored under userID.
func (s *FileStore) Upsert(userID string, ep Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}
	current[userID] = ep
	return s.write(current)
}

// Delete rewrites the file without userID.
func (s *FileStore) Delete(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := current[userID]; !ok {
		return nil
	}
	delete(current, userID)
	return s.write(current)
}

// Close is a no-op; the file is never held open.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (map[string]Endpoint, error) {
	out := make(map[string]Endpoint)

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions %s: %w", s.path, err)
	}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode subscriptions %s: %w", s.path, err)
	}
	return out, nil
}

func (s *FileStore) write(subs map[string]Endpoint) error {
	b, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create subscriptions dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".subscriptions-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace subscriptions file: %w", err)
	}
	return nil
}
