package identity

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Storage is the durable key-value port the resolver persists through. It
// stands in for browser local storage: one small string per key, surviving
// restarts, cleared only by wiping the backing store.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

var ErrStorageUnavailable = errors.New("identity storage unavailable")

// FileStorage keeps each key as a file under a directory. Writes go through
// a tmp file + rename so a crash never leaves a truncated value.
type FileStorage struct {
	Dir string
}

func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{Dir: strings.TrimSpace(dir)}
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.Dir, key)
}

func (s *FileStorage) Get(key string) (string, bool, error) {
	if s == nil || s.Dir == "" {
		return "", false, ErrStorageUnavailable
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (s *FileStorage) Set(key, value string) error {
	if s == nil || s.Dir == "" {
		return ErrStorageUnavailable
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, []byte(value+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(key))
}

// MemoryStorage is an in-process Storage, used in tests and as the ephemeral
// fallback when the durable store cannot be reached.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string]string{}}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
