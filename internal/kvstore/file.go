package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File persists keys as a single JSON document. Every mutation rewrites the
// file via temp-file + rename, so a crash never leaves a torn write and
// multi-key deletes are atomic.
type File struct {
	mu   sync.Mutex
	path string
	m    map[string]string
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("kvstore: file path is required")
	}
	s := &File{path: path, m: make(map[string]string)}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.m); err != nil {
			return nil, fmt.Errorf("kvstore: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fresh store
	default:
		return nil, fmt.Errorf("kvstore: read %s: %w", path, err)
	}
	return s, nil
}

func (s *File) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *File) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return s.persistLocked()
}

func (s *File) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return s.persistLocked()
}

func (s *File) DeleteMany(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.m, k)
	}
	return s.persistLocked()
}

func (s *File) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]string)
	return s.persistLocked()
}

func (s *File) persistLocked() error {
	data, err := json.MarshalIndent(s.m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
