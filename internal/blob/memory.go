package blob

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
)

// Memory implements Store backed by process memory. It doubles as the
// analogue for session-scoped browser storage and as the test driver.
type Memory struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

// NewMemory returns an empty in-memory blob store.
func NewMemory() *Memory { return &Memory{objs: make(map[string][]byte)} }

// Driver reports the backend identifier.
func (s *Memory) Driver() Driver { return DriverMemory }

// Read returns a copy of the stored blob.
func (s *Memory) Read(_ context.Context, p string) ([]byte, bool, error) {
	key, err := sanitizePath(p)
	if err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	data, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

// Write stores a copy of the content.
func (s *Memory) Write(_ context.Context, p string, data []byte) error {
	key, err := sanitizePath(p)
	if err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.objs[key] = cp
	s.mu.Unlock()
	return nil
}

// Delete removes the blob if present.
func (s *Memory) Delete(_ context.Context, p string) error {
	key, err := sanitizePath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objs, key)
	s.mu.Unlock()
	return nil
}

// List returns matching paths sorted ascending.
func (s *Memory) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	out := make([]string, 0, len(s.objs))
	for key := range s.objs {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Rename moves a blob, replacing any existing target.
func (s *Memory) Rename(_ context.Context, oldPath, newPath string) error {
	oldKey, err := sanitizePath(oldPath)
	if err != nil {
		return err
	}
	newKey, err := sanitizePath(newPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objs[oldKey]
	if !ok {
		return fmt.Errorf("rename %s: %w", oldPath, fs.ErrNotExist)
	}
	s.objs[newKey] = data
	delete(s.objs, oldKey)
	return nil
}
