// Package memory is the bot's path-addressed key-value document with an
// explicit save step.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Backend persists the whole memory document.
type Backend interface {
	Load(ctx context.Context) (map[string]any, error)
	Save(ctx context.Context, document map[string]any) error
	Close() error
}

// Store is the in-process view of the memory document. Changes are only
// persisted by Save.
type Store struct {
	backend Backend
	log     *slog.Logger

	mu    sync.RWMutex
	data  map[string]any
	dirty bool
}

// Open loads the document from backend.
func Open(ctx context.Context, backend Backend, log *slog.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("memory backend is required")
	}
	if log == nil {
		log = slog.Default()
	}

	data, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	if data == nil {
		data = make(map[string]any)
	}

	return &Store{
		backend: backend,
		log:     log.With("component", "memory.store"),
		data:    data,
	}, nil
}

// NewInMemory returns a store that is never persisted.
func NewInMemory() *Store {
	return &Store{
		backend: discardBackend{},
		log:     slog.Default().With("component", "memory.store"),
		data:    make(map[string]any),
	}
}

// Get returns the value at path.
func (s *Store) Get(path ...string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lookup(s.data, path)
}

// Exists reports whether path holds a value.
func (s *Store) Exists(path ...string) bool {
	_, ok := s.Get(path...)
	return ok
}

// Bool returns the value at path when it is a bool.
func (s *Store) Bool(path ...string) (bool, bool) {
	value, ok := s.Get(path...)
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// Set stores value at path, creating intermediate maps. It fails when an
// intermediate element exists and is not a map.
func (s *Store) Set(value any, path ...string) error {
	if len(path) == 0 {
		return errors.New("memory path is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.data
	for i, key := range path[:len(path)-1] {
		next, ok := node[key]
		if !ok {
			child := make(map[string]any)
			node[key] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("memory path %s is not a map", strings.Join(path[:i+1], "."))
		}
		node = child
	}

	node[path[len(path)-1]] = value
	s.dirty = true
	return nil
}

// Delete removes the value at path and reports whether it existed.
func (s *Store) Delete(path ...string) bool {
	if len(path) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := lookup(s.data, path[:len(path)-1])
	if !ok {
		return false
	}
	node, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := node[path[len(path)-1]]; !ok {
		return false
	}

	delete(node, path[len(path)-1])
	s.dirty = true
	return true
}

// Validate adds top-level defaults for keys that are missing.
func (s *Store) Validate(defaults map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range defaults {
		if _, ok := s.data[key]; ok {
			continue
		}
		s.data[key] = value
		s.dirty = true
	}
}

// Save persists the document when it changed since the last save.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	if err := s.backend.Save(ctx, s.data); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}

	s.dirty = false
	s.log.Debug("Memory saved")
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func lookup(data map[string]any, path []string) (any, bool) {
	var node any = data
	for _, key := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}

	return node, true
}

type discardBackend struct{}

func (discardBackend) Load(context.Context) (map[string]any, error) { return nil, nil }
func (discardBackend) Save(context.Context, map[string]any) error   { return nil }
func (discardBackend) Close() error                                 { return nil }
