// Package correlation keeps the single-use registries that let state attached
// to an outgoing message reappear when its echo arrives back at the bot.
package correlation

import (
	"sync"

	"github.com/google/uuid"
)

// Operation names reported to observers.
const (
	OpRegister = "register"
	OpResolve  = "resolve"
	OpMiss     = "miss"
)

// ObserveFunc receives one registry operation.
type ObserveFunc func(kind string, op string)

// Store maps random ids to values; each id resolves at most once.
type Store[T any] struct {
	kind    string
	observe ObserveFunc

	mu    sync.Mutex
	items map[string]T
}

// NewStore builds an empty store. kind labels the store for observers.
func NewStore[T any](kind string, observe ObserveFunc) *Store[T] {
	return &Store[T]{
		kind:    kind,
		observe: observe,
		items:   make(map[string]T),
	}
}

// Register stores value under a fresh id that is not in use.
func (s *Store[T]) Register(value T) string {
	s.mu.Lock()
	var id string
	for {
		id = uuid.NewString()
		if _, exists := s.items[id]; !exists {
			break
		}
	}
	s.items[id] = value
	s.mu.Unlock()

	s.report(OpRegister)
	return id
}

// Resolve returns and forgets the value for id.
func (s *Store[T]) Resolve(id string) (T, bool) {
	s.mu.Lock()
	value, ok := s.items[id]
	if ok {
		delete(s.items, id)
	}
	s.mu.Unlock()

	if ok {
		s.report(OpResolve)
	} else {
		s.report(OpMiss)
	}

	return value, ok
}

// Len returns the number of unresolved ids.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

func (s *Store[T]) report(op string) {
	if s.observe != nil {
		s.observe(s.kind, op)
	}
}
