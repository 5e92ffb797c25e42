package alerts

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDefinitionNotFound is returned when removing an unknown definition
	ErrDefinitionNotFound  = errors.New("alert definition not found")
	ErrDuplicateDefinition = errors.New("duplicate alert definition id")
)

// Store keeps alert definitions in insertion order
type Store interface {
	Add(def Definition) error
	Remove(id string) error
	ListBySymbol(symbol string) []Definition
	List() []Definition
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu   sync.RWMutex
	defs []Definition
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add appends def; IDs must be unique
func (s *MemoryStore) Add(def Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.defs {
		if d.ID == def.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateDefinition, def.ID)
		}
	}
	s.defs = append(s.defs, def)
	return nil
}

// Remove deletes the definition with the given id
func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, d := range s.defs {
		if d.ID == id {
			s.defs = append(s.defs[:i], s.defs[i+1:]...)
			return nil
		}
	}
	return ErrDefinitionNotFound
}

// ListBySymbol returns the definitions scoped to symbol
func (s *MemoryStore) ListBySymbol(symbol string) []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Definition, 0)
	for _, d := range s.defs {
		if d.Symbol == symbol {
			out = append(out, d)
		}
	}
	return out
}

// List returns a copy of every definition
func (s *MemoryStore) List() []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Definition, len(s.defs))
	copy(out, s.defs)
	return out
}
