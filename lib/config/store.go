package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oldschoolag/Faivr/lib/store"
	_ "github.com/oldschoolag/Faivr/lib/store/all"
)

var (
	ErrNoStoreBackend      = errors.New("config.Store: no backend defined")
	ErrUnknownStoreBackend = errors.New("config.Store: unknown backend")
)

// Store selects where pending verification challenges are kept.
type Store struct {
	Backend    string          `json:"backend"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

func (s *Store) Valid() error {
	if len(s.Backend) == 0 {
		return ErrNoStoreBackend
	}

	fac, ok := store.Get(s.Backend)
	if !ok {
		return fmt.Errorf("%w: %q, known backends: %v", ErrUnknownStoreBackend, s.Backend, store.Methods())
	}

	params := s.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	return fac.Valid(params)
}
