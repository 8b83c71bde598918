package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

var (
	registry map[string]Factory = map[string]Factory{}
	regLock  sync.RWMutex
)

// Factory builds a store backend from its JSON parameters. Backends register
// a Factory under their name in an init function.
type Factory interface {
	Build(ctx context.Context, config json.RawMessage) (Interface, error)
	Valid(config json.RawMessage) error
}

func Register(name string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, method)
	}
	sort.Strings(result)
	return result
}

// Build looks up the named backend and builds it with the given parameters.
func Build(ctx context.Context, name string, config json.RawMessage) (Interface, error) {
	fac, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q, known backends: %v", ErrBadConfig, name, Methods())
	}

	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}

	if err := fac.Valid(config); err != nil {
		return nil, err
	}

	return fac.Build(ctx, config)
}
