package verify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Checker looks for a challenge's proof at the location its method names.
//
// Verify returns true only when the proof is observable right now. Lookup
// failures of any kind (resolution errors, timeouts, bad responses) are
// reported as false; implementations log the cause to lg instead of returning it.
type Checker interface {
	Verify(ctx context.Context, lg *slog.Logger, ch *Challenge) bool
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, lg *slog.Logger, ch *Challenge) bool

func (f CheckerFunc) Verify(ctx context.Context, lg *slog.Logger, ch *Challenge) bool {
	return f(ctx, lg, ch)
}

var (
	registry map[Method]Checker = map[Method]Checker{}
	regLock  sync.RWMutex
)

// Register makes impl the default checker for method. Checker packages call
// it from init.
func Register(method Method, impl Checker) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[method] = impl
}

func Get(method Method) (Checker, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[method]
	return result, ok
}

// Registered returns the methods that have a default checker, sorted.
func Registered() []Method {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []Method
	for method := range registry {
		result = append(result, method)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
