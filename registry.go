package permit

import (
	"sort"
	"sync"

	"github.com/oarkflow/permit/logger"
)

// ============================================================================
// POLICY REGISTRY
// ============================================================================

// Predicate decides whether the subject described by the context may perform
// the context's action on its resource. A non-nil error is treated as deny by
// the evaluator; predicates never fail open.
type Predicate func(pc *PolicyContext) (bool, error)

// Registry is a table of named predicates. Construct one per process (or per
// test) and inject it wherever policies are evaluated; there is no package
// level instance.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Predicate
	logger   logger.Logger
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		policies: make(map[string]Predicate),
		logger:   logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Register adds a predicate under name. Registering an existing name replaces
// the previous predicate (last writer wins); the overwrite is logged so a
// colliding name does not go unnoticed.
func (r *Registry) Register(name string, pred Predicate) {
	if name == "" || pred == nil {
		return
	}
	r.mu.Lock()
	_, existed := r.policies[name]
	r.policies[name] = pred
	r.mu.Unlock()
	if existed {
		r.logger.Info("policy overwritten", "policy", name)
	}
}

// Get returns the predicate registered under name.
func (r *Registry) Get(name string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pred, ok := r.policies[name]
	return pred, ok
}

// Names returns the registered policy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every registration. Test support.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.policies {
		delete(r.policies, name)
	}
}
