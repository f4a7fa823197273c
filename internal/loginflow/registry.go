package loginflow

import (
	"fmt"
	"slices"
	"sync"

	"github.com/openkcm/auth-oidc/internal/serviceerr"
)

// DefaultFlow is used when no login flow is configured.
const DefaultFlow = "authcode"

// Constructor builds a flow from its dependencies.
type Constructor func(deps Deps) (Flow, error)

type Registry struct {
	mu    sync.RWMutex
	flows map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{
		flows: make(map[string]Constructor),
	}
}

// Register adds a flow under name, replacing any earlier registration.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flows[name] = c
}

// Names lists the registered flows in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// New instantiates the flow registered under name. An empty name selects
// DefaultFlow.
func (r *Registry) New(name string, deps Deps) (Flow, error) {
	if name == "" {
		name = DefaultFlow
	}

	r.mu.RLock()
	c, ok := r.flows[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", serviceerr.ErrUnknownLoginFlow, name, r.Names())
	}

	flow, err := c(deps)
	if err != nil {
		return nil, fmt.Errorf("initialising login flow %q: %w", name, err)
	}

	return flow, nil
}
