package provider

import (
	"fmt"
	"sort"

	"github.com/pario-ai/tutorgate/pkg/config"
)

// Registry maps provider names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// FromConfig builds one adapter per configured provider.
func FromConfig(providers []config.ProviderConfig) (*Registry, error) {
	r := NewRegistry()
	for _, p := range providers {
		a, err := New(p)
		if err != nil {
			return nil, err
		}
		r.Register(a)
	}
	return r, nil
}

// New builds an adapter for p. The type defaults to the provider name.
func New(p config.ProviderConfig) (Adapter, error) {
	kind := p.Type
	if kind == "" {
		kind = p.Name
	}
	switch kind {
	case "openai":
		return NewOpenAI(p), nil
	case "anthropic", "claude":
		return NewAnthropic(p), nil
	case "deepseek":
		return NewDeepSeek(p), nil
	default:
		return nil, fmt.Errorf("provider %q: unsupported type %q", p.Name, kind)
	}
}

// Register adds a, replacing any adapter with the same name.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
