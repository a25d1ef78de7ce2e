package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/tutorcall/pkg/provider/live"
	"github.com/MrWong99/tutorcall/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	completion map[string]func(ProviderEntry) (llm.Provider, error)
	live       map[string]func(ProviderEntry) (live.Provider, error)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		completion: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		live:       make(map[string]func(ProviderEntry) (live.Provider, error)),
	}
}

// RegisterCompletion registers a completion backend factory under name.
// Registering the same name again replaces the factory.
func (r *Registry) RegisterCompletion(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completion[name] = factory
}

// RegisterLive registers a live backend factory under name.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// CreateCompletion builds the completion backend registered under
// entry.Name, or returns [ErrProviderNotRegistered].
func (r *Registry) CreateCompletion(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.completion[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: completion/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLive builds the live backend registered under entry.Name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the sorted names registered for kind ("completion" or
// "live").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	switch kind {
	case "completion":
		for n := range r.completion {
			out = append(out, n)
		}
	case "live":
		for n := range r.live {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}
