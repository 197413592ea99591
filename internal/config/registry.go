package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// EmbeddingsFactory builds an embeddings provider from its config entry.
type EmbeddingsFactory func(ProviderEntry) (embeddings.Provider, error)

// Registry maps provider names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	embeddings map[string]EmbeddingsFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		embeddings: make(map[string]EmbeddingsFactory),
	}
}

// RegisterEmbeddings registers an embeddings provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEmbeddings(name string, factory EmbeddingsFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateEmbeddings instantiates the embeddings provider named by entry.Name.
// Returns [ErrProviderNotRegistered] if no factory is registered for that name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create embeddings provider %q: %w", entry.Name, err)
	}
	return p, nil
}

// EmbeddingsNames returns the registered embeddings provider names, sorted.
func (r *Registry) EmbeddingsNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.embeddings))
	for n := range r.embeddings {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
