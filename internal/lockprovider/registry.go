package lockprovider

import (
	"fmt"
	"sync"
)

// Registry maps vendor codes to provider implementations. It is built
// once at process start and passed by reference into the job processors;
// there is no package-level instance.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderInterface
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]ProviderInterface),
	}
}

// Register registers a provider under its code
func (r *Registry) Register(provider ProviderInterface) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := provider.Code()
	if code == "" {
		return fmt.Errorf("provider code cannot be empty")
	}
	if _, exists := r.providers[code]; exists {
		return fmt.Errorf("provider %s is already registered", code)
	}

	r.providers[code] = provider
	return nil
}

// Get returns a provider by its code
func (r *Registry) Get(code string) (ProviderInterface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[code]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", code)
	}
	return provider, nil
}

// List returns all registered providers
func (r *Registry) List() []ProviderInterface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]ProviderInterface, 0, len(r.providers))
	for _, provider := range r.providers {
		providers = append(providers, provider)
	}
	return providers
}
