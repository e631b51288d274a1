// Package registry holds the factories of the built-in connectors. Each
// built-in registers itself from an init function; importing
// pkg/connector/sources pulls them all in.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/logger"
)

// Registry manages connector registration and instantiation
type Registry struct {
	factories map[string]core.Factory
	metadata  map[string]core.Metadata
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]core.Factory),
		metadata:  make(map[string]core.Metadata),
		logger:    logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Register adds a connector type. md describes the type for listings.
func (r *Registry) Register(name string, md core.Metadata, factory core.Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s already registered", name))
	}

	r.factories[name] = factory
	r.metadata[name] = md
	r.logger.Debug("connector registered", zap.String("name", name))
	return nil
}

// Create instantiates a connector of the named type for source id.
func (r *Registry) Create(name, id string, settings map[string]interface{}) (core.Connector, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.NewConfiguration(fmt.Sprintf("connector type %s not found", name))
	}

	c, err := factory(id, settings)
	if err != nil {
		if errors.IsConnectorError(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create connector %s", name))
	}
	return c, nil
}

// List returns the registered type names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the description of a registered type.
func (r *Registry) Metadata(name string) (core.Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	md, ok := r.metadata[name]
	return md, ok
}

// Has checks if a connector type is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Clear removes all registered connectors (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]core.Factory)
	r.metadata = make(map[string]core.Metadata)
}

// Register registers a connector type in the global registry. It panics on
// duplicates, which only happen through a programming error in init.
func Register(name string, md core.Metadata, factory core.Factory) {
	if err := globalRegistry.Register(name, md, factory); err != nil {
		panic(err)
	}
}

// Create creates a connector from the global registry
func Create(name, id string, settings map[string]interface{}) (core.Connector, error) {
	return globalRegistry.Create(name, id, settings)
}

// List returns registered types from the global registry
func List() []string {
	return globalRegistry.List()
}

// Has checks if a type is registered in the global registry
func Has(name string) bool {
	return globalRegistry.Has(name)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
