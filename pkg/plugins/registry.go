package plugins

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/pkg/logger"
)

// Registry is the catalog of known plugins and the subset that is enabled.
// Reads return copies sorted by id.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Metadata
	enabled map[string]bool
	logger  *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Metadata),
		enabled: make(map[string]bool),
		logger:  logger.Get().With(zap.String("component", "plugin_registry")),
	}
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// DefaultRegistry returns the process-wide registry, creating it on first use.
func DefaultRegistry() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// ResetDefault drops the process-wide registry; the next DefaultRegistry
// call builds a fresh one.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = nil
}

// Register adds md. It returns false when the id is already present.
func (r *Registry) Register(md Metadata) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[md.ID]; ok {
		r.logger.Debug("plugin already registered", zap.String("plugin", md.ID))
		return false
	}
	r.plugins[md.ID] = md.Clone()
	r.logger.Info("registered plugin", zap.String("plugin", md.ID), zap.String("name", md.Name))
	return true
}

// Unregister removes id and disables it. It returns false when id is unknown.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[id]; !ok {
		return false
	}
	delete(r.plugins, id)
	delete(r.enabled, id)
	r.logger.Info("unregistered plugin", zap.String("plugin", id))
	return true
}

// Get returns the metadata for id.
func (r *Registry) Get(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	md, ok := r.plugins[id]
	if !ok {
		return Metadata{}, false
	}
	return md.Clone(), true
}

// GetAll returns every registered plugin.
func (r *Registry) GetAll() []Metadata {
	return r.filter(func(Metadata) bool { return true })
}

// GetByCapability returns plugins declaring c.
func (r *Registry) GetByCapability(c Capability) []Metadata {
	return r.filter(func(md Metadata) bool { return md.HasCapability(c) })
}

// GetByCountry returns plugins supporting the ISO country code.
func (r *Registry) GetByCountry(code string) []Metadata {
	return r.filter(func(md Metadata) bool {
		for _, c := range md.SupportedCountries {
			if strings.EqualFold(c, code) {
				return true
			}
		}
		return false
	})
}

// GetByAuthType returns plugins using the given authentication type.
func (r *Registry) GetByAuthType(authType string) []Metadata {
	return r.filter(func(md Metadata) bool { return md.AuthenticationType == authType })
}

// Enable marks a registered plugin enabled. Unknown ids return false.
func (r *Registry) Enable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[id]; !ok {
		return false
	}
	r.enabled[id] = true
	r.logger.Debug("enabled plugin", zap.String("plugin", id))
	return true
}

// Disable clears the enabled mark. It returns false when id was not enabled.
func (r *Registry) Disable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled[id] {
		return false
	}
	delete(r.enabled, id)
	r.logger.Debug("disabled plugin", zap.String("plugin", id))
	return true
}

// IsEnabled reports whether id is registered and enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[id]
}

// GetEnabled returns the enabled plugins.
func (r *Registry) GetEnabled() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.enabled))
	for id := range r.enabled {
		if md, ok := r.plugins[id]; ok {
			out = append(out, md.Clone())
		}
	}
	sortByID(out)
	return out
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// CountEnabled returns the number of enabled plugins.
func (r *Registry) CountEnabled() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.enabled)
}

// RegistryStats summarizes the registry.
type RegistryStats struct {
	Total    int `json:"total"`
	Enabled  int `json:"enabled"`
	Disabled int `json:"disabled"`
}

// Stats returns counts of registered, enabled and disabled plugins.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{
		Total:    len(r.plugins),
		Enabled:  len(r.enabled),
		Disabled: len(r.plugins) - len(r.enabled),
	}
}

// Reset removes every plugin and enabled mark.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]Metadata)
	r.enabled = make(map[string]bool)
}

func (r *Registry) filter(keep func(Metadata) bool) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.plugins))
	for _, md := range r.plugins {
		if keep(md) {
			out = append(out, md.Clone())
		}
	}
	sortByID(out)
	return out
}
