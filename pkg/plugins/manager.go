package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/logger"
)

// DefaultDir is the plugins root used when none is configured.
const DefaultDir = "plugins"

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithRegistry registers discovered plugins in r instead of the default registry.
func WithRegistry(r *Registry) ManagerOption {
	return func(m *Manager) { m.registry = r }
}

// WithOpener replaces DefaultOpener.
func WithOpener(o Opener) ManagerOption {
	return func(m *Manager) { m.opener = o }
}

// WithLogger replaces the component logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// Manager discovers plugin packages and turns them into connectors.
type Manager struct {
	dir      string
	registry *Registry
	opener   Opener
	logger   *zap.Logger

	mu         sync.Mutex
	scanned    bool
	discovered map[string]*Package
}

// NewManager creates a manager for the plugins under dir.
func NewManager(dir string, opts ...ManagerOption) *Manager {
	if dir == "" {
		dir = DefaultDir
	}
	m := &Manager{
		dir:        dir,
		discovered: make(map[string]*Package),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = DefaultRegistry()
	}
	if m.opener == nil {
		m.opener = DefaultOpener()
	}
	if m.logger == nil {
		m.logger = logger.Get().With(zap.String("component", "plugin_manager"))
	}
	return m
}

// Dir returns the plugins root.
func (m *Manager) Dir() string { return m.dir }

// Registry returns the registry discovered plugins are recorded in.
func (m *Manager) Registry() *Registry { return m.registry }

// Discover scans the plugins root. Results are cached; forceRefresh
// re-scans. A missing root yields no plugins. Invalid manifests are logged
// and skipped.
func (m *Manager) Discover(ctx context.Context, forceRefresh bool) ([]Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanned && !forceRefresh {
		return m.listLocked(), nil
	}
	return m.scanLocked(ctx)
}

func (m *Manager) scanLocked(ctx context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Warn("plugins directory not found", zap.String("dir", m.dir))
			m.discovered = make(map[string]*Package)
			m.scanned = true
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypePluginLoad, "cannot read plugins directory")
	}

	m.logger.Info("scanning for plugins", zap.String("dir", m.dir))
	found := make(map[string]*Package)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		pkg, err := readPackage(filepath.Join(m.dir, name))
		if err != nil {
			m.logger.Error("skipping plugin", zap.String("plugin_dir", name), zap.Error(err))
			continue
		}
		if pkg == nil {
			m.logger.Debug("skipping directory without manifest", zap.String("plugin_dir", name))
			continue
		}
		for _, c := range pkg.DroppedCapabilities {
			m.logger.Warn("unknown capability", zap.String("plugin", pkg.Metadata.ID), zap.String("capability", c))
		}
		if prev, dup := found[pkg.Metadata.ID]; dup {
			m.logger.Error("duplicate plugin id, keeping first",
				zap.String("plugin", pkg.Metadata.ID), zap.String("kept", prev.Dir), zap.String("ignored", pkg.Dir))
			continue
		}
		found[pkg.Metadata.ID] = pkg
		m.logger.Info("discovered plugin",
			zap.String("plugin", pkg.Metadata.ID), zap.String("name", pkg.Metadata.Name), zap.String("version", pkg.Metadata.Version))
	}

	m.discovered = found
	m.scanned = true
	list := m.listLocked()
	for _, md := range list {
		m.registry.Register(md)
	}
	return list, nil
}

func (m *Manager) listLocked() []Metadata {
	out := make([]Metadata, 0, len(m.discovered))
	for _, pkg := range m.discovered {
		out = append(out, pkg.Metadata.Clone())
	}
	sortByID(out)
	return out
}

func (m *Manager) ensure(ctx context.Context) error {
	if m.scanned {
		return nil
	}
	_, err := m.scanLocked(ctx)
	return err
}

// ListPlugins returns the discovered plugins, discovering on first use.
func (m *Manager) ListPlugins(ctx context.Context) ([]Metadata, error) {
	return m.Discover(ctx, false)
}

// PluginInfo returns a snapshot of one discovered package.
func (m *Manager) PluginInfo(ctx context.Context, id string) (*Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	pkg, ok := m.discovered[id]
	if !ok {
		return nil, errors.NewPluginLoad(fmt.Sprintf("plugin not found: %s", id))
	}
	return pkg.clone(), nil
}

// LoadPlugin validates, loads and instantiates plugin id with config.
func (m *Manager) LoadPlugin(ctx context.Context, id string, config map[string]interface{}) (core.Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	pkg, ok := m.discovered[id]
	if !ok {
		return nil, errors.NewPluginLoad(fmt.Sprintf("plugin not found: %s", id))
	}
	log := m.logger.With(zap.String("plugin", id))

	if _, err := os.Stat(filepath.Join(pkg.Dir, ConnectorFile)); err != nil {
		return nil, errors.NewPluginLoad(fmt.Sprintf("plugin connector not found: %s", filepath.Join(pkg.Dir, ConnectorFile)))
	}
	if err := pkg.validate(); err != nil {
		log.Error("plugin rejected", zap.Error(err))
		return nil, err
	}
	if err := pkg.load(m.opener); err != nil {
		log.Error("plugin load failed", zap.Error(err))
		return nil, err
	}
	conn, err := pkg.instantiate(ctx, config)
	if err != nil {
		log.Error("plugin instantiation failed", zap.Error(err))
		return nil, err
	}
	log.Info("plugin instantiated", zap.String("type", pkg.TypeName), zap.String("state", pkg.State.String()))
	return conn, nil
}

// ValidatePlugin checks the package layout, runs the safety scan and
// locates the connector type without loading it.
func (m *Manager) ValidatePlugin(ctx context.Context, id string) (bool, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensure(ctx); err != nil {
		return false, []string{err.Error()}
	}
	pkg, ok := m.discovered[id]
	if !ok {
		return false, []string{"Plugin not found: " + id}
	}

	var issues []string
	for _, f := range []string{ManifestFile, ConnectorFile} {
		if _, err := os.Stat(filepath.Join(pkg.Dir, f)); err != nil {
			issues = append(issues, "Missing required file: "+f)
		}
	}

	src, err := parseDir(pkg.Dir)
	if err != nil {
		issues = append(issues, err.Error())
		return false, issues
	}
	issues = append(issues, src.scan()...)
	if _, err := src.connectorType(); err != nil {
		issues = append(issues, err.Error())
	}
	return len(issues) == 0, issues
}
