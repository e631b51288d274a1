package plugins

import (
	"fmt"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// Constructor builds a plugin connector from caller configuration.
type Constructor func(config map[string]interface{}) (core.Connector, error)

// Opener resolves a constructor symbol of a plugin package.
type Opener interface {
	Lookup(pkg *Package, symbol string) (Constructor, error)
}

// SharedObject is the build output GoPluginOpener loads from a plugin dir.
const SharedObject = "plugin.so"

var (
	staticMu  sync.RWMutex
	staticTab = map[string]map[string]Constructor{}
)

// RegisterStatic makes a compiled-in plugin's constructor resolvable by
// StaticOpener. Plugins linked into the binary call it from init.
func RegisterStatic(pluginID, symbol string, ctor Constructor) {
	staticMu.Lock()
	defer staticMu.Unlock()
	if staticTab[pluginID] == nil {
		staticTab[pluginID] = map[string]Constructor{}
	}
	staticTab[pluginID][symbol] = ctor
}

// StaticOpener resolves constructors registered with RegisterStatic.
type StaticOpener struct{}

func (StaticOpener) Lookup(pkg *Package, symbol string) (Constructor, error) {
	staticMu.RLock()
	defer staticMu.RUnlock()
	ctor, ok := staticTab[pkg.Metadata.ID][symbol]
	if !ok {
		return nil, errors.NewPluginLoad(fmt.Sprintf("%s: %s is not linked into this binary", pkg.Metadata.ID, symbol))
	}
	return ctor, nil
}

// GoPluginOpener loads <dir>/plugin.so built with -buildmode=plugin.
type GoPluginOpener struct{}

func (GoPluginOpener) Lookup(pkg *Package, symbol string) (Constructor, error) {
	p, err := plugin.Open(filepath.Join(pkg.Dir, SharedObject))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePluginLoad, fmt.Sprintf("%s: cannot open %s", pkg.Metadata.ID, SharedObject))
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePluginLoad, fmt.Sprintf("%s: symbol %s not exported", pkg.Metadata.ID, symbol))
	}
	switch fn := sym.(type) {
	case func(map[string]interface{}) (core.Connector, error):
		return fn, nil
	case *Constructor:
		return *fn, nil
	}
	return nil, errors.NewPluginLoad(fmt.Sprintf("%s: %s has type %T, want func(map[string]interface{}) (core.Connector, error)", pkg.Metadata.ID, symbol, sym))
}

// ChainOpener tries each opener in order and returns the first hit. When
// all fail, the errors are joined.
type ChainOpener []Opener

func (c ChainOpener) Lookup(pkg *Package, symbol string) (Constructor, error) {
	var errs []error
	for _, o := range c {
		ctor, err := o.Lookup(pkg, symbol)
		if err == nil {
			return ctor, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.NewPluginLoad("no plugin opener configured")
	}
	return nil, errors.Wrap(errors.Join(errs...), errors.ErrorTypePluginLoad, fmt.Sprintf("%s: constructor %s not found", pkg.Metadata.ID, symbol))
}

// DefaultOpener prefers compiled-in plugins and falls back to shared objects.
func DefaultOpener() Opener {
	return ChainOpener{StaticOpener{}, GoPluginOpener{}}
}
