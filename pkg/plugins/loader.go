package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// State is the furthest loading stage a plugin package reached.
type State int

const (
	StateDiscovered State = iota
	StateValidated
	StateLoaded
	StateInstantiated
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateValidated:
		return "validated"
	case StateLoaded:
		return "loaded"
	case StateInstantiated:
		return "instantiated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Package is one discovered plugin directory.
type Package struct {
	Metadata Metadata
	Dir      string
	State    State
	// TypeName and Symbol are set once the package is loaded.
	TypeName string
	Symbol   string
	// DroppedCapabilities lists manifest capabilities that were not recognized.
	DroppedCapabilities []string

	ctor Constructor
}

func (p *Package) clone() *Package {
	c := *p
	c.Metadata = p.Metadata.Clone()
	c.DroppedCapabilities = append([]string(nil), p.DroppedCapabilities...)
	c.ctor = nil
	return &c
}

// readPackage parses dir/manifest.yaml. It returns (nil, nil) when the
// directory has no manifest.
func readPackage(dir string) (*Package, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypePluginValidation, "cannot read manifest")
	}
	md, dropped, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	return &Package{Metadata: md, Dir: dir, State: StateDiscovered, DroppedCapabilities: dropped}, nil
}

// validate runs the safety scan and advances to Validated.
func (p *Package) validate() error {
	if p.State >= StateValidated {
		return nil
	}
	issues, err := Scan(p.Dir)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return errors.NewPluginValidation(fmt.Sprintf("plugin %s failed safety scan: %s", p.Metadata.ID, strings.Join(issues, "; "))).
			WithDetail("issues", issues)
	}
	p.State = StateValidated
	return nil
}

// load resolves the connector type and its constructor.
func (p *Package) load(opener Opener) error {
	if p.State >= StateLoaded {
		return nil
	}
	src, err := parseDir(p.Dir)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePluginLoad, fmt.Sprintf("plugin %s", p.Metadata.ID))
	}
	typeName, err := src.connectorType()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePluginLoad, fmt.Sprintf("plugin %s", p.Metadata.ID))
	}
	symbol := "New" + typeName
	ctor, err := opener.Lookup(p, symbol)
	if err != nil {
		return err
	}
	p.TypeName, p.Symbol, p.ctor = typeName, symbol, ctor
	p.State = StateLoaded
	return nil
}

// instantiate calls the constructor. A panic inside it becomes a load error.
func (p *Package) instantiate(ctx context.Context, config map[string]interface{}) (conn core.Connector, err error) {
	if p.ctor == nil {
		return nil, errors.NewPluginLoad(fmt.Sprintf("plugin %s is not loaded", p.Metadata.ID))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			conn, err = nil, errors.NewPluginLoad(fmt.Sprintf("plugin %s constructor panicked: %v", p.Metadata.ID, r))
		}
	}()

	if config == nil {
		config = map[string]interface{}{}
	}
	conn, err = p.ctor(config)
	if err != nil {
		if errors.IsConnectorError(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypePluginLoad, fmt.Sprintf("plugin %s constructor failed", p.Metadata.ID))
	}
	if conn == nil {
		return nil, errors.NewPluginLoad(fmt.Sprintf("plugin %s constructor returned nil", p.Metadata.ID))
	}
	p.State = StateInstantiated
	return conn, nil
}
