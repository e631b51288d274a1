// Package plugins discovers, validates and loads bank integration plugins.
//
// A plugin is a directory under the plugins root holding a manifest.yaml
// and the Go source of one connector type. Each package moves through
// Discovered, Validated, Loaded and Instantiated:
//
//   - Discovered: the manifest parsed and passed the completeness check.
//   - Validated: the Go source passed the safety scan.
//   - Loaded: the connector type and its New<Type> constructor were resolved.
//   - Instantiated: the constructor returned a connector for a caller config.
//
// The safety scan is a static deny-list check. It catches accidental use of
// process, syscall and unsafe memory APIs; it is not a sandbox.
package plugins

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// ManifestFile is the manifest name looked up in every plugin directory.
const ManifestFile = "manifest.yaml"

// ConnectorFile holds the plugin's connector type.
const ConnectorFile = "connector.go"

// Capability is something a plugin can do.
type Capability string

const (
	CapabilityHoldings     Capability = "HOLDINGS"
	CapabilityTransactions Capability = "TRANSACTIONS"
	CapabilityBalances     Capability = "BALANCES"
	CapabilityTransfers    Capability = "TRANSFERS"
	CapabilityStatements   Capability = "STATEMENTS"
	CapabilityRealTime     Capability = "REAL_TIME"
)

var knownCapabilities = map[Capability]bool{
	CapabilityHoldings:     true,
	CapabilityTransactions: true,
	CapabilityBalances:     true,
	CapabilityTransfers:    true,
	CapabilityStatements:   true,
	CapabilityRealTime:     true,
}

// ParseCapability matches s case-insensitively.
func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ToUpper(strings.TrimSpace(s)))
	return c, knownCapabilities[c]
}

// Authentication types declared by manifests.
const (
	AuthAPIKey      = "api_key"
	AuthOAuth       = "oauth"
	AuthCredentials = "credentials"
)

// Metadata describes one plugin. It is read from the manifest.
type Metadata struct {
	ID                 string       `yaml:"id" json:"id"`
	Name               string       `yaml:"name" json:"name"`
	Version            string       `yaml:"version" json:"version"`
	Author             string       `yaml:"author" json:"author"`
	Description        string       `yaml:"description" json:"description"`
	Capabilities       []Capability `yaml:"-" json:"capabilities"`
	SupportedCountries []string     `yaml:"supported_countries" json:"supported_countries"`
	AuthenticationType string       `yaml:"authentication_type" json:"authentication_type"`
	RequiredFields     []string     `yaml:"required_fields" json:"required_fields"`
	OptionalFields     []string     `yaml:"optional_fields" json:"optional_fields"`
	DocumentationURL   string       `yaml:"documentation_url" json:"documentation_url,omitempty"`
	IconURL            string       `yaml:"icon_url" json:"icon_url,omitempty"`
	MinSystemVersion   string       `yaml:"min_system_version" json:"min_system_version,omitempty"`
}

// HasCapability reports whether c is declared.
func (m Metadata) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	m.Capabilities = append([]Capability(nil), m.Capabilities...)
	m.SupportedCountries = append([]string(nil), m.SupportedCountries...)
	m.RequiredFields = append([]string(nil), m.RequiredFields...)
	m.OptionalFields = append([]string(nil), m.OptionalFields...)
	return m
}

type manifest struct {
	Metadata     `yaml:",inline"`
	Capabilities []string `yaml:"capabilities"`
}

// ParseManifest decodes a manifest. A missing id, name, version, author or
// description is a plugin validation error. Unknown capability strings are
// dropped and returned separately.
func ParseManifest(data []byte) (Metadata, []string, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Metadata{}, nil, errors.Wrap(err, errors.ErrorTypePluginValidation, "invalid manifest")
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"id", m.ID},
		{"name", m.Name},
		{"version", m.Version},
		{"author", m.Author},
		{"description", m.Description},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return Metadata{}, nil, errors.NewPluginValidation(
			fmt.Sprintf("manifest missing required fields: %s", strings.Join(missing, ", "))).
			WithDetail(errors.DetailMissing, missing)
	}

	md := m.Metadata
	var unknown []string
	seen := map[Capability]bool{}
	for _, raw := range m.Capabilities {
		c, ok := ParseCapability(raw)
		if !ok {
			unknown = append(unknown, raw)
			continue
		}
		if !seen[c] {
			seen[c] = true
			md.Capabilities = append(md.Capabilities, c)
		}
	}
	if md.AuthenticationType == "" {
		md.AuthenticationType = AuthAPIKey
	}
	return md, unknown, nil
}

func sortByID(list []Metadata) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}
