package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/wealthsync/pkg/clients"
	"github.com/ajitpratap0/wealthsync/pkg/connector/base"
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// BankPlugin is embedded by bank integration plugins. It supplies the
// connector plumbing from base.BaseConnector plus plugin metadata helpers;
// the plugin implements Authenticate, Holdings and Transactions.
//
//	type MyBank struct {
//	    *plugins.BankPlugin
//	}
//
//	func NewMyBank(config map[string]interface{}) (core.Connector, error) {
//	    return &MyBank{BankPlugin: plugins.NewBankPlugin(myMetadata, config)}, nil
//	}
type BankPlugin struct {
	*base.BaseConnector
	meta Metadata
}

// NewBankPlugin builds the base for a plugin described by md.
func NewBankPlugin(md Metadata, config map[string]interface{}, opts ...base.Option) *BankPlugin {
	return &BankPlugin{
		BaseConnector: base.NewBaseConnector(md.ID, ConnectorMetadata(md), config, opts...),
		meta:          md.Clone(),
	}
}

// ConnectorMetadata derives the connector descriptor of a plugin.
func ConnectorMetadata(md Metadata) core.Metadata {
	return core.Metadata{
		Name:             md.Name,
		Category:         core.CategoryPlugin,
		Version:          md.Version,
		Description:      md.Description,
		SupportedAssets:  []string{"bank_account", "deposits"},
		RequiresOAuth:    md.AuthenticationType == AuthOAuth,
		RequiresAPIKey:   md.AuthenticationType == AuthAPIKey,
		DocumentationURL: md.DocumentationURL,
	}
}

// PluginID returns the manifest id.
func (p *BankPlugin) PluginID() string { return p.meta.ID }

// PluginMetadata returns a copy of the plugin metadata.
func (p *BankPlugin) PluginMetadata() Metadata { return p.meta.Clone() }

// Capabilities returns the declared capabilities.
func (p *BankPlugin) Capabilities() []Capability {
	return append([]Capability(nil), p.meta.Capabilities...)
}

// HasCapability reports whether c is declared.
func (p *BankPlugin) HasCapability(c Capability) bool { return p.meta.HasCapability(c) }

// ValidatePluginConfig lists the required fields missing from the config.
func (p *BankPlugin) ValidatePluginConfig() (bool, []string) {
	missing := p.Settings().Missing(p.meta.RequiredFields...)
	return len(missing) == 0, missing
}

// RequirePluginConfig is ValidatePluginConfig as a configuration error.
func (p *BankPlugin) RequirePluginConfig() error {
	if ok, missing := p.ValidatePluginConfig(); !ok {
		return errors.NewMissingConfig(missing)
	}
	return nil
}

// Balances returns nothing. Plugins declaring BALANCES override it.
func (p *BankPlugin) Balances(ctx context.Context, accountID string) ([]core.Balance, error) {
	return nil, nil
}

// Logout ends the session.
func (p *BankPlugin) Logout(ctx context.Context) error {
	return p.Disconnect(ctx)
}

// ConfigSchema describes the configuration a plugin accepts.
type ConfigSchema struct {
	Required           []string `json:"required"`
	Optional           []string `json:"optional"`
	AuthenticationType string   `json:"authentication_type"`
}

// ConfigSchema returns the plugin's configuration fields.
func (p *BankPlugin) ConfigSchema() ConfigSchema {
	return ConfigSchema{
		Required:           append([]string(nil), p.meta.RequiredFields...),
		Optional:           append([]string(nil), p.meta.OptionalFields...),
		AuthenticationType: p.meta.AuthenticationType,
	}
}

// UseOAuth switches the HTTP client to one that attaches OAuth2 bearer
// tokens. It reads client_id, client_secret, token_url, auth_url, scopes,
// grant_type, access_token and refresh_token from the config. Only plugins
// with authentication_type oauth may call it. Token refreshes use ctx, so it
// must outlive the session.
func (p *BankPlugin) UseOAuth(ctx context.Context) error {
	if p.meta.AuthenticationType != AuthOAuth {
		return errors.NewConfiguration(fmt.Sprintf("plugin %s does not use oauth", p.meta.ID))
	}
	s := p.Settings()
	cfg := &clients.OAuth2Config{
		ClientID:     s.String("client_id", ""),
		ClientSecret: s.String("client_secret", ""),
		AuthURL:      s.String("auth_url", ""),
		TokenURL:     s.String("token_url", ""),
		RedirectURL:  s.String("redirect_url", ""),
		Scopes:       s.StringSlice("scopes"),
		GrantType:    s.String("grant_type", clients.GrantClientCredentials),
		AccessToken:  s.String("access_token", ""),
		RefreshToken: s.String("refresh_token", ""),
	}
	oc, err := clients.NewOAuth2Client(ctx, cfg, nil, p.Logger())
	if err != nil {
		return err
	}
	hc := oc.Client(ctx, s.Duration("request_timeout", 30*time.Second))
	p.SetHTTP(p.HTTP().WithHTTPClient(hc))
	return nil
}

var _ core.BalanceProvider = (*BankPlugin)(nil)
