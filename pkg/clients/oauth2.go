package clients

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// Grant types understood by NewOAuth2Client.
const (
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantStaticToken       = "static"
)

// OAuth2Config configures OAuth2 authentication parameters including endpoints,
// credentials, and the grant used to obtain tokens.
type OAuth2Config struct {
	// Client credentials
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url,omitempty"`

	// Token endpoints
	AuthURL  string `json:"auth_url"`
	TokenURL string `json:"token_url"`

	Scopes []string `json:"scopes"`

	// GrantType is client_credentials, refresh_token or static
	GrantType string `json:"grant_type"`

	// AccessToken and RefreshToken seed the static and refresh_token grants.
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// CustomParams are sent with client credentials token requests.
	CustomParams map[string][]string `json:"custom_params,omitempty"`
}

// OAuth2Client issues authenticated requests, refreshing tokens as needed.
type OAuth2Client struct {
	config *OAuth2Config
	logger *zap.Logger
	source oauth2.TokenSource

	tokenRequests int64
	authFailures  int64
}

// NewOAuth2Client builds a token source for the configured grant. base, if
// non-nil, is used for token endpoint calls.
func NewOAuth2Client(ctx context.Context, config *OAuth2Config, base *http.Client, logger *zap.Logger) (*OAuth2Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}

	oc := &OAuth2Client{
		config: config,
		logger: logger.With(zap.String("component", "oauth2_client")),
	}

	switch config.GrantType {
	case GrantStaticToken, "":
		if config.AccessToken == "" {
			return nil, errors.NewMissingConfig([]string{"access_token"})
		}
		oc.source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.AccessToken, TokenType: "Bearer"})

	case GrantClientCredentials:
		if missing := missingOAuthFields(config, "client_id", "client_secret", "token_url"); len(missing) > 0 {
			return nil, errors.NewMissingConfig(missing)
		}
		cc := &clientcredentials.Config{
			ClientID:       config.ClientID,
			ClientSecret:   config.ClientSecret,
			TokenURL:       config.TokenURL,
			Scopes:         config.Scopes,
			EndpointParams: config.CustomParams,
		}
		oc.source = cc.TokenSource(ctx)

	case GrantRefreshToken:
		if missing := missingOAuthFields(config, "client_id", "token_url", "refresh_token"); len(missing) > 0 {
			return nil, errors.NewMissingConfig(missing)
		}
		oc.source = oc.oauthConfig().TokenSource(ctx, &oauth2.Token{
			AccessToken:  config.AccessToken,
			RefreshToken: config.RefreshToken,
		})

	default:
		return nil, errors.NewConfiguration("unsupported oauth2 grant type: " + config.GrantType)
	}

	oc.source = oauth2.ReuseTokenSource(nil, oc.source)
	return oc, nil
}

// AuthCodeURL returns the consent page URL for the authorization code flow.
func (oc *OAuth2Client) AuthCodeURL(state string) string {
	return oc.oauthConfig().AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Token returns a valid token, refreshing it when expired. Token endpoint
// rejections surface as authentication errors.
func (oc *OAuth2Client) Token() (*oauth2.Token, error) {
	atomic.AddInt64(&oc.tokenRequests, 1)
	tok, err := oc.source.Token()
	if err != nil {
		atomic.AddInt64(&oc.authFailures, 1)
		oc.logger.Warn("token request failed", zap.Error(err))
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "oauth2 token request failed")
	}
	return tok, nil
}

// Client returns an HTTP client that injects the bearer token.
func (oc *OAuth2Client) Client(ctx context.Context, timeout time.Duration) *http.Client {
	hc := oauth2.NewClient(ctx, oc.source)
	hc.Timeout = timeout
	return hc
}

// GetStats returns token request counters.
func (oc *OAuth2Client) GetStats() OAuth2Stats {
	return OAuth2Stats{
		TokenRequests: atomic.LoadInt64(&oc.tokenRequests),
		AuthFailures:  atomic.LoadInt64(&oc.authFailures),
	}
}

func (oc *OAuth2Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     oc.config.ClientID,
		ClientSecret: oc.config.ClientSecret,
		RedirectURL:  oc.config.RedirectURL,
		Scopes:       oc.config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  oc.config.AuthURL,
			TokenURL: oc.config.TokenURL,
		},
	}
}

func missingOAuthFields(c *OAuth2Config, fields ...string) []string {
	values := map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"token_url":     c.TokenURL,
		"refresh_token": c.RefreshToken,
	}
	var missing []string
	for _, f := range fields {
		if values[f] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// OAuth2Stats represents OAuth2 client statistics
type OAuth2Stats struct {
	TokenRequests int64 `json:"token_requests"`
	AuthFailures  int64 `json:"auth_failures"`
}
