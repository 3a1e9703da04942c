package dataverse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoCredentials is returned when neither a static access token nor a
// complete client credentials configuration was supplied.
var ErrNoCredentials = errors.New("no dataverse credentials configured")

// Credentials produce OAuth2 token sources for a resource scope such as
// "https://org.crm.dynamics.com/.default".
type Credentials interface {
	TokenSource(ctx context.Context, scope string) (oauth2.TokenSource, error)
}

// CredentialsConfig mirrors the auth section of the server configuration.
type CredentialsConfig struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	AuthorityHost string
	TokenURL      string
	AccessToken   string
}

// NewCredentials picks the credential strategy for cfg. A static access token
// wins; otherwise the client credentials grant is used when a client id and
// secret are present together with either a tenant or an explicit token URL.
func NewCredentials(cfg CredentialsConfig, httpClient *http.Client) (Credentials, error) {
	if tok := strings.TrimSpace(cfg.AccessToken); tok != "" {
		return StaticToken(tok), nil
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || (cfg.TenantID == "" && cfg.TokenURL == "") {
		return nil, ErrNoCredentials
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ClientCredentials{
		TenantID:      cfg.TenantID,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		AuthorityHost: strings.TrimRight(cfg.AuthorityHost, "/"),
		TokenURL:      cfg.TokenURL,
		HTTPClient:    httpClient,
	}, nil
}

// StaticToken is a pre-acquired bearer token. It is used as-is for every
// scope and never refreshed.
type StaticToken string

func (s StaticToken) TokenSource(ctx context.Context, scope string) (oauth2.TokenSource, error) {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(s), TokenType: "Bearer"}), nil
}

// ClientCredentials acquires app-only tokens with the OAuth2 client
// credentials grant. When TokenURL is empty the token endpoint is discovered
// from the authority's OpenID configuration.
//
// Token sources are cached per scope and reuse tokens until they expire.
type ClientCredentials struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	AuthorityHost string
	TokenURL      string
	HTTPClient    *http.Client

	mu           sync.Mutex
	tokenURL     string
	tokenSources map[string]oauth2.TokenSource
}

// Issuer returns the OpenID issuer used for discovery.
func (c *ClientCredentials) Issuer() string {
	return c.AuthorityHost + "/" + c.TenantID + "/v2.0"
}

func (c *ClientCredentials) TokenSource(ctx context.Context, scope string) (oauth2.TokenSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.tokenSources[scope]; ok {
		return ts, nil
	}

	tokenURL, err := c.resolveTokenURL(ctx)
	if err != nil {
		return nil, err
	}

	cc := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// The token source outlives ctx, so it gets its own context carrying only
	// the HTTP client.
	tsCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient())
	ts := cc.TokenSource(tsCtx)

	if c.tokenSources == nil {
		c.tokenSources = make(map[string]oauth2.TokenSource)
	}
	c.tokenSources[scope] = ts
	return ts, nil
}

// resolveTokenURL must be called with c.mu held.
func (c *ClientCredentials) resolveTokenURL(ctx context.Context) (string, error) {
	if c.TokenURL != "" {
		return c.TokenURL, nil
	}
	if c.tokenURL != "" {
		return c.tokenURL, nil
	}
	if c.AuthorityHost == "" || c.TenantID == "" {
		return "", fmt.Errorf("%w: authority host and tenant are required for discovery", ErrNoCredentials)
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient()), c.Issuer())
	if err != nil {
		return "", fmt.Errorf("oidc discovery failed: %w", err)
	}
	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", fmt.Errorf("discovery incomplete: missing token_endpoint")
	}
	c.tokenURL = tokenURL
	return tokenURL, nil
}

func (c *ClientCredentials) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
