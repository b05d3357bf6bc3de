// Package authserver talks to a SMART authorization server: endpoint
// discovery, the authorization redirect, code exchange and refresh.
package authserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-smart-launch/smart"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const (
	// DefaultHTTPTimeout bounds every outbound call.
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultDiscoveryTTL is how long discovered endpoints are reused.
	DefaultDiscoveryTTL = time.Hour

	// maxBodySize caps discovery documents.
	maxBodySize = 1 << 20

	// maxErrorBodySize caps the upstream body kept in errors.
	maxErrorBodySize = 512
)

// Credentials identify this application to every authorization server.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

type discoveryCacheEntry struct {
	endpoints smart.Endpoints
	fetchedAt time.Time
}

// Client is safe for concurrent use.
type Client struct {
	creds      Credentials
	httpClient *http.Client
	ttl        time.Duration
	grace      time.Duration

	mu    sync.RWMutex
	cache map[string]*discoveryCacheEntry

	// deduplicates concurrent discovery of the same issuer
	group singleflight.Group

	verifiersMu sync.Mutex
	verifiers   map[string]*oidc.IDTokenVerifier
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the client used for every outbound call.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithDiscoveryTTL sets how long discovered endpoints are cached.
func WithDiscoveryTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithDiscoveryGrace lets a stale cache entry be served for up to grace
// beyond its TTL when a refetch fails. Zero disables stale serving.
func WithDiscoveryGrace(grace time.Duration) ClientOption {
	return func(c *Client) {
		if grace >= 0 {
			c.grace = grace
		}
	}
}

// NewClient creates an authorization server client.
func NewClient(creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		ttl:        DefaultDiscoveryTTL,
		cache:      make(map[string]*discoveryCacheEntry),
		verifiers:  make(map[string]*oidc.IDTokenVerifier),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// oauth2Config builds the per-server configuration. Client authentication is
// always HTTP Basic.
func (c *Client) oauth2Config(endpoints smart.Endpoints) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoints.AuthorizationEndpoint,
			TokenURL:  endpoints.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// withHTTPClient makes golang.org/x/oauth2 and go-oidc use our client.
func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthorizationURL builds the redirect to the authorization endpoint.
// Query parameters already present on the endpoint are preserved.
func (c *Client) AuthorizationURL(endpoints smart.Endpoints, params smart.AuthorizationParams) string {
	conf := c.oauth2Config(endpoints)
	conf.ClientID = params.ClientID
	conf.RedirectURL = params.RedirectURI
	conf.Scopes = strings.Fields(params.Scope)

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam(smart.ParamAud, params.Aud),
		oauth2.SetAuthURLParam(smart.ParamLaunch, params.Launch),
	}
	if params.CodeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(params.CodeVerifier))
	}
	return conf.AuthCodeURL(params.State, opts...)
}

// ClearCache drops every cached discovery result and ID token verifier.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*discoveryCacheEntry)
	c.mu.Unlock()

	c.verifiersMu.Lock()
	c.verifiers = make(map[string]*oidc.IDTokenVerifier)
	c.verifiersMu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
