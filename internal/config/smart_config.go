package config

import (
	"strings"
	"time"
)

type SMARTConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetRedirectURL() string
	GetScope() string
	GetScopes() []string
	GetPKCEEnabled() bool
	GetDiscoveryTTL() time.Duration
	GetDiscoveryGrace() time.Duration
	GetHTTPTimeout() time.Duration
	UsingDevDefaults() bool
}

var _ SMARTConfig = (*settings)(nil)

func (s *settings) GetClientID() string {
	return s.ClientID
}

// GetClientSecret must never be logged. Use Fingerprint for diagnostics.
func (s *settings) GetClientSecret() string {
	return s.ClientSecret
}

// GetRedirectURL is sent byte-for-byte as redirect_uri.
func (s *settings) GetRedirectURL() string {
	return s.RedirectURL
}

// GetScope returns the requested scope string, whitespace-normalised.
func (s *settings) GetScope() string {
	return s.Scope
}

func (s *settings) GetScopes() []string {
	return strings.Fields(s.Scope)
}

func (s *settings) GetPKCEEnabled() bool {
	return s.PKCE
}

func (s *settings) GetDiscoveryTTL() time.Duration {
	return s.DiscoveryTTL
}

// GetDiscoveryGrace is how long a stale discovery entry may be served after
// a failed refetch. Zero means hard expiry.
func (s *settings) GetDiscoveryGrace() time.Duration {
	return s.DiscoveryGrace
}

func (s *settings) GetHTTPTimeout() time.Duration {
	return s.HTTPTimeout
}

// UsingDevDefaults reports whether the client credentials are development
// placeholders.
func (s *settings) UsingDevDefaults() bool {
	return s.devDefaults
}
