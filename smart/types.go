// Package smart holds the data model of the SMART App Launch sequence.
package smart

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ResponseType is the OAuth 2.0 response type requested at the authorization
// endpoint. SMART App Launch only defines the authorization code flow.
type ResponseType string

const (
	// CodeResponseType requests an authorization code that is later exchanged
	// at the token endpoint.
	CodeResponseType ResponseType = "code"
)

// CodeMethodType is the PKCE challenge method.
type CodeMethodType string

const (
	// CodeMethodTypeS256 sends BASE64URL(SHA256(code_verifier)) as the challenge.
	// SMART App Launch 2.0 requires servers to support it.
	CodeMethodTypeS256 CodeMethodType = "S256"
)

// Authorization request and callback parameter names.
const (
	ParamResponseType        = "response_type"
	ParamClientID            = "client_id"
	ParamRedirectURI         = "redirect_uri"
	ParamScope               = "scope"
	ParamState               = "state"
	ParamAud                 = "aud"
	ParamLaunch              = "launch"
	ParamIss                 = "iss"
	ParamCode                = "code"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamCodeVerifier        = "code_verifier"
	ParamError               = "error"
	ParamErrorDescription    = "error_description"
)

// LaunchContext is the EHR-supplied context of one launch attempt.
// It is immutable once created.
type LaunchContext struct {
	// Issuer is the FHIR server base URL the EHR passed as iss.
	// Always an absolute https URL.
	Issuer string `json:"iss"`

	// Launch is the opaque EHR context token. It is echoed back to the
	// authorization server so the EHR can bind patient/encounter context.
	Launch string `json:"launch"`

	// CodeVerifier is the PKCE secret for this attempt. Empty when PKCE is
	// disabled. Sent only in the token request.
	CodeVerifier string `json:"code_verifier,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// StateToken correlates an outbound authorization request with its callback.
// Each token is consumed at most once.
type StateToken struct {
	// Value is sent as the state parameter. 256 random bits, base64url.
	Value     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Launch    LaunchContext
}

// Expired reports whether the token is past its validity window at now.
func (t StateToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AuthorizationParams is the parameter set of the authorization redirect.
type AuthorizationParams struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
	Aud         string
	Launch      string

	// CodeChallenge is derived from the launch's code verifier when PKCE is on.
	CodeVerifier string
}

// Fingerprint returns a short non-reversible identifier for an opaque value
// such as a state token, suitable for logs and session history.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
