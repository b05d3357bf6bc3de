// Package ehrtest runs an in-process SMART authorization server and FHIR
// endpoint for tests.
package ehrtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	keyID        = "test-key-1"
)

// TokenRequest is one request received at the token endpoint.
type TokenRequest struct {
	Header http.Header
	Form   url.Values
}

// Server is a fake EHR. Zero-valued knobs mean "behave correctly".
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	wellKnownStatus int
	wellKnownBody   string
	metadataEnabled bool
	advertiseOIDC   bool
	tokenStatus     int
	tokenBody       map[string]any
	tokenRequests   []TokenRequest
	wellKnownGate   chan struct{}

	wellKnownHits atomic.Int32
	metadataHits  atomic.Int32

	key *rsa.PrivateKey
}

// New starts a fake EHR over TLS that is closed when the test ends. Outbound
// clients must use s.Client() to trust its certificate.
func New(t *testing.T) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	s := &Server{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fhir/.well-known/smart-configuration", s.wellKnown)
	mux.HandleFunc("GET /fhir/metadata", s.metadata)
	mux.HandleFunc("POST /token", s.token)
	mux.HandleFunc("GET /jwks", s.jwks)
	mux.HandleFunc("GET /fhir/Patient/{id}", s.patient)

	s.Server = httptest.NewTLSServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Issuer is the FHIR base URL to launch with.
func (s *Server) Issuer() string {
	return s.URL + "/fhir"
}

func (s *Server) AuthorizeURL() string {
	return s.URL + "/authorize?tenant=acme"
}

func (s *Server) TokenURL() string {
	return s.URL + "/token"
}

// SetWellKnown overrides the smart-configuration response.
func (s *Server) SetWellKnown(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wellKnownStatus = status
	s.wellKnownBody = body
}

// HoldWellKnown blocks smart-configuration requests until the returned
// release func is called. Release is also run when the test ends.
func (s *Server) HoldWellKnown(t *testing.T) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	s.mu.Lock()
	s.wellKnownGate = gate
	s.mu.Unlock()

	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return release
}

// EnableMetadata serves a CapabilityStatement with the oauth-uris extension.
func (s *Server) EnableMetadata() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataEnabled = true
}

// AdvertiseOIDC adds issuer and jwks_uri to the configuration document.
func (s *Server) AdvertiseOIDC() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertiseOIDC = true
}

// SetTokenResponse overrides the token endpoint response.
func (s *Server) SetTokenResponse(status int, body map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenStatus = status
	s.tokenBody = body
}

func (s *Server) TokenRequests() []TokenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TokenRequest(nil), s.tokenRequests...)
}

func (s *Server) WellKnownHits() int {
	return int(s.wellKnownHits.Load())
}

func (s *Server) MetadataHits() int {
	return int(s.metadataHits.Load())
}

// SignIDToken returns an RS256 ID token issued by this server.
func (s *Server) SignIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	base := jwt.MapClaims{
		"iss": s.URL,
		"aud": ClientID,
		"sub": "user-1",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		base[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, base)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(s.key)
	require.NoError(t, err)
	return signed
}

// DefaultTokenBody is the successful token response.
func DefaultTokenBody() map[string]any {
	return map[string]any{
		"access_token":  "access-123",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "launch patient/Patient.read openid",
		"refresh_token": "refresh-123",
		"patient":       "pat-1",
		"encounter":     "enc-1",
	}
}

func (s *Server) wellKnown(w http.ResponseWriter, r *http.Request) {
	s.wellKnownHits.Add(1)
	s.mu.Lock()
	status, body, oidc, gate := s.wellKnownStatus, s.wellKnownBody, s.advertiseOIDC, s.wellKnownGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}
	doc := map[string]any{
		"authorization_endpoint":           s.AuthorizeURL(),
		"token_endpoint":                   s.TokenURL(),
		"code_challenge_methods_supported": []string{"S256"},
		"capabilities":                     []string{"launch-ehr", "client-confidential-symmetric"},
	}
	if oidc {
		doc["issuer"] = s.URL
		doc["jwks_uri"] = s.URL + "/jwks"
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) metadata(w http.ResponseWriter, r *http.Request) {
	s.metadataHits.Add(1)
	s.mu.Lock()
	enabled := s.metadataEnabled
	s.mu.Unlock()
	if !enabled {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resourceType": "CapabilityStatement",
		"rest": []any{map[string]any{
			"security": map[string]any{
				"extension": []any{map[string]any{
					"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris",
					"extension": []any{
						map[string]any{"url": "authorize", "valueUri": s.AuthorizeURL()},
						map[string]any{"url": "token", "valueUri": s.TokenURL()},
					},
				}},
			},
		}},
	})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	s.mu.Lock()
	s.tokenRequests = append(s.tokenRequests, TokenRequest{Header: r.Header.Clone(), Form: r.PostForm})
	status, body := s.tokenStatus, s.tokenBody
	s.mu.Unlock()

	id, secret, ok := r.BasicAuth()
	if !ok || id != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	if body == nil {
		body = DefaultTokenBody()
	}
	writeJSON(w, status, body)
}

func (s *Server) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := s.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []any{map[string]any{
			"kty": "RSA",
			"kid": keyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (s *Server) patient(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"resourceType": "OperationOutcome"})
		return
	}
	w.Header().Set("Content-Type", "application/fhir+json")
	writeJSON(w, http.StatusOK, map[string]any{
		"resourceType": "Patient",
		"id":           r.PathValue("id"),
		"meta":         map[string]any{"tag": []any{map[string]any{"code": r.Header.Get("Authorization")}}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
