package smart

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenResponse is the token endpoint response of a SMART authorization
// server, plus the bookkeeping needed to refresh it later.
type TokenResponse struct {
	// AccessToken is the bearer credential for the FHIR API.
	// Usage: "Authorization: Bearer <access_token>"
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer" for SMART servers.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds reported by the server.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// ExpiresAt is the absolute expiry computed when the response arrived.
	// Zero when the server did not report a lifetime.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope. It may be narrower than the request.
	// Example: "launch patient/Patient.read openid"
	Scope string `json:"scope,omitempty"`

	// RefreshToken is present when offline_access or online_access was granted.
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is present when openid was requested.
	IDToken string `json:"id_token,omitempty"`

	// Launch context claims returned alongside the token.
	Patient           string `json:"patient,omitempty"`
	Encounter         string `json:"encounter,omitempty"`
	NeedPatientBanner bool   `json:"need_patient_banner,omitempty"`
	SmartStyleURL     string `json:"smart_style_url,omitempty"`

	// FHIRUser and Subject come from a verified ID token.
	FHIRUser string `json:"fhirUser,omitempty"`
	Subject  string `json:"sub,omitempty"`

	// Issuer is the FHIR base URL the token is valid for.
	Issuer string `json:"iss"`

	// TokenEndpoint is kept so the token can be refreshed without rediscovery.
	TokenEndpoint string `json:"token_endpoint"`

	// OIDCIssuer and JWKSURI verify ID tokens returned by a refresh.
	OIDCIssuer string `json:"oidc_issuer,omitempty"`
	JWKSURI    string `json:"jwks_uri,omitempty"`
}

// Expired reports whether the access token is expired at now, treating the
// last skew of its lifetime as already expired.
func (t *TokenResponse) Expired(now time.Time, skew time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// FromOAuth2Token converts a token returned by golang.org/x/oauth2, reading
// the SMART context claims from its extra fields.
func FromOAuth2Token(tok *oauth2.Token, endpoints Endpoints, now time.Time) *TokenResponse {
	tr := &TokenResponse{
		AccessToken:   tok.AccessToken,
		TokenType:     tok.TokenType,
		RefreshToken:  tok.RefreshToken,
		ExpiresAt:     tok.Expiry,
		Issuer:        endpoints.Issuer,
		TokenEndpoint: endpoints.TokenEndpoint,
		OIDCIssuer:    endpoints.OIDCIssuer,
		JWKSURI:       endpoints.JWKSURI,
	}
	if !tok.Expiry.IsZero() {
		tr.ExpiresIn = int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
	}
	tr.Scope = extraString(tok, "scope")
	tr.IDToken = extraString(tok, "id_token")
	tr.Patient = extraString(tok, "patient")
	tr.Encounter = extraString(tok, "encounter")
	tr.SmartStyleURL = extraString(tok, "smart_style_url")
	if v, ok := tok.Extra("need_patient_banner").(bool); ok {
		tr.NeedPatientBanner = v
	}
	return tr
}

// Endpoints returns what is needed to refresh the token and verify the ID
// tokens it is refreshed with.
func (t *TokenResponse) Endpoints() Endpoints {
	return Endpoints{
		Issuer:        t.Issuer,
		TokenEndpoint: t.TokenEndpoint,
		OIDCIssuer:    t.OIDCIssuer,
		JWKSURI:       t.JWKSURI,
	}
}

// Supersede returns the refreshed token, carrying over the launch context
// claims the refresh response did not repeat.
func (t *TokenResponse) Supersede(next *TokenResponse) *TokenResponse {
	merged := *next
	if merged.RefreshToken == "" {
		merged.RefreshToken = t.RefreshToken
	}
	if merged.Scope == "" {
		merged.Scope = t.Scope
	}
	if merged.Patient == "" {
		merged.Patient = t.Patient
	}
	if merged.Encounter == "" {
		merged.Encounter = t.Encounter
	}
	if merged.IDToken == "" {
		merged.IDToken = t.IDToken
	}
	if merged.FHIRUser == "" {
		merged.FHIRUser = t.FHIRUser
	}
	if merged.Subject == "" {
		merged.Subject = t.Subject
	}
	if merged.SmartStyleURL == "" {
		merged.SmartStyleURL = t.SmartStyleURL
	}
	if !merged.NeedPatientBanner {
		merged.NeedPatientBanner = t.NeedPatientBanner
	}
	if merged.Issuer == "" {
		merged.Issuer = t.Issuer
	}
	if merged.TokenEndpoint == "" {
		merged.TokenEndpoint = t.TokenEndpoint
	}
	if merged.OIDCIssuer == "" {
		merged.OIDCIssuer = t.OIDCIssuer
	}
	if merged.JWKSURI == "" {
		merged.JWKSURI = t.JWKSURI
	}
	return &merged
}

func extraString(tok *oauth2.Token, key string) string {
	if v, ok := tok.Extra(key).(string); ok {
		return v
	}
	return ""
}
