package authserver

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/rs/zerolog"
)

var supportedSigningAlgs = []string{oidc.RS256, oidc.RS384, oidc.ES256, oidc.ES384, oidc.PS256}

// verifyIDToken checks the signature and claims of tr.IDToken and copies
// the user identity into tr. Servers that did not advertise issuer and
// jwks_uri cannot be verified, so their identity claims are left empty.
func (c *Client) verifyIDToken(ctx context.Context, endpoints smart.Endpoints, tr *smart.TokenResponse) error {
	verifier := c.idTokenVerifier(endpoints)
	if verifier == nil {
		zerolog.Ctx(ctx).Debug().Str("iss", endpoints.Issuer).Msg("no issuer/jwks_uri advertised, id_token claims not trusted")
		return nil
	}

	idToken, err := verifier.Verify(oidc.ClientContext(ctx, c.httpClient), tr.IDToken)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	var claims struct {
		Sub      string `json:"sub"`
		FHIRUser string `json:"fhirUser"`
		Profile  string `json:"profile"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return fmt.Errorf("claims: %w", err)
	}

	tr.Subject = claims.Sub
	tr.FHIRUser = claims.FHIRUser
	if tr.FHIRUser == "" {
		tr.FHIRUser = claims.Profile
	}
	return nil
}

func (c *Client) idTokenVerifier(endpoints smart.Endpoints) *oidc.IDTokenVerifier {
	if endpoints.OIDCIssuer == "" || endpoints.JWKSURI == "" {
		return nil
	}
	key := endpoints.OIDCIssuer + " " + endpoints.JWKSURI

	c.verifiersMu.Lock()
	defer c.verifiersMu.Unlock()

	if v, ok := c.verifiers[key]; ok {
		return v
	}
	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), c.httpClient), endpoints.JWKSURI)
	v := oidc.NewVerifier(endpoints.OIDCIssuer, keySet, &oidc.Config{
		ClientID:             c.creds.ClientID,
		SupportedSigningAlgs: supportedSigningAlgs,
		Now:                  func() time.Time { return NowTimeFunc() },
	})
	c.verifiers[key] = v
	return v
}
