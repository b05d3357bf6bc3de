package authserver

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// ExchangeCode redeems an authorization code at the token endpoint using
// HTTP Basic client authentication. It is never retried. An upstream 4xx
// wraps ErrAuthorizationDenied, anything else wraps ErrTokenExchangeFailed.
func (c *Client) ExchangeCode(ctx context.Context, endpoints smart.Endpoints, code, redirectURI, codeVerifier string) (*smart.TokenResponse, error) {
	conf := c.oauth2Config(endpoints)
	conf.RedirectURL = redirectURI

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	tok, err := conf.Exchange(c.withHTTPClient(ctx), code, opts...)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	tr := smart.FromOAuth2Token(tok, endpoints, NowTimeFunc())
	if tr.IDToken != "" {
		if err := c.verifyIDToken(ctx, endpoints, tr); err != nil {
			return nil, fmt.Errorf("%w: id_token: %w", apperrors.ErrTokenExchangeFailed, err)
		}
	}

	zerolog.Ctx(ctx).Info().
		Str("iss", endpoints.Issuer).
		Str("scope", tr.Scope).
		Bool("refreshable", tr.RefreshToken != "").
		Msg("authorization code exchanged")
	return tr, nil
}

// Refresh obtains a new access token with the refresh token of current.
// The result supersedes current, keeping launch context claims the server
// did not repeat. A new ID token is verified like one from ExchangeCode; if
// it fails, the identity of current is kept.
func (c *Client) Refresh(ctx context.Context, current *smart.TokenResponse) (*smart.TokenResponse, error) {
	if current == nil || current.RefreshToken == "" {
		return nil, apperrors.ErrNoRefreshToken
	}

	endpoints := current.Endpoints()
	conf := c.oauth2Config(endpoints)
	src := conf.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}

	next := smart.FromOAuth2Token(tok, endpoints, NowTimeFunc())
	if next.IDToken != "" {
		if err := c.verifyIDToken(ctx, endpoints, next); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("iss", current.Issuer).Msg("refreshed id_token rejected, keeping previous identity")
			next.IDToken, next.FHIRUser, next.Subject = "", "", ""
		}
	}
	zerolog.Ctx(ctx).Info().Str("iss", current.Issuer).Msg("access token refreshed")
	return current.Supersede(next), nil
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		upstream := &apperrors.UpstreamError{
			StatusCode: re.Response.StatusCode,
			Body:       truncate(string(re.Body), maxErrorBodySize),
		}
		if upstream.IsClientError() {
			return fmt.Errorf("%w: %w", apperrors.ErrAuthorizationDenied, upstream)
		}
		return fmt.Errorf("%w: %w", apperrors.ErrTokenExchangeFailed, upstream)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrTokenExchangeFailed, err)
}
