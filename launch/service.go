// Package launch runs the SMART EHR launch sequence: it turns a launch
// request into an authorization redirect and a callback into a session.
package launch

import (
	"context"
	"errors"
	"net/url"
	"strings"

	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/session"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/jrsteele09/go-smart-launch/state"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// AuthServer is the authorization server client the sequence talks to.
type AuthServer interface {
	Discover(ctx context.Context, iss string) (smart.Endpoints, error)
	AuthorizationURL(endpoints smart.Endpoints, params smart.AuthorizationParams) string
	ExchangeCode(ctx context.Context, endpoints smart.Endpoints, code, redirectURI, codeVerifier string) (*smart.TokenResponse, error)
}

// States issues and consumes state tokens.
type States interface {
	Issue(ctx context.Context, launch smart.LaunchContext) (smart.StateToken, error)
	ValidateAndConsume(ctx context.Context, value string) (smart.LaunchContext, error)
}

// Sessions stores the token of a completed launch.
type Sessions interface {
	Establish(ctx context.Context, token *smart.TokenResponse, stateValue string) (session.Session, error)
}

// Deps holds the collaborators of a Service
type Deps struct {
	AuthServer AuthServer
	States     States
	Sessions   Sessions
}

// Settings are the registered client values sent on every authorization
// request.
type Settings struct {
	ClientID    string
	RedirectURL string
	Scope       string
	PKCE        bool
}

// CallbackParams are the query parameters of the redirect back from the
// authorization server.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackParamsFromQuery reads the callback parameters from a request query.
func CallbackParamsFromQuery(q url.Values) CallbackParams {
	return CallbackParams{
		Code:             q.Get(smart.ParamCode),
		State:            q.Get(smart.ParamState),
		Error:            q.Get(smart.ParamError),
		ErrorDescription: q.Get(smart.ParamErrorDescription),
	}
}

type Service struct {
	deps     Deps
	settings Settings
}

func NewService(deps Deps, settings Settings) (*Service, error) {
	if deps.AuthServer == nil {
		return nil, errors.New("[NewService] AuthServer is required")
	}
	if deps.States == nil {
		return nil, errors.New("[NewService] States is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("[NewService] Sessions is required")
	}
	if settings.ClientID == "" || settings.RedirectURL == "" {
		return nil, apperrors.Wrapf(apperrors.ErrConfiguration, "[NewService] client id and redirect url are required")
	}
	return &Service{deps: deps, settings: settings}, nil
}

// HandleLaunch validates the EHR launch request, discovers the issuer's
// endpoints and returns the authorization URL to redirect the browser to.
// A state token is issued only once discovery has succeeded.
func (s *Service) HandleLaunch(ctx context.Context, iss, launch string) (string, error) {
	if err := ValidateIssuer(iss); err != nil {
		return "", err
	}
	if strings.TrimSpace(launch) == "" {
		return "", apperrors.Wrapf(apperrors.ErrMalformedLaunch, "missing %s parameter", smart.ParamLaunch)
	}

	endpoints, err := s.deps.AuthServer.Discover(ctx, iss)
	if err != nil {
		return "", err
	}
	if !endpoints.HasCapability(smart.CapabilityLaunchEHR) {
		zerolog.Ctx(ctx).Warn().Str("iss", iss).Strs("capabilities", endpoints.Capabilities).Msg("authorization server does not advertise launch-ehr")
	}

	launchCtx := smart.LaunchContext{
		Issuer:    iss,
		Launch:    launch,
		CreatedAt: state.NowTimeFunc(),
	}
	if s.settings.PKCE && endpoints.SupportsS256() {
		launchCtx.CodeVerifier = oauth2.GenerateVerifier()
	}

	token, err := s.deps.States.Issue(ctx, launchCtx)
	if err != nil {
		return "", err
	}

	redirect := s.deps.AuthServer.AuthorizationURL(endpoints, smart.AuthorizationParams{
		ClientID:     s.settings.ClientID,
		RedirectURI:  s.settings.RedirectURL,
		Scope:        s.settings.Scope,
		State:        token.Value,
		Aud:          iss,
		Launch:       launch,
		CodeVerifier: launchCtx.CodeVerifier,
	})

	zerolog.Ctx(ctx).Info().
		Str("iss", iss).
		Str("state", smart.Fingerprint(token.Value)).
		Bool("pkce", launchCtx.CodeVerifier != "").
		Msg("redirecting to authorization server")
	return redirect, nil
}

// HandleCallback validates the callback state and exchanges the code for a
// token, establishing a session. Missing parameters are rejected before the
// state is looked up. An upstream error is reported only after its state has
// been consumed.
func (s *Service) HandleCallback(ctx context.Context, params CallbackParams) (session.Session, error) {
	logger := zerolog.Ctx(ctx)

	if params.Error != "" {
		if params.State == "" {
			return session.Session{}, apperrors.Wrapf(apperrors.ErrMalformedCallback, "missing %s parameter", smart.ParamState)
		}
		if _, err := s.deps.States.ValidateAndConsume(ctx, params.State); err != nil {
			return session.Session{}, err
		}
		logger.Info().
			Str("error", params.Error).
			Str("state", smart.Fingerprint(params.State)).
			Msg("authorization server returned an error")
		return session.Session{}, apperrors.Wrapf(apperrors.ErrAuthorizationDenied, "%s", describeUpstreamError(params))
	}

	if params.Code == "" || params.State == "" {
		return session.Session{}, apperrors.Wrapf(apperrors.ErrMalformedCallback, "%s and %s are required", smart.ParamCode, smart.ParamState)
	}

	launchCtx, err := s.deps.States.ValidateAndConsume(ctx, params.State)
	if err != nil {
		return session.Session{}, err
	}

	endpoints, err := s.deps.AuthServer.Discover(ctx, launchCtx.Issuer)
	if err != nil {
		return session.Session{}, apperrors.Wrapf(apperrors.ErrTokenExchangeFailed, "rediscover token endpoint: %v", err)
	}

	token, err := s.deps.AuthServer.ExchangeCode(ctx, endpoints, params.Code, s.settings.RedirectURL, launchCtx.CodeVerifier)
	if err != nil {
		logger.Warn().Err(err).Str("iss", launchCtx.Issuer).Msg("code exchange failed")
		return session.Session{}, err
	}

	return s.deps.Sessions.Establish(ctx, token, params.State)
}

// ValidateIssuer accepts only absolute https URLs without user info or a
// fragment.
func ValidateIssuer(iss string) error {
	if iss == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidIssuer, "missing %s parameter", smart.ParamIss)
	}
	u, err := url.Parse(iss)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidIssuer, "unparseable url")
	}
	if !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return apperrors.Wrapf(apperrors.ErrInvalidIssuer, "must be an absolute https url")
	}
	if u.User != nil || u.Fragment != "" {
		return apperrors.Wrapf(apperrors.ErrInvalidIssuer, "must not carry user info or a fragment")
	}
	return nil
}

func describeUpstreamError(params CallbackParams) string {
	if params.ErrorDescription == "" {
		return params.Error
	}
	return params.Error + ": " + params.ErrorDescription
}
