package server

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/rs/zerolog"
)

// maxFHIRResponseSize caps proxied FHIR responses.
const maxFHIRResponseSize = 10 << 20

// proxiedHeaders are copied from the FHIR server response.
var proxiedHeaders = []string{"Content-Type", "ETag", "Last-Modified", "Location"}

// FHIRProxyHandler forwards read-only FHIR requests to the session's FHIR
// server with the session's bearer token, refreshing it when needed.
func (s *Server) FHIRProxyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		id, ok := s.sessionID(r)
		if !ok {
			writeOperationOutcome(w, http.StatusUnauthorized, "login", "no active launch session")
			return
		}

		token, err := s.sessions.AccessToken(r.Context(), id)
		if err != nil {
			switch {
			case apperrors.Is(err, apperrors.ErrSessionNotFound),
				apperrors.Is(err, apperrors.ErrSessionExpired),
				apperrors.Is(err, apperrors.ErrAuthorizationDenied):
				logger.Info().Err(err).Str("session_id", id).Msg("session cannot reach the FHIR server")
				s.ClearSessionCookie(w, r)
				writeOperationOutcome(w, http.StatusUnauthorized, "login", "launch session expired")
			default:
				logger.Error().Err(err).Str("session_id", id).Msg("failed to obtain access token")
				writeOperationOutcome(w, http.StatusBadGateway, "transient", "authorization server unavailable")
			}
			return
		}

		target, err := fhirURL(token.Issuer, r.PathValue("path"), r.URL.RawQuery)
		if err != nil {
			writeOperationOutcome(w, http.StatusBadRequest, "invalid", "invalid resource path")
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
		if err != nil {
			writeOperationOutcome(w, http.StatusBadRequest, "invalid", "invalid resource path")
			return
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		accept := r.Header.Get("Accept")
		if accept == "" || accept == "*/*" {
			accept = "application/fhir+json"
		}
		req.Header.Set("Accept", accept)

		resp, err := s.fhirClient.Do(req)
		if err != nil {
			logger.Warn().Err(err).Str("iss", token.Issuer).Msg("FHIR request failed")
			writeOperationOutcome(w, http.StatusBadGateway, "transient", "FHIR server unreachable")
			return
		}
		defer resp.Body.Close()

		for _, h := range proxiedHeaders {
			if v := resp.Header.Get(h); v != "" {
				w.Header().Set(h, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, io.LimitReader(resp.Body, maxFHIRResponseSize)); err != nil {
			logger.Warn().Err(err).Msg("failed to copy FHIR response")
		}
	}
}

// fhirURL resolves a relative resource path against the FHIR base URL. The
// result never leaves the base.
func fhirURL(base, resourcePath, rawQuery string) (string, error) {
	if resourcePath == "" {
		return "", apperrors.ErrNotFound
	}
	for _, segment := range strings.Split(resourcePath, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", apperrors.ErrNotFound
		}
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/") + "/" + resourcePath)
	if err != nil {
		return "", err
	}
	u.RawQuery = rawQuery
	return u.String(), nil
}

func writeOperationOutcome(w http.ResponseWriter, status int, code, diagnostics string) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"`+code+`","diagnostics":"`+diagnostics+`"}]}`)
}
