package server

import (
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/rs/zerolog"
)

// IndexPageData is the model of templates/index.html. Only non-secret launch
// context is exposed.
type IndexPageData struct {
	AppName           string
	LoggedIn          bool
	Expired           bool
	Issuer            string
	Patient           string
	Encounter         string
	Scope             string
	FHIRUser          string
	NeedPatientBanner bool
	SmartStyleURL     string
	ExpiresAt         time.Time
}

// IndexHandler renders the post-launch page
func (s *Server) IndexHandler() (http.HandlerFunc, error) {
	tmpl, err := ParseTemplate("index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse index template: %w", err)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		data := IndexPageData{AppName: s.appName}

		if id, ok := s.sessionID(r); ok {
			sess, err := s.sessions.Get(r.Context(), id)
			switch {
			case err == nil && sess.Token != nil:
				data.LoggedIn = true
				data.Issuer = sess.Token.Issuer
				data.Patient = sess.Token.Patient
				data.Encounter = sess.Token.Encounter
				data.Scope = sess.Token.Scope
				data.FHIRUser = sess.Token.FHIRUser
				data.NeedPatientBanner = sess.Token.NeedPatientBanner
				data.SmartStyleURL = sess.Token.SmartStyleURL
				data.ExpiresAt = sess.ExpiresAt
			case apperrors.Is(err, apperrors.ErrSessionExpired):
				data.Expired = true
				s.ClearSessionCookie(w, r)
			case err != nil && !apperrors.Is(err, apperrors.ErrSessionNotFound):
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to load session")
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	}, nil
}

// LogoutHandler ends the session and clears the cookie
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if id, ok := s.sessionID(r); ok {
			if err := s.sessions.End(r.Context(), id); err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to end session")
			}
		}
		s.ClearSessionCookie(w, r)
		http.Redirect(w, r, RouteIndex, http.StatusFound)
	}
}

// HealthcheckHandler reports liveness only. It must not depend on any EHR.
func (s *Server) HealthcheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
