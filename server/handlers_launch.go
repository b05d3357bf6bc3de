package server

import (
	"net/http"

	"github.com/jrsteele09/go-smart-launch/launch"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/rs/zerolog"
)

// LaunchHandler receives the EHR launch and redirects the browser to the
// authorization server.
func (s *Server) LaunchHandler(errs *errorRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		redirect, err := s.launcher.HandleLaunch(r.Context(), q.Get(smart.ParamIss), q.Get(smart.ParamLaunch))
		if err != nil {
			errs.render(w, r, err)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
	}
}

// CallbackHandler completes the launch. On success the session cookie is set
// and the browser is sent to the presentation page.
func (s *Server) CallbackHandler(errs *errorRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.launcher.HandleCallback(r.Context(), launch.CallbackParamsFromQuery(r.URL.Query()))
		if err != nil {
			errs.render(w, r, err)
			return
		}

		// A previous session in this browser is replaced
		if previous, ok := s.sessionID(r); ok && previous != sess.ID {
			if err := s.sessions.End(r.Context(), previous); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Str("session_id", previous).Msg("failed to end previous session")
			}
		}

		if err := s.SetSessionCookie(w, r, sess); err != nil {
			errs.render(w, r, err)
			return
		}
		http.Redirect(w, r, RouteIndex, http.StatusFound)
	}
}
