package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"path"

	"github.com/rs/zerolog"
)

func (s *Server) initRoutes() error {
	index, err := s.IndexHandler()
	if err != nil {
		return err
	}
	errorPage, err := ParseTemplate("error.html")
	if err != nil {
		return fmt.Errorf("failed to parse error template: %w", err)
	}
	errs := &errorRenderer{appName: s.appName, tmpl: errorPage}

	// SMART launch sequence
	s.RegisterRouteHandler("GET "+RouteLaunchHTML, ChainMiddleware(s.LaunchHandler(errs), s.ProtocolMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteLaunch, ChainMiddleware(s.LaunchHandler(errs), s.ProtocolMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(errs), s.ProtocolMiddleware()...))

	// Presentation
	s.RegisterRouteHandler("GET "+RouteIndex, ChainMiddleware(index, s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteRoot, ChainMiddleware(index, s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.ProtocolMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteFHIRProxy, ChainMiddleware(s.FHIRProxyHandler(), s.ProtocolMiddleware()...))

	// Liveness must not touch anything external
	s.RegisterRouteFunc("GET "+RouteHealthcheck, s.HealthcheckHandler())

	s.RegisterRouteHandler("GET "+RouteStaticResources, ChainMiddleware(s.serveFileHandler("resources"), s.StaticMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteStaticLib, ChainMiddleware(s.serveFileHandler("lib"), s.StaticMiddleware()...))
	return nil
}

func (s *Server) serveFileHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file := r.PathValue("file")
		filePath := path.Join(dir, file)
		if file == "" || !fs.ValidPath(file) {
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
		err := StreamFile(w, s.assets, filePath)
		if err != nil {
			logError(r, filePath, err)
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
	}
}

func logError(r *http.Request, filePath string, err error) {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		var displayMethod string
		paddedMethod := fmt.Sprintf(" %-7s", r.Method)
		if color, ok := methodColors[r.Method]; ok {
			displayMethod = color + paddedMethod + ResetColor
		} else {
			displayMethod = Gray + paddedMethod + ResetColor
		}
		zerolog.Ctx(r.Context()).Debug().Msgf("[%-19s] %s %s", displayMethod, filePath, Red+err.Error()+ResetColor)
		return
	}
	zerolog.Ctx(r.Context()).Warn().Err(err).Str("path", filePath).Msg("static file not served")
}
