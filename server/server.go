package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/jrsteele09/go-smart-launch/internal/config"
	"github.com/jrsteele09/go-smart-launch/launch"
	"github.com/jrsteele09/go-smart-launch/session"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/rs/zerolog/log"
)

// Launcher runs the two halves of the launch sequence.
type Launcher interface {
	HandleLaunch(ctx context.Context, iss, launchToken string) (string, error)
	HandleCallback(ctx context.Context, params launch.CallbackParams) (session.Session, error)
}

// Sessions looks up and ends launch sessions.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (session.Session, error)
	AccessToken(ctx context.Context, sessionID string) (*smart.TokenResponse, error)
	End(ctx context.Context, sessionID string) error
}

var (
	_ Launcher = (*launch.Service)(nil)
	_ Sessions = (*session.Manager)(nil)
)

// Deps holds the collaborators of a Server
type Deps struct {
	Launcher Launcher
	Sessions Sessions
	Cookies  *session.CookieCodec

	// FHIRClient is used by the FHIR proxy. It should carry the outbound
	// timeout.
	FHIRClient *http.Client
}

type Server struct {
	env        string // Environment (e.g., "DEV", "PROD")
	appName    string
	mux        *http.ServeMux
	routes     []string
	assets     fs.FS
	launcher   Launcher
	sessions   Sessions
	cookies    *session.CookieCodec
	fhirClient *http.Client
}

func New(cfg config.EnvConfig, deps Deps) (*Server, error) {
	if deps.Launcher == nil {
		return nil, errors.New("[Server New] Launcher is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("[Server New] Sessions is required")
	}
	if deps.Cookies == nil {
		return nil, errors.New("[Server New] Cookies is required")
	}

	s := &Server{
		env:        cfg.GetEnv(),
		appName:    cfg.GetAppName(),
		mux:        http.NewServeMux(),
		launcher:   deps.Launcher,
		sessions:   deps.Sessions,
		cookies:    deps.Cookies,
		fhirClient: deps.FHIRClient,
	}
	if s.fhirClient == nil {
		s.fhirClient = http.DefaultClient
	}

	s.assets = StaticFilesFS()
	if dir := cfg.GetStaticDir(); dir != "" {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("[Server New] static dir %q is not a directory", dir)
		}
		s.assets = os.DirFS(dir)
	}

	if err := s.initRoutes(); err != nil {
		return nil, fmt.Errorf("[Server New] failed to initialise routes: %w", err)
	}
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != config.EnvDev {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Debug().Msgf("[%-19s] %s", displayMethod, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
