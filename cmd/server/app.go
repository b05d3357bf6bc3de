package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-smart-launch/authserver"
	"github.com/jrsteele09/go-smart-launch/internal/cleanup"
	"github.com/jrsteele09/go-smart-launch/internal/config"
	"github.com/jrsteele09/go-smart-launch/internal/db"
	"github.com/jrsteele09/go-smart-launch/internal/secrets"
	"github.com/jrsteele09/go-smart-launch/launch"
	"github.com/jrsteele09/go-smart-launch/server"
	"github.com/jrsteele09/go-smart-launch/session"
	"github.com/jrsteele09/go-smart-launch/state"
	"github.com/rs/zerolog"
)

// app is the wired service
type app struct {
	handler http.Handler
	cleanup *cleanup.Manager
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// secretReporter is implemented by the loaded configuration
type secretReporter interface {
	SessionSecretGenerated() bool
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := zerolog.Ctx(ctx)
	a := &app{}

	generated := false
	if r, ok := cfg.(secretReporter); ok {
		generated = r.SessionSecretGenerated()
	}
	logger.Info().
		Str("env", cfg.GetEnv()).
		Str("client_id", cfg.GetClientID()).
		Str("client_secret", config.Fingerprint(cfg.GetClientSecret())).
		Str("redirect_url", cfg.GetRedirectURL()).
		Strs("scopes", cfg.GetScopes()).
		Bool("pkce", cfg.GetPKCEEnabled()).
		Bool("dev_defaults", cfg.UsingDevDefaults()).
		Bool("postgres", cfg.UsePostgres()).
		Msg("configuration loaded")
	if generated {
		logger.Warn().Msg("SESSION_SECRET not set, sessions will not survive a restart")
	}

	httpClient := &http.Client{Timeout: cfg.GetHTTPTimeout()}
	authClient := authserver.NewClient(
		authserver.Credentials{ClientID: cfg.GetClientID(), ClientSecret: cfg.GetClientSecret()},
		authserver.WithHTTPClient(httpClient),
		authserver.WithDiscoveryTTL(cfg.GetDiscoveryTTL()),
		authserver.WithDiscoveryGrace(cfg.GetDiscoveryGrace()),
	)

	var (
		stateStore  state.Store
		sessionRepo session.Repo
	)
	if cfg.UsePostgres() {
		if generated {
			logger.Warn().Msg("stored sessions are sealed with a generated secret and cannot be read after a restart")
		}
		pool, err := db.NewPool(ctx, cfg.GetDatabaseURL(), cfg.GetDBMaxConns(), cfg.GetDBMinConns())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)

		if err := db.Migrate(ctx, db.FromPool(pool)); err != nil {
			a.close()
			return nil, err
		}
		box, err := secrets.NewBox(cfg.GetSessionSecret())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create secret box: %w", err)
		}
		stateStore = state.NewPGStoreFromPool(pool, box)
		sessionRepo = session.NewPGRepoFromPool(pool, box)
	} else {
		memStore, err := state.NewMemoryStore(cfg.GetStateCapacity())
		if err != nil {
			return nil, err
		}
		stateStore = memStore
		sessionRepo = session.NewInMemoryRepo()
	}

	states := state.NewManager(stateStore, cfg.GetStateTTL())
	sessions := session.NewManager(sessionRepo, authClient, cfg.GetSessionTTL())

	cookies, err := session.NewCookieCodec(cfg.GetSessionSecret())
	if err != nil {
		a.close()
		return nil, err
	}

	service, err := launch.NewService(
		launch.Deps{AuthServer: authClient, States: states, Sessions: sessions},
		launch.Settings{
			ClientID:    cfg.GetClientID(),
			RedirectURL: cfg.GetRedirectURL(),
			Scope:       cfg.GetScope(),
			PKCE:        cfg.GetPKCEEnabled(),
		},
	)
	if err != nil {
		a.close()
		return nil, err
	}

	srv, err := server.New(cfg, server.Deps{
		Launcher:   service,
		Sessions:   sessions,
		Cookies:    cookies,
		FHIRClient: httpClient,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.handler = srv

	a.cleanup = cleanup.NewManager(cfg.GetStateSweepInterval(), map[string]cleanup.Sweeper{
		"state_tokens": states,
		"sessions":     sessions,
	})
	return a, nil
}
