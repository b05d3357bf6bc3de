package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const (
	DefaultTTL = time.Hour

	// refreshSkew refreshes access tokens this long before they expire.
	refreshSkew = 30 * time.Second
)

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, current *smart.TokenResponse) (*smart.TokenResponse, error)
}

// Manager owns session lifecycle and token refresh
type Manager struct {
	repo      Repo
	refresher Refresher
	ttl       time.Duration

	// one refresh per session at a time, so rotated refresh tokens are
	// not redeemed twice
	refreshGroup singleflight.Group
}

func NewManager(repo Repo, refresher Refresher, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{repo: repo, refresher: refresher, ttl: ttl}
}

// Establish creates a session holding token. stateValue is recorded by
// fingerprint only.
func (m *Manager) Establish(ctx context.Context, token *smart.TokenResponse, stateValue string) (Session, error) {
	now := NowTimeFunc()
	s := Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		Token:     token,
	}
	if stateValue != "" {
		s.StateHistory = []string{smart.Fingerprint(stateValue)}
	}
	if err := m.repo.Upsert(ctx, s); err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", s.ID).
		Str("iss", token.Issuer).
		Time("expires_at", s.ExpiresAt).
		Msg("session established")
	return s, nil
}

// Get returns a live session. Expired sessions are removed and reported as
// ErrSessionExpired.
func (m *Manager) Get(ctx context.Context, sessionID string) (Session, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if s.Expired(NowTimeFunc()) {
		if err := m.repo.Delete(ctx, sessionID); err != nil {
			zerolog.Ctx(ctx).Err(err).Str("session_id", sessionID).Msg("failed to delete expired session")
		}
		return Session{}, apperrors.ErrSessionExpired
	}
	return s, nil
}

// AccessToken returns a usable token for the session, refreshing it first
// when it is about to expire and a refresh token is held. The refreshed
// token supersedes the stored one.
func (m *Manager) AccessToken(ctx context.Context, sessionID string) (*smart.TokenResponse, error) {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Token == nil {
		return nil, apperrors.ErrSessionNotFound
	}
	if !s.Token.Expired(NowTimeFunc(), refreshSkew) {
		return s.Token, nil
	}
	if s.Token.RefreshToken == "" {
		return nil, apperrors.Wrapf(apperrors.ErrSessionExpired, "access token expired")
	}

	// Other requests on this session may be waiting on the same refresh, so
	// it runs without this request's cancellation.
	shared := context.WithoutCancel(ctx)
	ch := m.refreshGroup.DoChan(sessionID, func() (interface{}, error) {
		// Reload in case a concurrent request already refreshed
		current, err := m.Get(shared, sessionID)
		if err != nil {
			return nil, err
		}
		if current.Token != nil && !current.Token.Expired(NowTimeFunc(), refreshSkew) {
			return current.Token, nil
		}

		next, err := m.refresher.Refresh(shared, current.Token)
		if err != nil {
			return nil, err
		}
		current.Token = next
		if err := m.repo.Upsert(shared, current); err != nil {
			return nil, fmt.Errorf("failed to store refreshed token: %w", err)
		}
		return next, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*smart.TokenResponse), nil
	}
}

// End destroys the session and the token it holds.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	if err := m.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("session_id", sessionID).Msg("session ended")
	return nil
}

// Sweep removes expired sessions.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.repo.DeleteExpired(ctx, NowTimeFunc())
}
