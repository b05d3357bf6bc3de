// Package state issues and validates the single-use state tokens that bind
// an authorization callback to the launch that started it.
package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/rs/zerolog"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// DefaultTTL is the validity window of a state token.
const DefaultTTL = 10 * time.Minute

// valueLength is the number of random bytes in a state value.
const valueLength = 32

// ValidationError reports why a state value was rejected. It wraps
// ErrInvalidState.
type ValidationError struct {
	Status Status
}

func (e *ValidationError) Error() string {
	return "state token " + e.Status.String()
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidState
}

// Manager issues and consumes state tokens
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager creates a manager over store. A non-positive ttl uses DefaultTTL.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

// Issue creates and stores a new state token bound to launch.
func (m *Manager) Issue(ctx context.Context, launch smart.LaunchContext) (smart.StateToken, error) {
	value, err := generateValue()
	if err != nil {
		return smart.StateToken{}, err
	}
	now := NowTimeFunc()
	token := smart.StateToken{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		Launch:    launch,
	}
	if err := m.store.Save(ctx, token); err != nil {
		return smart.StateToken{}, fmt.Errorf("failed to store state token: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("state", smart.Fingerprint(value)).
		Time("expires_at", token.ExpiresAt).
		Msg("state token issued")
	return token, nil
}

// ValidateAndConsume returns the launch context bound to value and marks the
// token consumed. Any second presentation fails. A rejected value yields a
// *ValidationError.
func (m *Manager) ValidateAndConsume(ctx context.Context, value string) (smart.LaunchContext, error) {
	status, token, err := m.store.Consume(ctx, value, NowTimeFunc())
	if err != nil {
		return smart.LaunchContext{}, fmt.Errorf("failed to consume state token: %w", err)
	}

	logger := zerolog.Ctx(ctx)
	if status != StatusValid {
		logger.Info().
			Str("state", smart.Fingerprint(value)).
			Stringer("status", status).
			Msg("state token rejected")
		return smart.LaunchContext{}, &ValidationError{Status: status}
	}

	logger.Debug().Str("state", smart.Fingerprint(value)).Msg("state token consumed")
	return token.Launch, nil
}

// Sweep removes expired tokens from the store.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.Sweep(ctx, NowTimeFunc())
}

func generateValue() (string, error) {
	b := make([]byte, valueLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
