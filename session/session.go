// Package session keeps the token obtained by a completed launch, bound to
// the browser through a signed cookie.
package session

import (
	"context"
	"time"

	"github.com/jrsteele09/go-smart-launch/smart"
)

type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time

	// Token is nil until a launch completes.
	Token *smart.TokenResponse

	// StateHistory holds fingerprints of the state tokens that established
	// the session, never raw values.
	StateHistory []string
}

// Expired reports whether the session is past its lifetime at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s Session) clone() Session {
	c := s
	if s.Token != nil {
		tok := *s.Token
		c.Token = &tok
	}
	c.StateHistory = append([]string(nil), s.StateHistory...)
	return c
}

type Repo interface {
	Upsert(ctx context.Context, session Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
