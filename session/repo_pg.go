package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/go-smart-launch/internal/db"
	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/internal/secrets"
	"github.com/jrsteele09/go-smart-launch/smart"
)

// PGRepo is a PostgreSQL-backed Repo. Tokens are sealed before they are
// written.
type PGRepo struct {
	db  db.Conn
	box *secrets.Box
}

var _ Repo = (*PGRepo)(nil)

func NewPGRepo(conn db.Conn, box *secrets.Box) *PGRepo {
	return &PGRepo{db: conn, box: box}
}

func NewPGRepoFromPool(pool *pgxpool.Pool, box *secrets.Box) *PGRepo {
	return NewPGRepo(db.FromPool(pool), box)
}

func (r *PGRepo) Upsert(ctx context.Context, session Session) error {
	if session.ID == "" {
		return fmt.Errorf("sessionID is required")
	}

	var sealed []byte
	if session.Token != nil {
		data, err := json.Marshal(session.Token)
		if err != nil {
			return fmt.Errorf("marshal token: %w", err)
		}
		if sealed, err = r.box.Seal(data); err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
	}
	history, err := json.Marshal(append([]string{}, session.StateHistory...))
	if err != nil {
		return fmt.Errorf("marshal state history: %w", err)
	}

	const query = `INSERT INTO sessions (id, sealed_token, state_history, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET sealed_token  = EXCLUDED.sealed_token,
                               state_history = EXCLUDED.state_history,
                               expires_at    = EXCLUDED.expires_at`

	if _, err := r.db.Exec(ctx, query, session.ID, sealed, history, session.CreatedAt, session.ExpiresAt); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (r *PGRepo) Get(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, fmt.Errorf("sessionID is required")
	}

	const query = `SELECT sealed_token, state_history, created_at, expires_at FROM sessions WHERE id = $1`

	var (
		sealed  []byte
		history []byte
		s       = Session{ID: sessionID}
	)
	if err := r.db.QueryRow(ctx, query, sessionID).Scan(&sealed, &history, &s.CreatedAt, &s.ExpiresAt); err != nil {
		if db.IsNoRows(err) {
			return Session{}, apperrors.ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}

	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.StateHistory); err != nil {
			return Session{}, fmt.Errorf("unmarshal state history: %w", err)
		}
	}
	if len(sealed) > 0 {
		data, err := r.box.Open(sealed)
		if err != nil {
			return Session{}, fmt.Errorf("open token: %w", err)
		}
		var tok smart.TokenResponse
		if err := json.Unmarshal(data, &tok); err != nil {
			return Session{}, fmt.Errorf("unmarshal token: %w", err)
		}
		s.Token = &tok
	}
	return s, nil
}

func (r *PGRepo) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *PGRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(n), nil
}
