package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/go-smart-launch/internal/db"
	"github.com/jrsteele09/go-smart-launch/internal/secrets"
	"github.com/jrsteele09/go-smart-launch/smart"
)

// PGStore is a PostgreSQL-backed Store. Rows are keyed by the SHA-256 of the
// state value and the launch context is sealed, so a database dump reveals
// neither state values nor PKCE verifiers.
type PGStore struct {
	db  db.Conn
	box *secrets.Box
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a store over conn. Use NewPGStoreFromPool in production.
func NewPGStore(conn db.Conn, box *secrets.Box) *PGStore {
	return &PGStore{db: conn, box: box}
}

// NewPGStoreFromPool creates a store directly from a pgx pool.
func NewPGStoreFromPool(pool *pgxpool.Pool, box *secrets.Box) *PGStore {
	return NewPGStore(db.FromPool(pool), box)
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func (s *PGStore) Save(ctx context.Context, token smart.StateToken) error {
	data, err := json.Marshal(token.Launch)
	if err != nil {
		return fmt.Errorf("marshal launch context: %w", err)
	}
	sealed, err := s.box.Seal(data)
	if err != nil {
		return fmt.Errorf("seal launch context: %w", err)
	}

	const query = `INSERT INTO state_tokens (value_hash, sealed_launch, created_at, expires_at)
VALUES ($1, $2, $3, $4)`

	if _, err := s.db.Exec(ctx, query, hashValue(token.Value), sealed, token.CreatedAt, token.ExpiresAt); err != nil {
		return fmt.Errorf("save state token: %w", err)
	}
	return nil
}

// Consume marks the row consumed with a single conditional UPDATE so that
// concurrent callers cannot both succeed. When nothing was updated a second
// read tells Expired from Unknown.
func (s *PGStore) Consume(ctx context.Context, value string, now time.Time) (Status, *smart.StateToken, error) {
	if value == "" {
		return StatusUnknown, nil, nil
	}
	hash := hashValue(value)

	const consume = `UPDATE state_tokens SET consumed_at = $2
WHERE value_hash = $1 AND consumed_at IS NULL AND expires_at > $2
RETURNING sealed_launch, created_at, expires_at`

	var (
		sealed    []byte
		createdAt time.Time
		expiresAt time.Time
	)
	err := s.db.QueryRow(ctx, consume, hash, now).Scan(&sealed, &createdAt, &expiresAt)
	if err == nil {
		data, err := s.box.Open(sealed)
		if err != nil {
			return StatusUnknown, nil, fmt.Errorf("open launch context: %w", err)
		}
		var launch smart.LaunchContext
		if err := json.Unmarshal(data, &launch); err != nil {
			return StatusUnknown, nil, fmt.Errorf("unmarshal launch context: %w", err)
		}
		return StatusValid, &smart.StateToken{
			Value:     value,
			CreatedAt: createdAt,
			ExpiresAt: expiresAt,
			Launch:    launch,
		}, nil
	}
	if !db.IsNoRows(err) {
		return StatusUnknown, nil, fmt.Errorf("consume state token: %w", err)
	}

	const classify = `SELECT expires_at FROM state_tokens WHERE value_hash = $1`
	if err := s.db.QueryRow(ctx, classify, hash).Scan(&expiresAt); err != nil {
		if db.IsNoRows(err) {
			return StatusUnknown, nil, nil
		}
		return StatusUnknown, nil, fmt.Errorf("classify state token: %w", err)
	}
	if !now.Before(expiresAt) {
		return StatusExpired, nil, nil
	}
	return StatusUnknown, nil, nil
}

func (s *PGStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	const query = `DELETE FROM state_tokens WHERE expires_at <= $1`
	n, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("sweep state tokens: %w", err)
	}
	return int(n), nil
}
