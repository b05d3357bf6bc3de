package session_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jrsteele09/go-smart-launch/internal/db/dbtest"
	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/internal/secrets"
	"github.com/jrsteele09/go-smart-launch/session"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/stretchr/testify/require"
)

var testSession = session.Session{
	ID:        "session-1",
	CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	ExpiresAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	Token: &smart.TokenResponse{
		AccessToken:  "access-secret",
		RefreshToken: "refresh-secret",
		Patient:      "pat-1",
	},
	StateHistory: []string{"abc123"},
}

func TestInMemoryRepo(t *testing.T) {
	ctx := context.Background()
	repo := session.NewInMemoryRepo()

	require.Error(t, repo.Upsert(ctx, session.Session{}))
	require.NoError(t, repo.Upsert(ctx, testSession))

	got, err := repo.Get(ctx, testSession.ID)
	require.NoError(t, err)
	require.Equal(t, testSession, got)

	t.Run("returned copies are isolated", func(t *testing.T) {
		got.Token.AccessToken = "changed"
		got.StateHistory[0] = "changed"

		again, err := repo.Get(ctx, testSession.ID)
		require.NoError(t, err)
		require.Equal(t, "access-secret", again.Token.AccessToken)
		require.Equal(t, "abc123", again.StateHistory[0])
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, testSession.ID))
		_, err := repo.Get(ctx, testSession.ID)
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		require.NoError(t, repo.Delete(ctx, testSession.ID))
	})
}

func TestPGRepo(t *testing.T) {
	ctx := context.Background()
	box, err := secrets.NewBox(testSecret)
	require.NoError(t, err)

	t.Run("upsert seals the token", func(t *testing.T) {
		conn := &dbtest.FakeConn{}
		repo := session.NewPGRepo(conn, box)
		require.NoError(t, repo.Upsert(ctx, testSession))

		call := conn.LastCall()
		require.Contains(t, call.SQL, "ON CONFLICT (id) DO UPDATE")
		sealed := call.Args[1].([]byte)
		require.NotContains(t, string(sealed), "access-secret")
		require.NotContains(t, string(sealed), "refresh-secret")
	})

	t.Run("get opens the token", func(t *testing.T) {
		data, err := json.Marshal(testSession.Token)
		require.NoError(t, err)
		sealed, err := box.Seal(data)
		require.NoError(t, err)
		history, err := json.Marshal(testSession.StateHistory)
		require.NoError(t, err)

		conn := &dbtest.FakeConn{Rows: []dbtest.Row{{Values: []any{sealed, history, testSession.CreatedAt, testSession.ExpiresAt}}}}
		repo := session.NewPGRepo(conn, box)

		got, err := repo.Get(ctx, testSession.ID)
		require.NoError(t, err)
		require.Equal(t, testSession, got)
	})

	t.Run("missing session", func(t *testing.T) {
		repo := session.NewPGRepo(&dbtest.FakeConn{}, box)
		_, err := repo.Get(ctx, "missing")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		conn := &dbtest.FakeConn{Affected: 2}
		repo := session.NewPGRepo(conn, box)
		n, err := repo.DeleteExpired(ctx, testSession.ExpiresAt)
		require.NoError(t, err)
		require.Equal(t, 2, n)
		require.Contains(t, conn.LastCall().SQL, "expires_at <= $1")
	})
}
