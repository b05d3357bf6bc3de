package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jrsteele09/go-smart-launch/internal/db"
	"github.com/jrsteele09/go-smart-launch/internal/db/dbtest"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("applies every migration in order", func(t *testing.T) {
		conn := &dbtest.FakeConn{}
		require.NoError(t, db.Migrate(context.Background(), conn))
		require.Len(t, conn.Calls, len(db.Migrations))
		require.Contains(t, conn.Calls[0].SQL, "state_tokens")
		require.Contains(t, conn.Calls[1].SQL, "sessions")
		for _, c := range conn.Calls {
			require.Contains(t, c.SQL, "IF NOT EXISTS")
		}
	})

	t.Run("stops on first failure", func(t *testing.T) {
		conn := &dbtest.FakeConn{ExecErr: errors.New("boom")}
		err := db.Migrate(context.Background(), conn)
		require.ErrorContains(t, err, "001_state_tokens")
		require.Len(t, conn.Calls, 1)
	})
}

func TestIsNoRows(t *testing.T) {
	require.True(t, db.IsNoRows(dbtest.ErrNoRows))
	require.False(t, db.IsNoRows(nil))
	require.False(t, db.IsNoRows(errors.New("connection refused")))
}
