package session_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-smart-launch/session"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestCookieCodec(t *testing.T) {
	f := setupTestFixture(t)
	codec, err := session.NewCookieCodec(testSecret)
	require.NoError(t, err)

	value, err := codec.Encode("session-1", f.now.Add(time.Hour))
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		id, err := codec.Decode(value)
		require.NoError(t, err)
		require.Equal(t, "session-1", id)
	})

	t.Run("session id is the jti claim", func(t *testing.T) {
		claims := jwt.MapClaims{}
		_, _, err := jwt.NewParser().ParseUnverified(value, claims)
		require.NoError(t, err)
		require.Equal(t, "session-1", claims["jti"])
		require.Equal(t, "smart-launch", claims["iss"])
		require.NotContains(t, claims, "sid")
	})

	t.Run("tampered", func(t *testing.T) {
		_, err := codec.Decode(value[:len(value)-2] + "xx")
		require.ErrorIs(t, err, session.ErrInvalidCookie)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := session.NewCookieCodec([]byte("another-secret-another-secret-xx"))
		require.NoError(t, err)
		_, err = other.Decode(value)
		require.ErrorIs(t, err, session.ErrInvalidCookie)
	})

	t.Run("unsigned token", func(t *testing.T) {
		none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			ID:        "session-1",
			Issuer:    "smart-launch",
			ExpiresAt: jwt.NewNumericDate(f.now.Add(time.Hour)),
		})
		forged, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = codec.Decode(forged)
		require.ErrorIs(t, err, session.ErrInvalidCookie)
	})

	t.Run("expired", func(t *testing.T) {
		f.now = f.now.Add(2 * time.Hour)
		_, err := codec.Decode(value)
		require.ErrorIs(t, err, session.ErrInvalidCookie)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := codec.Decode("not-a-jwt")
		require.ErrorIs(t, err, session.ErrInvalidCookie)
	})
}
