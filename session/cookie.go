package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-smart-launch/internal/secrets"
)

const (
	// CookieName is the browser cookie carrying the signed session reference.
	CookieName = "smart_session"

	cookieIssuer = "smart-launch"
)

var ErrInvalidCookie = errors.New("invalid session cookie")

// CookieCodec signs and verifies session references. The cookie value is an
// HS256 JWT carrying the session ID in its jti claim, with iss, iat and exp.
type CookieCodec struct {
	key []byte
}

// NewCookieCodec derives the signing key from the session secret.
func NewCookieCodec(secret []byte) (*CookieCodec, error) {
	key, err := secrets.DeriveKey(secret, secrets.PurposeSessionCookie)
	if err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}
	return &CookieCodec{key: key}, nil
}

// Encode returns the cookie value for a session.
func (c *CookieCodec) Encode(sessionID string, expiresAt time.Time) (string, error) {
	now := NowTimeFunc()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        sessionID,
		Issuer:    cookieIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies a cookie value and returns the session ID.
func (c *CookieCodec) Decode(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims,
		func(*jwt.Token) (interface{}, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return NowTimeFunc() }),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCookie, err)
	}
	if claims.ID == "" {
		return "", ErrInvalidCookie
	}
	return claims.ID, nil
}
