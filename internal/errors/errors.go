package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the SMART launch sequence
var (
	// Launch errors
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrMalformedLaunch = errors.New("malformed launch request")
	ErrDiscoveryFailed = errors.New("discovery failed")

	// Callback errors
	ErrMalformedCallback   = errors.New("malformed callback")
	ErrInvalidState        = errors.New("invalid state")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrAuthorizationDenied = errors.New("authorization denied")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrNoRefreshToken  = errors.New("no refresh token")

	// General errors
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// UpstreamError carries the status and a truncated body of a non-2xx
// response from an authorization server.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether the upstream rejected the request itself.
func (e *UpstreamError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Code returns the taxonomy name of the first sentinel in err's chain.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidIssuer):
		return "InvalidIssuer"
	case errors.Is(err, ErrMalformedLaunch):
		return "MalformedLaunch"
	case errors.Is(err, ErrDiscoveryFailed):
		return "DiscoveryFailed"
	case errors.Is(err, ErrMalformedCallback):
		return "MalformedCallback"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrAuthorizationDenied):
		return "AuthorizationDenied"
	case errors.Is(err, ErrTokenExchangeFailed):
		return "TokenExchangeFailed"
	case errors.Is(err, ErrConfiguration):
		return "ConfigurationError"
	default:
		return "InternalError"
	}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return errors.Join(errs...)
}
