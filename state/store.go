package state

import (
	"context"
	"time"

	"github.com/jrsteele09/go-smart-launch/smart"
)

// Status is the outcome of presenting a state token value.
type Status int

const (
	StatusValid Status = iota
	StatusExpired
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Store persists issued state tokens.
//
// Consume must be atomic: for concurrent calls with the same value at most
// one returns StatusValid. A record past its expiry reports StatusExpired
// whether or not it was consumed before, for as long as the store retains
// it. Values never issued, already consumed or no longer retained report
// StatusUnknown.
type Store interface {
	Save(ctx context.Context, token smart.StateToken) error
	Consume(ctx context.Context, value string, now time.Time) (Status, *smart.StateToken, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}
