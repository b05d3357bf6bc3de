package state_test

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/jrsteele09/go-smart-launch/state"
	"github.com/stretchr/testify/require"
)

const testTTL = 10 * time.Minute

var testLaunch = smart.LaunchContext{
	Issuer:       "https://ehr.example.com/fhir",
	Launch:       "xyz123",
	CodeVerifier: "verifier",
}

// fakeClock drives state.NowTimeFunc
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func useFakeClock(t *testing.T) *fakeClock {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	original := state.NowTimeFunc
	state.NowTimeFunc = clock.Now
	t.Cleanup(func() { state.NowTimeFunc = original })
	return clock
}

func newMemoryManager(t *testing.T, capacity int) (*state.Manager, *state.MemoryStore) {
	t.Helper()
	store, err := state.NewMemoryStore(capacity)
	require.NoError(t, err)
	return state.NewManager(store, testTTL), store
}

func requireStatus(t *testing.T, err error, want state.Status) {
	t.Helper()
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrInvalidState))
	var verr *state.ValidationError
	require.True(t, apperrors.As(err, &verr))
	require.Equal(t, want, verr.Status)
}

func TestIssue(t *testing.T) {
	clock := useFakeClock(t)
	m, _ := newMemoryManager(t, 100)
	ctx := context.Background()

	token, err := m.Issue(ctx, testLaunch)
	require.NoError(t, err)
	require.Equal(t, clock.Now(), token.CreatedAt)
	require.Equal(t, clock.Now().Add(testTTL), token.ExpiresAt)
	require.Equal(t, testLaunch, token.Launch)

	raw, err := base64.RawURLEncoding.DecodeString(token.Value)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw)*8, 128)

	other, err := m.Issue(ctx, testLaunch)
	require.NoError(t, err)
	require.NotEqual(t, token.Value, other.Value)
}

func TestValidateAndConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("valid once then unknown", func(t *testing.T) {
		useFakeClock(t)
		m, _ := newMemoryManager(t, 100)

		token, err := m.Issue(ctx, testLaunch)
		require.NoError(t, err)

		launch, err := m.ValidateAndConsume(ctx, token.Value)
		require.NoError(t, err)
		require.Equal(t, testLaunch, launch)

		_, err = m.ValidateAndConsume(ctx, token.Value)
		requireStatus(t, err, state.StatusUnknown)
	})

	t.Run("never issued", func(t *testing.T) {
		useFakeClock(t)
		m, _ := newMemoryManager(t, 100)

		_, err := m.ValidateAndConsume(ctx, "never-issued")
		requireStatus(t, err, state.StatusUnknown)

		_, err = m.ValidateAndConsume(ctx, "")
		requireStatus(t, err, state.StatusUnknown)
	})

	t.Run("expired", func(t *testing.T) {
		clock := useFakeClock(t)
		m, _ := newMemoryManager(t, 100)

		token, err := m.Issue(ctx, testLaunch)
		require.NoError(t, err)

		clock.Advance(testTTL - time.Second)
		fresh, err := m.Issue(ctx, testLaunch)
		require.NoError(t, err)

		clock.Advance(time.Second)
		_, err = m.ValidateAndConsume(ctx, token.Value)
		requireStatus(t, err, state.StatusExpired)

		_, err = m.ValidateAndConsume(ctx, fresh.Value)
		require.NoError(t, err)
	})

	t.Run("expired after consumption reports expired", func(t *testing.T) {
		clock := useFakeClock(t)
		m, _ := newMemoryManager(t, 100)

		token, err := m.Issue(ctx, testLaunch)
		require.NoError(t, err)
		_, err = m.ValidateAndConsume(ctx, token.Value)
		require.NoError(t, err)

		clock.Advance(testTTL + time.Minute)
		_, err = m.ValidateAndConsume(ctx, token.Value)
		requireStatus(t, err, state.StatusExpired)
	})

	t.Run("concurrent consumers see exactly one valid", func(t *testing.T) {
		useFakeClock(t)
		m, _ := newMemoryManager(t, 100)

		token, err := m.Issue(ctx, testLaunch)
		require.NoError(t, err)

		const callers = 64
		var valid, rejected atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := m.ValidateAndConsume(ctx, token.Value); err == nil {
					valid.Add(1)
				} else {
					rejected.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), valid.Load())
		require.Equal(t, int32(callers-1), rejected.Load())
	})

	t.Run("evicted token reports unknown", func(t *testing.T) {
		useFakeClock(t)
		m, store := newMemoryManager(t, 2)

		first, err := m.Issue(ctx, testLaunch)
		require.NoError(t, err)
		_, err = m.Issue(ctx, testLaunch)
		require.NoError(t, err)
		_, err = m.Issue(ctx, testLaunch)
		require.NoError(t, err)
		require.Equal(t, 2, store.Len())

		_, err = m.ValidateAndConsume(ctx, first.Value)
		requireStatus(t, err, state.StatusUnknown)
	})
}

func TestSweep(t *testing.T) {
	clock := useFakeClock(t)
	m, store := newMemoryManager(t, 100)
	ctx := context.Background()

	expired, err := m.Issue(ctx, testLaunch)
	require.NoError(t, err)
	consumed, err := m.Issue(ctx, testLaunch)
	require.NoError(t, err)
	_, err = m.ValidateAndConsume(ctx, consumed.Value)
	require.NoError(t, err)

	clock.Advance(testTTL / 2)
	live, err := m.Issue(ctx, testLaunch)
	require.NoError(t, err)

	clock.Advance(testTTL/2 + time.Second)
	removed, err := m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.Equal(t, 1, store.Len())

	_, err = m.ValidateAndConsume(ctx, expired.Value)
	requireStatus(t, err, state.StatusUnknown)

	_, err = m.ValidateAndConsume(ctx, live.Value)
	require.NoError(t, err)
}
