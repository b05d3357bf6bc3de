package authserver_test

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-smart-launch/authserver"
	"github.com/jrsteele09/go-smart-launch/internal/ehrtest"
	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	ehr    *ehrtest.Server
	client *authserver.Client
	now    time.Time
}

func setupTestFixture(t *testing.T, opts ...authserver.ClientOption) *testFixture {
	t.Helper()
	f := &testFixture{
		ehr: ehrtest.New(t),
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	original := authserver.NowTimeFunc
	authserver.NowTimeFunc = func() time.Time { return f.now }
	t.Cleanup(func() { authserver.NowTimeFunc = original })

	httpClient := f.ehr.Client()
	httpClient.Timeout = 5 * time.Second
	opts = append([]authserver.ClientOption{authserver.WithHTTPClient(httpClient)}, opts...)
	f.client = authserver.NewClient(authserver.Credentials{
		ClientID:     ehrtest.ClientID,
		ClientSecret: ehrtest.ClientSecret,
	}, opts...)
	return f
}

func TestDiscover(t *testing.T) {
	ctx := context.Background()

	t.Run("smart-configuration", func(t *testing.T) {
		f := setupTestFixture(t)

		endpoints, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		require.Equal(t, f.ehr.AuthorizeURL(), endpoints.AuthorizationEndpoint)
		require.Equal(t, f.ehr.TokenURL(), endpoints.TokenEndpoint)
		require.Equal(t, f.ehr.Issuer(), endpoints.Issuer)
		require.Equal(t, 0, f.ehr.MetadataHits())
	})

	t.Run("trailing slash shares cache entry", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		_, err = f.client.Discover(ctx, f.ehr.Issuer()+"/")
		require.NoError(t, err)
		require.Equal(t, 1, f.ehr.WellKnownHits())
	})

	t.Run("falls back to metadata", func(t *testing.T) {
		f := setupTestFixture(t)
		f.ehr.SetWellKnown(http.StatusNotFound, "not here")
		f.ehr.EnableMetadata()

		endpoints, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		require.Equal(t, f.ehr.TokenURL(), endpoints.TokenEndpoint)
		require.Equal(t, 1, f.ehr.MetadataHits())
	})

	t.Run("malformed document", func(t *testing.T) {
		f := setupTestFixture(t)
		f.ehr.SetWellKnown(http.StatusOK, `{"authorization_endpoint":"https://ehr.example.com/authorize"}`)

		_, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.ErrorIs(t, err, apperrors.ErrDiscoveryFailed)
		require.ErrorContains(t, err, "token_endpoint")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		f := setupTestFixture(t)
		f.ehr.SetWellKnown(http.StatusOK, `<html>`)

		_, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.ErrorIs(t, err, apperrors.ErrDiscoveryFailed)
	})

	t.Run("server error", func(t *testing.T) {
		f := setupTestFixture(t)
		f.ehr.SetWellKnown(http.StatusInternalServerError, "boom")

		_, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.ErrorIs(t, err, apperrors.ErrDiscoveryFailed)
		var upstream *apperrors.UpstreamError
		require.ErrorAs(t, err, &upstream)
		require.Equal(t, http.StatusInternalServerError, upstream.StatusCode)
	})

	t.Run("unreachable host", func(t *testing.T) {
		f := setupTestFixture(t)
		issuer := f.ehr.Issuer()
		f.ehr.Close()

		_, err := f.client.Discover(ctx, issuer)
		require.ErrorIs(t, err, apperrors.ErrDiscoveryFailed)
	})
}

func TestDiscoverCache(t *testing.T) {
	ctx := context.Background()

	t.Run("reused within TTL and refetched after", func(t *testing.T) {
		f := setupTestFixture(t, authserver.WithDiscoveryTTL(time.Minute))

		_, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		f.now = f.now.Add(59 * time.Second)
		_, err = f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		require.Equal(t, 1, f.ehr.WellKnownHits())

		f.now = f.now.Add(time.Second)
		_, err = f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		require.Equal(t, 2, f.ehr.WellKnownHits())
	})

	t.Run("failures are not cached", func(t *testing.T) {
		f := setupTestFixture(t)
		f.ehr.SetWellKnown(http.StatusServiceUnavailable, "")

		_, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.Error(t, err)

		f.ehr.SetWellKnown(0, "")
		_, err = f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		require.Equal(t, 2, f.ehr.WellKnownHits())
	})

	t.Run("hard expiry without grace", func(t *testing.T) {
		f := setupTestFixture(t, authserver.WithDiscoveryTTL(time.Minute))

		_, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)

		f.ehr.SetWellKnown(http.StatusServiceUnavailable, "")
		f.now = f.now.Add(2 * time.Minute)
		_, err = f.client.Discover(ctx, f.ehr.Issuer())
		require.ErrorIs(t, err, apperrors.ErrDiscoveryFailed)
	})

	t.Run("stale served within grace only", func(t *testing.T) {
		f := setupTestFixture(t, authserver.WithDiscoveryTTL(time.Minute), authserver.WithDiscoveryGrace(time.Minute))

		_, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)

		f.ehr.SetWellKnown(http.StatusServiceUnavailable, "")
		f.now = f.now.Add(90 * time.Second)
		endpoints, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		require.Equal(t, f.ehr.TokenURL(), endpoints.TokenEndpoint)

		f.now = f.now.Add(time.Minute)
		_, err = f.client.Discover(ctx, f.ehr.Issuer())
		require.ErrorIs(t, err, apperrors.ErrDiscoveryFailed)
	})

	t.Run("concurrent misses share a fetch", func(t *testing.T) {
		f := setupTestFixture(t)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.client.Discover(ctx, f.ehr.Issuer())
				require.NoError(t, err)
			}()
		}
		close(start)
		wg.Wait()
		require.LessOrEqual(t, f.ehr.WellKnownHits(), 2)
	})

	t.Run("cancelled caller does not fail others sharing the fetch", func(t *testing.T) {
		f := setupTestFixture(t)
		release := f.ehr.HoldWellKnown(t)

		ctxA, cancelA := context.WithCancel(ctx)
		defer cancelA()
		errA := make(chan error, 1)
		go func() {
			_, err := f.client.Discover(ctxA, f.ehr.Issuer())
			errA <- err
		}()
		require.Eventually(t, func() bool { return f.ehr.WellKnownHits() == 1 }, 2*time.Second, 5*time.Millisecond)

		type result struct {
			endpoints smart.Endpoints
			err       error
		}
		resB := make(chan result, 1)
		go func() {
			endpoints, err := f.client.Discover(ctx, f.ehr.Issuer())
			resB <- result{endpoints, err}
		}()
		// let the second caller join the in-flight fetch
		time.Sleep(50 * time.Millisecond)

		cancelA()
		err := <-errA
		require.ErrorIs(t, err, apperrors.ErrDiscoveryFailed)
		require.ErrorIs(t, err, context.Canceled)

		release()
		res := <-resB
		require.NoError(t, res.err)
		require.Equal(t, f.ehr.TokenURL(), res.endpoints.TokenEndpoint)
		require.Equal(t, 1, f.ehr.WellKnownHits())
	})

	t.Run("clear cache", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		f.client.ClearCache()
		_, err = f.client.Discover(ctx, f.ehr.Issuer())
		require.NoError(t, err)
		require.Equal(t, 2, f.ehr.WellKnownHits())
	})
}

func TestAuthorizationURL(t *testing.T) {
	f := setupTestFixture(t)
	endpoints := smart.Endpoints{
		AuthorizationEndpoint: "https://ehr.example.com/authorize?tenant=acme",
		TokenEndpoint:         "https://ehr.example.com/token",
	}
	const redirect = "https://app.example.com/callback?x=1"

	raw := f.client.AuthorizationURL(endpoints, smart.AuthorizationParams{
		ClientID:     "my-app",
		RedirectURI:  redirect,
		Scope:        "launch openid patient/Patient.read",
		State:        "state-1",
		Aud:          "https://ehr.example.com/fhir",
		Launch:       "xyz123",
		CodeVerifier: "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk",
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "ehr.example.com", u.Host)
	require.Equal(t, "/authorize", u.Path)

	q := u.Query()
	require.Equal(t, "acme", q.Get("tenant"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "my-app", q.Get("client_id"))
	require.Equal(t, redirect, q.Get("redirect_uri"))
	require.Equal(t, "launch openid patient/Patient.read", q.Get("scope"))
	require.Equal(t, "state-1", q.Get("state"))
	require.Equal(t, "https://ehr.example.com/fhir", q.Get("aud"))
	require.Equal(t, "xyz123", q.Get("launch"))
	require.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))

	t.Run("without PKCE", func(t *testing.T) {
		raw := f.client.AuthorizationURL(endpoints, smart.AuthorizationParams{ClientID: "my-app", State: "s", Aud: "a", Launch: "l"})
		u, err := url.Parse(raw)
		require.NoError(t, err)
		require.Empty(t, u.Query().Get("code_challenge"))
	})
}
