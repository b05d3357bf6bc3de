package authserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-smart-launch/internal/errors"
	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/rs/zerolog"
)

// Discover returns the authorization and token endpoints of iss. Results are
// cached per issuer for the discovery TTL. Concurrent misses share one fetch.
// Failures are never cached; a stale entry is served only within the grace
// window. Every failure wraps ErrDiscoveryFailed.
func (c *Client) Discover(ctx context.Context, iss string) (smart.Endpoints, error) {
	issuer := normaliseIssuer(iss)

	if endpoints, ok := c.cached(issuer, c.ttl); ok {
		return endpoints, nil
	}

	// The shared fetch outlives any one caller's cancellation. The HTTP
	// client timeout still bounds it.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(issuer, func() (interface{}, error) {
		// Another caller may have filled the cache while we waited
		if endpoints, ok := c.cached(issuer, c.ttl); ok {
			return endpoints, nil
		}

		switch result := c.fetch(shared, issuer).(type) {
		case smart.Discovered:
			c.mu.Lock()
			c.cache[issuer] = &discoveryCacheEntry{endpoints: result.Endpoints, fetchedAt: NowTimeFunc()}
			c.mu.Unlock()
			return result.Endpoints, nil

		case smart.Malformed:
			return c.staleOr(shared, issuer, fmt.Errorf("%w: %s: malformed configuration: %s", apperrors.ErrDiscoveryFailed, issuer, result.Reason))

		case smart.Unreachable:
			return c.staleOr(shared, issuer, fmt.Errorf("%w: %s: %w", apperrors.ErrDiscoveryFailed, issuer, result.Cause))

		default:
			return smart.Endpoints{}, fmt.Errorf("%w: %s: unexpected result %T", apperrors.ErrDiscoveryFailed, issuer, result)
		}
	})

	select {
	case <-ctx.Done():
		return smart.Endpoints{}, fmt.Errorf("%w: %s: %w", apperrors.ErrDiscoveryFailed, issuer, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return smart.Endpoints{}, res.Err
		}
		return res.Val.(smart.Endpoints), nil
	}
}

func (c *Client) cached(issuer string, maxAge time.Duration) (smart.Endpoints, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[issuer]
	if !ok {
		return smart.Endpoints{}, false
	}
	if NowTimeFunc().Sub(entry.fetchedAt) >= maxAge {
		return smart.Endpoints{}, false
	}
	return entry.endpoints, true
}

// staleOr serves a stale entry within the grace window, otherwise err.
func (c *Client) staleOr(ctx context.Context, issuer string, err error) (smart.Endpoints, error) {
	if c.grace > 0 {
		if endpoints, ok := c.cached(issuer, c.ttl+c.grace); ok {
			zerolog.Ctx(ctx).Warn().Err(err).Str("iss", issuer).Msg("discovery refetch failed, serving stale endpoints")
			return endpoints, nil
		}
	}
	return smart.Endpoints{}, err
}

// fetch tries the SMART configuration document first, then the FHIR
// conformance statement.
func (c *Client) fetch(ctx context.Context, issuer string) smart.DiscoveryResult {
	logger := zerolog.Ctx(ctx)

	result := c.fetchWellKnown(ctx, issuer)
	if _, ok := result.(smart.Discovered); ok {
		return result
	}
	logger.Debug().Str("iss", issuer).Str("result", describe(result)).Msg("smart-configuration unavailable, trying metadata")

	fallback := c.fetchCapabilityStatement(ctx, issuer)
	if _, ok := fallback.(smart.Discovered); ok {
		return fallback
	}
	logger.Debug().Str("iss", issuer).Str("result", describe(fallback)).Msg("metadata fallback failed")
	return result
}

func (c *Client) fetchWellKnown(ctx context.Context, issuer string) smart.DiscoveryResult {
	body, failed := c.get(ctx, issuer+smart.WellKnownPath, "application/json")
	if failed != nil {
		return failed
	}
	var conf smart.Configuration
	if err := json.Unmarshal(body, &conf); err != nil {
		return smart.Malformed{Reason: "invalid JSON: " + err.Error()}
	}
	endpoints, err := conf.Endpoints(issuer)
	if err != nil {
		return smart.Malformed{Reason: err.Error()}
	}
	return smart.Discovered{Endpoints: endpoints}
}

func (c *Client) fetchCapabilityStatement(ctx context.Context, issuer string) smart.DiscoveryResult {
	body, failed := c.get(ctx, issuer+smart.MetadataPath, "application/fhir+json, application/json")
	if failed != nil {
		return failed
	}
	var cs smart.CapabilityStatement
	if err := json.Unmarshal(body, &cs); err != nil {
		return smart.Malformed{Reason: "invalid CapabilityStatement: " + err.Error()}
	}
	conf, err := cs.Configuration()
	if err != nil {
		return smart.Malformed{Reason: err.Error()}
	}
	endpoints, err := conf.Endpoints(issuer)
	if err != nil {
		return smart.Malformed{Reason: err.Error()}
	}
	return smart.Discovered{Endpoints: endpoints}
}

// get returns the body of a 2xx response, or the failed discovery result.
func (c *Client) get(ctx context.Context, url, accept string) ([]byte, smart.DiscoveryResult) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, smart.Unreachable{Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, smart.Unreachable{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, smart.Unreachable{Cause: &apperrors.UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, smart.Unreachable{Cause: fmt.Errorf("read body: %w", err)}
	}
	if len(body) > maxBodySize {
		return nil, smart.Malformed{Reason: "document too large"}
	}
	return body, nil
}

func describe(result smart.DiscoveryResult) string {
	switch r := result.(type) {
	case smart.Malformed:
		return "malformed: " + r.Reason
	case smart.Unreachable:
		return "unreachable: " + r.Cause.Error()
	default:
		return fmt.Sprintf("%T", result)
	}
}

func normaliseIssuer(iss string) string {
	return strings.TrimRight(strings.TrimSpace(iss), "/")
}
