// Package profile fetches optional display metadata for peers from an
// external user service, keyed by the externalId a client presents when it
// connects.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/metrics"
)

const maxProfileBodyBytes = 64 * 1024

var (
	ErrNotFound      = errors.New("profile not found")
	ErrInvalidID     = errors.New("invalid external id")
	ErrUpstreamError = errors.New("profile service error")
)

type Profile struct {
	ExternalID  string            `json:"externalId"`
	DisplayName string            `json:"displayName,omitempty"`
	AvatarURL   string            `json:"avatarUrl,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type Lookup interface {
	GetProfile(ctx context.Context, externalID string) (Profile, error)
}

// HTTPLookup issues GET <base>/<externalID> and decodes a JSON Profile.
type HTTPLookup struct {
	base   *url.URL
	client *http.Client
}

func NewHTTPLookup(baseURL string, client *http.Client) (*HTTPLookup, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse profile lookup url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("profile lookup url must be http or https, got %q", u.Scheme)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPLookup{base: u, client: client}, nil
}

func (l *HTTPLookup) GetProfile(ctx context.Context, externalID string) (Profile, error) {
	if !ValidExternalID(externalID) {
		return Profile{}, ErrInvalidID
	}
	target := l.base.JoinPath(externalID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBodyBytes))
		return Profile{}, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBodyBytes))
		return Profile{}, fmt.Errorf("%w: status %d", ErrUpstreamError, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBodyBytes)).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if p.ExternalID == "" {
		p.ExternalID = externalID
	}
	return p, nil
}

// ValidExternalID accepts 1-128 characters from [A-Za-z0-9._@-], excluding
// the dot segments "." and "..".
func ValidExternalID(id string) bool {
	if id == "" || len(id) > 128 || id == "." || id == ".." {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '@', c == '-':
		default:
			return false
		}
	}
	return true
}

// CachedLookup memoizes successful lookups for a TTL and collapses
// concurrent lookups of the same id into one upstream request.
type CachedLookup struct {
	next    Lookup
	cache   *expirable.LRU[string, Profile]
	group   singleflight.Group
	metrics *metrics.Metrics
}

func NewCachedLookup(next Lookup, size int, ttl time.Duration, m *metrics.Metrics) *CachedLookup {
	if size <= 0 {
		size = 1
	}
	return &CachedLookup{
		next:    next,
		cache:   expirable.NewLRU[string, Profile](size, nil, ttl),
		metrics: m,
	}
}

func (c *CachedLookup) GetProfile(ctx context.Context, externalID string) (Profile, error) {
	if p, ok := c.cache.Get(externalID); ok {
		c.metrics.Inc(metrics.EventProfileCacheHit)
		return p, nil
	}

	ch := c.group.DoChan(externalID, func() (any, error) {
		p, err := c.next.GetProfile(ctx, externalID)
		if err != nil {
			return Profile{}, err
		}
		c.cache.Add(externalID, p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return Profile{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.metrics.Inc(metrics.EventProfileLookupFailed)
			return Profile{}, res.Err
		}
		c.metrics.Inc(metrics.EventProfileLookupOK)
		return res.Val.(Profile), nil
	}
}

// Len reports cached entries.
func (c *CachedLookup) Len() int {
	return c.cache.Len()
}
