package mphost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrBadStatus marks a fetch that reached the server but was answered
// with an error status.
var ErrBadStatus = errors.New("bad http status")

// Fetcher retrieves a document body. The policy evaluator separates
// ErrBadStatus from all other errors, which count as network faults.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

const (
	fetchConnectTimeout = 10 * time.Second
	fetchReadTimeout    = 10 * time.Second

	// a beatmap page fits well under this
	fetchBodyLimit = 4 << 20
)

// HTTPFetcher fetches beatmap pages from the osu! site.
type HTTPFetcher struct {
	client *http.Client
	log    zerolog.Logger
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			// The transport timeouts below stop at the response
			// headers; this one also bounds the body read, which
			// otherwise could stall the session loop forever.
			Timeout: fetchConnectTimeout + fetchReadTimeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: fetchConnectTimeout}).DialContext,
				TLSHandshakeTimeout:   fetchConnectTimeout,
				ResponseHeaderTimeout: fetchReadTimeout,
			},
		},
		log: log.Logger.With().Str("caller", "Fetcher").Logger(),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer res.Body.Close()

	f.log.Debug().Str("url", url).Int("status", res.StatusCode).Msg("fetched")
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("get %s: status %d: %w", url, res.StatusCode, ErrBadStatus)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, fetchBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

// CachedFetcher memoizes successful fetches so repeated picks of the
// same map within the TTL reuse one page load. Failures are not cached.
type CachedFetcher struct {
	next  Fetcher
	cache *cache.Cache
}

func NewCachedFetcher(next Fetcher, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (f *CachedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if body, ok := f.cache.Get(url); ok {
		return body.([]byte), nil
	}
	body, err := f.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	f.cache.SetDefault(url, body)
	return body, nil
}
