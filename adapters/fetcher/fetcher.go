// Package fetcher retrieves avatar images from a Gravatar-compatible
// provider over HTTP.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
	"github.com/Skryldev/grsync/utils"
)

const (
	DefaultBaseURL   = "https://gravatar.com/avatar"
	DefaultUserAgent = "grsync/0.1.0"
)

// Config configures an HTTP fetcher.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RatePerSecond <= 0 disables the outbound limiter.
	RatePerSecond float64
	Burst         int
	// MaxBytes bounds the response body; 0 means unbounded.
	MaxBytes int64
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Logger    core.Logger
}

// HTTP implements core.Fetcher.
type HTTP struct {
	client    *http.Client
	baseURL   string
	userAgent string
	maxBytes  int64
	logger    core.Logger
}

// New returns a rate-limited fetcher; empty fields take the package defaults.
func New(cfg Config) *HTTP {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger{}
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		transport = &rateLimitedTransport{
			rl: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
			tx: transport,
		}
	}
	return &HTTP{
		client:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		logger:    cfg.Logger,
	}
}

// URL returns the provider URL for identity at the given tier and size.
// The provider is asked to answer 404 rather than substitute its own
// placeholder.
func (f *HTTP) URL(identity string, rating core.Rating, size int) string {
	return fmt.Sprintf("%s/%s?r=%s&s=%d&d=404", f.baseURL, identity, rating.Code(), size)
}

// Fetch issues a single GET.  A non-2xx answer is reported as
// apperrors.ErrNotFound in the fetch category; there are no retries.
func (f *HTTP) Fetch(ctx context.Context, identity string, rating core.Rating, size int) (*core.FetchResult, error) {
	const op = "fetcher.fetch"
	target := f.URL(identity, rating, size)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryFetch, op, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryFetch, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Debug("provider returned no image", "identity", identity, "rating", rating.Code(), "status", resp.StatusCode)
		return nil, apperrors.New(apperrors.CategoryFetch, op,
			fmt.Errorf("%w: %s answered %d", apperrors.ErrNotFound, target, resp.StatusCode))
	}

	data, err := utils.ReadAll(ctx, &utils.LimitedReader{R: resp.Body, Max: f.maxBytes})
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryFetch, op, err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryFetch, op, apperrors.ErrEmptyInput)
	}
	return &core.FetchResult{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		URL:         target,
	}, nil
}

// rateLimitedTransport waits on a shared token bucket before each round
// trip.  Wait fails early when the request deadline cannot be met.
type rateLimitedTransport struct {
	rl *rate.Limiter
	tx http.RoundTripper
}

func (t *rateLimitedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.rl.Wait(r.Context()); err != nil {
		return nil, fmt.Errorf("rate limited: %w", err)
	}
	return t.tx.RoundTrip(r)
}

var _ core.Fetcher = (*HTTP)(nil)
