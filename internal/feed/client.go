package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mirrorwatch/internal/metrics"
)

const (
	defaultTimeout    = 20 * time.Second
	defaultMaxBody    = 2 << 20
	defaultRatePerSec = 1.0
	defaultBurst      = 2
	defaultUserAgent  = "mirrorwatch/1.0 (+feed poller)"

	defaultMaxIdleConns        = 32
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second
)

// Options tunes a Client. Zero values pick the defaults.
type Options struct {
	Timeout    time.Duration
	MaxBody    int64
	RatePerSec float64
	Burst      int
	UserAgent  string
}

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxBody <= 0 {
		o.MaxBody = defaultMaxBody
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = defaultRatePerSec
	}
	if o.Burst <= 0 {
		o.Burst = defaultBurst
	}
	if strings.TrimSpace(o.UserAgent) == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// StatusError reports a non-2xx response from a mirror.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Status)
}

// Source fetches and decodes one feed. mirror is the host the URL points at
// and keys the rate limiter.
type Source interface {
	Fetch(ctx context.Context, mirror, url string) ([]Item, error)
}

// Client is the HTTP Source. Timeouts are per request; connections are
// pooled across mirrors.
type Client struct {
	http *http.Client

	mu       sync.Mutex
	opt      Options
	limiters map[string]*rate.Limiter
}

func NewClient(opt Options) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		opt:      opt.normalized(),
		limiters: map[string]*rate.Limiter{},
	}
}

// Apply swaps the options. Existing limiters pick up the new rate.
func (c *Client) Apply(opt Options) {
	opt = opt.normalized()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opt = opt
	for _, l := range c.limiters {
		l.SetLimit(rate.Limit(opt.RatePerSec))
		l.SetBurst(opt.Burst)
	}
}

func (c *Client) options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opt
}

func (c *Client) limiter(mirror string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[mirror]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.opt.RatePerSec), c.opt.Burst)
		c.limiters[mirror] = l
	}
	return l
}

func (c *Client) Fetch(ctx context.Context, mirror, url string) ([]Item, error) {
	opt := c.options()

	waitStart := time.Now()
	if err := c.limiter(mirror).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", mirror, err)
	}
	if d := time.Since(waitStart); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(mirror, d)
	}

	ctx, cancel := context.WithTimeout(ctx, opt.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", opt.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, opt.MaxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	items, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return items, nil
}
