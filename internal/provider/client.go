// Package provider fetches teams, ratings, tournaments and city sign-ups
// from the rating site's JSON API and maps them onto domain types.
package provider

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	sonic "github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"chgkbot/internal/domain"
	logx "chgkbot/pkg/logx"
)

const (
	DefaultBaseURL = "https://rating.chgk.info"
	maxBodyBytes   = 4 << 20
)

var errTransient = errors.New("transient provider failure")

// errHTTPNotFound marks a 404 so callers can turn it into a user-facing error.
var errHTTPNotFound = errors.New("provider: resource not found")

type ClientConfig struct {
	HTTPClient *http.Client
	BaseURL    string
	// Timeout bounds one logical call, retries included.
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	MaxRetries int
	UserAgent  string
	Logger     logx.Logger
	// Now is the clock used for tournament status computation.
	Now func() time.Time
}

// Client talks to the rating site. It is safe for concurrent use; all calls
// share one token-bucket limiter.
type Client struct {
	http       *http.Client
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
	maxRetries int
	userAgent  string
	log        logx.Logger
	now        func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "chgkbot/1.0"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		http:       httpClient,
		baseURL:    baseURL,
		timeout:    timeout,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: max(cfg.MaxRetries, 0),
		userAgent:  ua,
		log:        cfg.Logger,
		now:        now,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// getJSON fetches path and decodes it into target. Failures are marked
// domain.ErrProviderFetch.
func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.execute(ctx, c.baseURL+path)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "GET %s", path), domain.ErrProviderFetch)
	}
	if err := sonic.Unmarshal(raw, target); err != nil {
		return errors.Mark(errors.Wrapf(err, "decode %s", path), domain.ErrProviderFetch)
	}
	return nil
}

func (c *Client) execute(ctx context.Context, fullURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limit wait")
		}
		raw, err := c.do(ctx, fullURL)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !errors.Is(err, errTransient) || attempt == c.maxRetries {
			break
		}

		timer := time.NewTimer(time.Duration(attempt+1) * 500 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	c.log.Warn("provider request failed", logx.String("url", fullURL), logx.Err(lastErr))
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "send request"), errTransient)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read body"), errTransient)
	}
	c.log.Debug("provider request",
		logx.String("url", fullURL),
		logx.Int("status", resp.StatusCode),
		logx.Duration("dur", time.Since(started)),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errHTTPNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.Mark(errors.Newf("status %d: %s", resp.StatusCode, abbreviate(raw)), errTransient)
	default:
		return nil, errors.Newf("status %d: %s", resp.StatusCode, abbreviate(raw))
	}
}

// abbreviate keeps the first 200 bytes of a response body, cut on a rune
// boundary.
func abbreviate(raw []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(raw))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func idPath(format string, id int64) string {
	return strings.Replace(format, "{id}", strconv.FormatInt(id, 10), 1)
}

// Ping checks that the site answers at all.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.execute(ctx, c.baseURL+"/"); err != nil && !errors.Is(err, errHTTPNotFound) {
		return errors.Mark(errors.Wrap(err, "ping"), domain.ErrProviderFetch)
	}
	return nil
}
