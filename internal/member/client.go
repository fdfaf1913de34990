// Package member checks member identifiers against the eligibility service.
package member

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gyeh/claimcheck/internal/logging"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Retries    int           // extra attempts on 5xx and transport errors
	Backoff    time.Duration // first retry delay, doubled per attempt
	Logger     *slog.Logger
}

// Client answers whether a member exists. GET {base}/members/{id} returns
// 200 for a known member and 404 for an unknown one.
type Client struct {
	base    string
	http    *http.Client
	retries int
	backoff time.Duration
	logger  *slog.Logger

	group singleflight.Group
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("member service URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing member service URL: %w", err)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
		retries: opts.Retries,
		backoff: opts.Backoff,
		logger:  logging.Default(opts.Logger).With("component", "member"),
	}, nil
}

// Validate reports whether id names a known member. Concurrent calls for
// the same id share one request.
func (c *Client) Validate(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	v, err, _ := c.group.Do(id, func() (any, error) {
		return c.validate(ctx, id)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (c *Client) validate(ctx context.Context, id string) (bool, error) {
	u := c.base + "/members/" + url.PathEscape(id)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(delay):
			}
		}

		ok, retry, err := c.get(ctx, u)
		if err == nil {
			return ok, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		c.logger.Debug("member lookup retry", "attempt", attempt+1, "error", err)
	}
	return false, lastErr
}

func (c *Client) get(ctx context.Context, u string) (found, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, false, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, true, fmt.Errorf("querying member service: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, false, nil
	case resp.StatusCode >= 500:
		return false, true, fmt.Errorf("member service returned HTTP %d", resp.StatusCode)
	}
	return false, false, fmt.Errorf("member service returned HTTP %d", resp.StatusCode)
}
