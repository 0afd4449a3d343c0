// Package fetch retrieves raw gazette summary documents. It owns all
// network I/O: rate limiting, bounded retry with exponential backoff, and
// the transient/permanent split the orchestrator acts on.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"opowatch-engine/internal/domain"
)

type Config struct {
	BaseURL     string // summary endpoint, date appended as /YYYYMMDD
	UserAgent   string
	MaxAttempts int // total tries per date, transient failures only
	RetryBase   time.Duration
}

type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *HostLimiter
}

func New(cfg Config, limiter *HostLimiter) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
	}
}

// Summary fetches the raw summary document for one date. Transient
// failures are retried up to cfg.MaxAttempts with doubling backoff;
// the caller only ever sees the final outcome.
func (c *Client) Summary(ctx context.Context, date domain.Date) ([]byte, error) {
	url := fmt.Sprintf("%s/%s", c.cfg.BaseURL, date.Compact())

	var lastErr error
	delay := c.cfg.RetryBase
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &Error{Kind: Permanent, Date: date, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}

		body, err := c.get(ctx, url, date)
		if err == nil {
			return body, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, url string, date domain.Date) ([]byte, error) {
	if err := c.limiter.WaitURL(ctx, url); err != nil {
		return nil, &Error{Kind: Permanent, Date: date, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: Permanent, Date: date, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/xml, text/xml, */*; q=0.01")

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, &Error{Kind: Transient, Date: date, Err: err}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: Permanent, Date: date, Err: ErrNoSummary}
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, &Error{Kind: Transient, Date: date, Err: fmt.Errorf("status %d", res.StatusCode)}
	case res.StatusCode >= 400:
		return nil, &Error{Kind: Permanent, Date: date, Err: fmt.Errorf("status %d", res.StatusCode)}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &Error{Kind: Transient, Date: date, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
