package scraper

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricewatch/internal/config"
	"github.com/sells-group/pricewatch/internal/resilience"
)

const maxBodyBytes = 4 << 20

// Client fetches competitor pages with per-host pacing, retry with backoff,
// and a circuit breaker per host. All scrape strategies go through it.
type Client struct {
	http      *http.Client
	policy    resilience.Policy
	pacers    *resilience.PacerSet
	breakers  *resilience.BreakerSet
	userAgent string
}

// NewClient builds a Client from the scrape and retry configuration.
func NewClient(scrape config.ScrapeConfig, retry config.RetryConfig) *Client {
	timeout := time.Duration(scrape.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		policy:    resilience.PolicyFrom(retry.MaxAttempts, retry.InitialBackoffMS, retry.MaxBackoffMS, retry.Multiplier, retry.JitterFraction),
		pacers:    resilience.NewPacerSet(),
		breakers:  resilience.NewBreakerSet(resilience.DefaultBreakerConfig()),
		userAgent: scrape.UserAgent,
	}
}

// Get fetches a URL for the named competitor, honoring its inter-request
// delay. Non-2xx statuses are errors; transient statuses are retried.
func (c *Client) Get(ctx context.Context, competitor string, rateLimit time.Duration, url string) ([]byte, error) {
	policy := c.policy
	policy.OnRetry = resilience.RetryLogger(competitor, "GET "+url)
	breaker := c.breakers.Get(competitor)
	pacer := c.pacers.Get(competitor, rateLimit)

	return resilience.DoVal(ctx, policy, func(ctx context.Context) ([]byte, error) {
		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}
		var body []byte
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			body, err = c.fetch(ctx, url)
			return err
		})
		return body, err
	})
}

// GetJSON fetches a URL and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, competitor string, rateLimit time.Duration, url string, v any) error {
	body, err := c.Get(ctx, competitor, rateLimit, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return eris.Wrapf(err, "scraper: decode %s", url)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "scraper: build request %s", url)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.5")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "scraper: fetch %s", url), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "scraper: read %s", url), resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		err := eris.Errorf("scraper: %s returned status %d", url, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		zap.L().Debug("non-retryable status", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return nil, err
	}
	return body, nil
}
