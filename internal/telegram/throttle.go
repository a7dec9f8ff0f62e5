package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/Aalis/tg-parse/internal/metrics"
)

// invoke performs one Bot API call with token-bucket pacing and bounded
// retry. Flood-wait responses are retried after the server-advised delay;
// other temporary failures back off exponentially.
func (c *Client) invoke(ctx context.Context, method string, params url.Values, result any) error {
	return retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			return c.call(ctx, method, params, result)
		},
		retry.Context(ctx),
		retry.Attempts(c.retries),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Temporary()
			}
			// Transport-level failures are worth another attempt.
			return true
		}),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				return apiErr.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)
}

// call wraps a single round trip with metrics.
func (c *Client) call(ctx context.Context, method string, params url.Values, result any) error {
	start := time.Now()
	err := c.post(ctx, method, params, result)
	metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	status := "ok"
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		status = strconv.Itoa(apiErr.Code)
		if apiErr.Code == http.StatusTooManyRequests {
			metrics.FloodWaitsTotal.Inc()
		}
	case err != nil:
		status = "transport_error"
	}
	metrics.APIRequestsTotal.WithLabelValues(method, status).Inc()
	return err
}
