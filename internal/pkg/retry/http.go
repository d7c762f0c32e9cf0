package retry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/list-rotator/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *HTTPClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient wraps an HTTPDoer with retry on transient failures. Retries on
// retryable status codes (429, 500, 502, 503, 504) and network errors; never
// on client errors or context cancellation.
type HTTPClient struct {
	client HTTPDoer
	policy Policy
}

// NewHTTPClient wraps client with the given policy. A nil client gets a
// default http.Client with a 30s timeout; an empty policy gets DefaultPolicy
// with jitter enabled.
func NewHTTPClient(client HTTPDoer, policy Policy) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if policy.Attempts == 0 {
		policy = DefaultPolicy()
		policy.Jitter = true
	}
	return &HTTPClient{client: client, policy: policy}
}

// Do executes the request with retries. On the final attempt a retryable
// status is returned as-is so the caller can inspect the body.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.policy.Attempts; attempt++ {
		if attempt > 1 {
			// Reset the body for the re-attempt.
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("retry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := c.policy.Delay(attempt - 1)
			logger.Debug("retrying request",
				"attempt", attempt, "max", c.policy.Attempts,
				"method", req.Method, "path", req.URL.Path, "delay", delay.String())

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !RetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == c.policy.Attempts {
			return resp, nil
		}

		// Drain for connection reuse before retrying.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("retry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// RetryableStatus reports whether the HTTP status indicates a transient
// server-side failure.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
