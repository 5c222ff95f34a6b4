package retry

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPDoer is satisfied by *http.Client and *Client alike.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps an HTTPDoer with the package's backoff policy. It retries
// transient failures (network errors, 429, 5xx) and returns client errors
// (4xx other than 429) untouched so callers can inspect the body.
type Client struct {
	client HTTPDoer
	policy Policy
}

// NewClient wraps client; nil gets a default http.Client with a 60s timeout
// sized for embedding batches.
func NewClient(client HTTPDoer, policy Policy) *Client {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if policy.Attempts <= 0 {
		policy = DefaultPolicy()
	}
	return &Client{client: client, policy: policy}
}

// Do executes the request under the retry policy. On the final attempt a
// retryable status is returned as-is for the caller to report.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.policy.Attempts; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("retry: reset request body: %w", err)
				}
				req.Body = body
			}

			timer := time.NewTimer(c.policy.delay(attempt))
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
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == c.policy.Attempts-1 {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("retry: server returned status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// retryableStatus: 429 and transient 5xx. Client errors are final.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
