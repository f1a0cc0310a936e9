package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RejectedError reports a non-2xx response from the webhook endpoint.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("webhook rejected payload, status %d: %s", e.StatusCode, e.Body)
}

const errBodyLimit = 16 << 10

// Client posts payloads to one webhook endpoint. Requests pass through a
// limiter pacing calls under the platform rate limit; retry policy belongs to
// the caller, not here.
type Client struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient returns a delivery client for the given webhook URL.
func NewClient(url string) *Client {
	return &Client{
		url:     url,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// Deliver posts one payload. Any status above 299 is a *RejectedError carrying
// the status code and response body.
func (c *Client) Deliver(ctx context.Context, payload Payload) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to webhook: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode > 299 {
		resBody, err := io.ReadAll(io.LimitReader(res.Body, errBodyLimit))
		if err != nil {
			resBody = []byte("unable to read body")
		}
		return &RejectedError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(resBody))}
	}

	io.Copy(io.Discard, res.Body)
	return nil
}
