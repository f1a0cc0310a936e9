// Package fetch retrieves raw feed content for a watched account and maps it
// into normalized feed items. Two upstream modes exist: an RSS mirror
// (RSSFetcher) and an authenticated JSON timeline API (APIFetcher).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chirpwatch/relay/internal/feed"
)

// CanonicalBase is the canonical domain posts are linked to in outbound
// messages, regardless of which mirror served the feed.
const CanonicalBase = "https://x.com"

// ErrUnexpectedContentType indicates the upstream responded with 2xx but not
// the expected structured format.
var ErrUnexpectedContentType = errors.New("unexpected content type")

// ErrTokenUnreachable indicates the guest token could not be obtained after
// the bounded number of attempts.
var ErrTokenUnreachable = errors.New("guest token unreachable")

// UpstreamError reports a non-2xx response from the feed upstream.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// ParseError reports an item missing a required field, or a response whose
// shape does not match the expected format. Items without a parseable
// timestamp are a hard failure, never silently dropped.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse failure: " + e.Reason
}

// Fetcher retrieves the current feed window for a named account.
type Fetcher interface {
	Fetch(ctx context.Context, account string) ([]feed.Item, error)
}

// newHTTPClient returns the client used for upstream calls. Upstreams have no
// SLA, so a hard timeout keeps a stuck mirror from wedging the poll loop.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

const errBodyLimit = 16 << 10 // enough for upstream error messages

// checkResponse validates status and content type, consuming the body on
// error paths. wantType is a substring match against the Content-Type header.
func checkResponse(res *http.Response, wantType string) error {
	if res.StatusCode > 299 {
		body, err := io.ReadAll(io.LimitReader(res.Body, errBodyLimit))
		if err != nil {
			body = []byte("unable to read body")
		}
		return &UpstreamError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if !strings.Contains(ct, wantType) {
		return fmt.Errorf("%w: got %q, expected %q", ErrUnexpectedContentType, ct, wantType)
	}
	return nil
}
