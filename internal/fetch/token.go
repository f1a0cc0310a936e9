package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const tokenAttempts = 10

// cookieAssignRe matches document.cookie assignments in upstream HTML, with
// any of the three JS quoting styles.
var cookieAssignRe = regexp.MustCompile(
	`document\.cookie\s*=\s*"([^"]+)"` + "|" +
		`document\.cookie\s*=\s*'([^']+)'` + "|" +
		"document\\.cookie\\s*=\\s*`([^`]+)`")

// GuestTokens caches the upstream guest token and refreshes it when expired.
// It is used only by the driver loop goroutine, so no locking is needed.
type GuestTokens struct {
	origin    string
	userAgent string
	client    *http.Client

	token  string
	expiry time.Time
}

// NewGuestTokens returns a token source hitting the given origin (the
// canonical domain root page).
func NewGuestTokens(origin, userAgent string) *GuestTokens {
	if origin == "" {
		origin = CanonicalBase
	}
	return &GuestTokens{
		origin:    origin,
		userAgent: userAgent,
		client:    newHTTPClient(),
	}
}

// Token returns a valid guest token, refreshing it first when the cached one
// has expired. Refreshing is bounded; exhaustion surfaces as
// ErrTokenUnreachable.
func (g *GuestTokens) Token(ctx context.Context) (string, error) {
	if g.token != "" && time.Now().Before(g.expiry) {
		return g.token, nil
	}
	return g.refresh(ctx)
}

func (g *GuestTokens) refresh(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= tokenAttempts; attempt++ {
		token, maxAge, err := g.request(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Debug().Err(err).Int("attempt", attempt).Msg("Guest token request failed")
			continue
		}
		if token != "" && maxAge > 0 {
			g.token = token
			g.expiry = time.Now().Add(time.Duration(maxAge) * time.Second)
			log.Debug().Time("expiry", g.expiry).Msg("Refreshed guest token")
			return token, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTokenUnreachable, tokenAttempts)
}

// request performs one token fetch. The token arrives either as a response
// cookie or inside a document.cookie assignment in the page body.
func (g *GuestTokens) request(ctx context.Context) (token string, maxAge int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.origin, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", g.userAgent)

	res, err := g.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer res.Body.Close()

	for _, c := range res.Cookies() {
		if c.Name == "gt" && c.Value != "" {
			return c.Value, c.MaxAge, nil
		}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", 0, err
	}
	cookies := findCookieAssignments(string(body))
	maxAge, _ = strconv.Atoi(cookies["Max-Age"])
	return cookies["gt"], maxAge, nil
}

// findCookieAssignments collects the key/value pairs of every document.cookie
// assignment found in html.
func findCookieAssignments(html string) map[string]string {
	cookies := make(map[string]string)
	for _, match := range cookieAssignRe.FindAllStringSubmatch(html, -1) {
		assignment := match[1]
		if assignment == "" {
			assignment = match[2]
		}
		if assignment == "" {
			assignment = match[3]
		}
		for _, pair := range strings.Split(assignment, ";") {
			key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
			if !found {
				continue
			}
			cookies[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return cookies
}
