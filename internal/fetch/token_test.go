package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTokenFromCookie(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.SetCookie(w, &http.Cookie{Name: "gt", Value: "cookie-token", MaxAge: 10800})
		fmt.Fprint(w, "<html></html>")
	}))
	defer srv.Close()

	g := NewGuestTokens(srv.URL, "test-agent")

	token, err := g.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "cookie-token" {
		t.Errorf("token = %q, want %q", token, "cookie-token")
	}

	// Cached until expiry, so the second call must not hit the server.
	again, err := g.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again != "cookie-token" {
		t.Errorf("cached token = %q, want %q", again, "cookie-token")
	}
	if requests != 1 {
		t.Errorf("server saw %d requests, want 1", requests)
	}
}

func TestTokenFromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<script>document.cookie = "gt=body-token; Max-Age=3600; Path=/";</script>`)
	}))
	defer srv.Close()

	g := NewGuestTokens(srv.URL, "test-agent")
	token, err := g.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "body-token" {
		t.Errorf("token = %q, want %q", token, "body-token")
	}
}

func TestTokenRefreshAfterExpiry(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.SetCookie(w, &http.Cookie{Name: "gt", Value: fmt.Sprintf("token-%d", requests), MaxAge: 3600})
	}))
	defer srv.Close()

	g := NewGuestTokens(srv.URL, "test-agent")
	if _, err := g.Token(context.Background()); err != nil {
		t.Fatal(err)
	}

	g.expiry = time.Now().Add(-time.Second)

	token, err := g.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token != "token-2" {
		t.Errorf("token after expiry = %q, want %q", token, "token-2")
	}
}

func TestTokenUnreachable(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, "<html>no token here</html>")
	}))
	defer srv.Close()

	g := NewGuestTokens(srv.URL, "test-agent")
	_, err := g.Token(context.Background())
	if !errors.Is(err, ErrTokenUnreachable) {
		t.Fatalf("got %v, want ErrTokenUnreachable", err)
	}
	if requests != tokenAttempts {
		t.Errorf("server saw %d requests, want %d", requests, tokenAttempts)
	}
}

func TestFindCookieAssignments(t *testing.T) {
	tests := []struct {
		name string
		html string
		want map[string]string
	}{
		{
			name: "double quoted",
			html: `document.cookie = "gt=abc; Max-Age=3600";`,
			want: map[string]string{"gt": "abc", "Max-Age": "3600"},
		},
		{
			name: "single quoted",
			html: `document.cookie = 'gt=xyz; Max-Age=60';`,
			want: map[string]string{"gt": "xyz", "Max-Age": "60"},
		},
		{
			name: "backtick quoted",
			html: "document.cookie = `gt=tick; Max-Age=120`;",
			want: map[string]string{"gt": "tick", "Max-Age": "120"},
		},
		{
			name: "multiple assignments merge",
			html: `document.cookie = "gt=abc"; document.cookie = "Max-Age=99";`,
			want: map[string]string{"gt": "abc", "Max-Age": "99"},
		},
		{
			name: "valueless attributes ignored",
			html: `document.cookie = "gt=abc; Secure; Max-Age=5";`,
			want: map[string]string{"gt": "abc", "Max-Age": "5"},
		},
		{
			name: "no assignments",
			html: `<html>nothing</html>`,
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findCookieAssignments(tt.html)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("cookies mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
