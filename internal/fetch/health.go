package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// instanceStatus is one entry of the mirror health directory.
type instanceStatus struct {
	URL          string `json:"url"`
	Healthy      bool   `json:"healthy"`
	Connectivity bool   `json:"connectivity"`
	RSS          bool   `json:"rss"`
	Degraded     bool   `json:"degraded"`
}

// PickInstance queries the mirror health directory and returns the first
// mirror that is healthy, reachable, serves RSS and is not flagged degraded.
func PickInstance(ctx context.Context, client *http.Client, directoryURL, userAgent string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directoryURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch instance directory: %w", err)
	}
	defer res.Body.Close()

	if err := checkResponse(res, "json"); err != nil {
		return "", err
	}

	var hosts []instanceStatus
	if err := json.NewDecoder(res.Body).Decode(&hosts); err != nil {
		return "", &ParseError{Reason: fmt.Sprintf("invalid instance directory: %v", err)}
	}

	for _, host := range hosts {
		if host.URL == "" {
			continue
		}
		if host.Healthy && host.Connectivity && host.RSS && !host.Degraded {
			return host.URL, nil
		}
	}
	return "", fmt.Errorf("no healthy instance in directory (%d candidates)", len(hosts))
}
