package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"chirpwatch/relay/internal/feed"
)

// RSSFetcher pulls the account feed from a Nitter-style RSS mirror.
type RSSFetcher struct {
	instance  string
	healthURL string
	userAgent string
	client    *http.Client
	parser    *gofeed.Parser
}

// NewRSSFetcher returns a fetcher for the given mirror. When healthURL is
// non-empty, a healthy mirror is picked from that directory before each
// fetch, falling back to instance when the directory is unreachable.
func NewRSSFetcher(instance, healthURL, userAgent string) *RSSFetcher {
	return &RSSFetcher{
		instance:  strings.TrimRight(instance, "/"),
		healthURL: healthURL,
		userAgent: userAgent,
		client:    newHTTPClient(),
		parser:    gofeed.NewParser(),
	}
}

// Fetch retrieves and parses the RSS document for account. The returned
// items keep the feed's native order (newest first on Nitter mirrors); the
// delta selector reorders them for delivery.
func (f *RSSFetcher) Fetch(ctx context.Context, account string) ([]feed.Item, error) {
	instance := f.instance
	if f.healthURL != "" {
		picked, err := PickInstance(ctx, f.client, f.healthURL, f.userAgent)
		if err != nil {
			log.Warn().Err(err).Str("fallback", instance).Msg("Instance directory unavailable")
		} else {
			instance = strings.TrimRight(picked, "/")
		}
	}

	url := fmt.Sprintf("%s/%s/rss", instance, account)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", url, err)
	}
	defer res.Body.Close()

	if err := checkResponse(res, "xml"); err != nil {
		return nil, err
	}

	parsed, err := f.parser.Parse(res.Body)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid feed document from %s: %v", url, err)}
	}

	items := make([]feed.Item, 0, len(parsed.Items))
	for _, raw := range parsed.Items {
		item, err := buildRSSItem(raw, account)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	log.Debug().Str("instance", instance).Str("account", account).Int("items", len(items)).Msg("Fetched feed")
	return items, nil
}

// repostMarker prefixes the title of reposted entries on Nitter mirrors.
const repostMarker = "RT"

func buildRSSItem(raw *gofeed.Item, account string) (feed.Item, error) {
	if raw.PublishedParsed == nil {
		return feed.Item{}, &ParseError{Reason: fmt.Sprintf("item %q has no publication time", raw.Title)}
	}

	author := "@" + account
	if raw.DublinCoreExt != nil && len(raw.DublinCoreExt.Creator) > 0 {
		author = raw.DublinCoreExt.Creator[0]
	}

	body, media, links := parseDescription(raw.Description)

	return feed.Item{
		Author:    author,
		Permalink: raw.Link,
		CreatedAt: *raw.PublishedParsed,
		BodyText:  body,
		MediaURLs: media,
		LinkURLs:  links,
		IsRepost:  strings.HasPrefix(raw.Title, repostMarker),
	}, nil
}

// parseDescription extracts text, media and outbound links from the HTML body
// of one feed entry. Images and plain anchors are lifted out of the markup;
// mention and hashtag anchors are rewritten in place as canonical-domain
// markdown links.
func parseDescription(desc string) (text string, media, links []string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(desc))
	if err != nil {
		return strings.TrimSpace(desc), nil, nil
	}

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && src != "" {
			media = append(media, src)
		}
		sel.Remove()
	})

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href := sel.AttrOr("href", "")
		label := strings.TrimSpace(sel.Text())

		switch {
		case isMention(label, href):
			handle := strings.TrimPrefix(label, "@")
			sel.ReplaceWithHtml(fmt.Sprintf("[@%s](%s/%s)", handle, CanonicalBase, handle))
		case isHashtag(label, href):
			tag := strings.TrimPrefix(label, "#")
			sel.ReplaceWithHtml(fmt.Sprintf("[#%s](%s/hashtag/%s)", tag, CanonicalBase, tag))
		default:
			if href != "" {
				links = append(links, href)
			}
			sel.Remove()
		}
	})

	var paragraphs []string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		paragraphs = append(paragraphs, strings.TrimSpace(sel.Text()))
	})
	if len(paragraphs) > 0 {
		return strings.Join(paragraphs, "\n"), media, links
	}
	return strings.TrimSpace(doc.Text()), media, links
}

// isMention reports whether an anchor is a user mention: the label begins
// with @ and the href points at the mentioned handle.
func isMention(label, href string) bool {
	handle := strings.TrimPrefix(label, "@")
	return strings.HasPrefix(label, "@") && handle != "" && strings.Contains(href, "/"+handle)
}

// isHashtag reports whether an anchor is a hashtag search link.
func isHashtag(label, href string) bool {
	return strings.HasPrefix(label, "#") && len(label) > 1 &&
		(strings.Contains(href, "/search") || strings.Contains(href, "%23"))
}
