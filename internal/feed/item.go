// Package feed defines the normalized post model shared by the fetchers,
// the formatter and the poller.
package feed

import (
	"fmt"
	"sort"
	"time"
)

// Item is one fetched post, normalized from either the RSS mirror or the
// JSON timeline API. Items are immutable once constructed.
type Item struct {
	Author    string    // display/account identifier
	Permalink string    // canonical URL to the original post
	CreatedAt time.Time // sole ordering key, always timezone-aware
	BodyText  string    // plain text, mentions/hashtags link-ified
	MediaURLs []string  // ordered; first element is the hero image
	LinkURLs  []string  // outbound links, distinct from media
	IsRepost  bool
}

func (i Item) String() string {
	return fmt.Sprintf("Item(author=%s, created=%s, repost=%v, links=%d, media=%d)",
		i.Author, i.CreatedAt.Format(time.RFC3339), i.IsRepost, len(i.LinkURLs), len(i.MediaURLs))
}

// Newer returns the items published strictly after since, sorted ascending by
// creation time for oldest-first delivery. The sort is stable, so items with
// equal timestamps keep their original relative order.
func Newer(items []Item, since time.Time) []Item {
	var newer []Item
	for _, item := range items {
		if item.CreatedAt.After(since) {
			newer = append(newer, item)
		}
	}
	sort.SliceStable(newer, func(a, b int) bool {
		return newer[a].CreatedAt.Before(newer[b].CreatedAt)
	})
	return newer
}
