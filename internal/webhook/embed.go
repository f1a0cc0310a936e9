// Package webhook renders feed items into Discord-style webhook payloads and
// delivers them.
package webhook

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"chirpwatch/relay/internal/feed"
	"chirpwatch/relay/internal/fetch"
)

// MaxEmbedsPerPayload is the platform limit on embeds per webhook call.
const MaxEmbedsPerPayload = 10

const accentColor = 0x179cf0

var brandFooter = Footer{
	Text:    "Via X",
	IconURL: "https://i.imgur.com/PFGs0WA.png",
}

// Payload is one outbound webhook call.
type Payload struct {
	Content   string  `json:"content"`
	Embeds    []Embed `json:"embeds"`
	Username  string  `json:"username"`
	AvatarURL string  `json:"avatar_url"`
}

// Embed is one post's rendered card inside a payload.
type Embed struct {
	Title       string  `json:"title"`
	URL         string  `json:"url,omitempty"`
	Description string  `json:"description"`
	Timestamp   string  `json:"timestamp"`
	Color       int     `json:"color"`
	Footer      Footer  `json:"footer"`
	Image       *Image  `json:"image,omitempty"`
	Fields      []Field `json:"fields"`
}

type Footer struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url"`
}

type Image struct {
	URL string `json:"url"`
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Formatter renders items for one watched account.
type Formatter struct {
	account   string
	avatarURL string
	pingRoles []string
	proxyHost string // mirror host rewritten to the canonical domain in permalinks
}

// NewFormatter returns a formatter. instance is the mirror base URL whose
// host is substituted with the canonical domain when linking posts.
func NewFormatter(account, avatarURL, instance string, pingRoles []string) *Formatter {
	return &Formatter{
		account:   account,
		avatarURL: avatarURL,
		pingRoles: pingRoles,
		proxyHost: hostOf(instance),
	}
}

// Render splits items into payloads of at most MaxEmbedsPerPayload embeds
// each, preserving item order across batches.
func (f *Formatter) Render(items []feed.Item) []Payload {
	var payloads []Payload
	for start := 0; start < len(items); start += MaxEmbedsPerPayload {
		end := min(start+MaxEmbedsPerPayload, len(items))

		embeds := make([]Embed, 0, end-start)
		for _, item := range items[start:end] {
			embeds = append(embeds, f.embed(item))
		}

		payloads = append(payloads, Payload{
			Content:   f.mentionPrefix(),
			Embeds:    embeds,
			Username:  fmt.Sprintf("@%s - X", f.account),
			AvatarURL: f.avatarURL,
		})
	}
	return payloads
}

func (f *Formatter) embed(item feed.Item) Embed {
	title := fmt.Sprintf("New post by @%s", f.account)
	if item.IsRepost {
		title = fmt.Sprintf("Repost by @%s", f.account)
	}

	e := Embed{
		Title:       title,
		Description: cleanBody(item.BodyText),
		Timestamp:   item.CreatedAt.Format(time.RFC3339),
		Color:       accentColor,
		Footer:      brandFooter,
		Fields:      itemFields(item),
	}

	if len(item.MediaURLs) > 0 {
		e.Image = &Image{URL: item.MediaURLs[0]}
	}

	// Reposts never link to the canonical external post.
	if !item.IsRepost && item.Permalink != "" {
		e.URL = rewritePermalink(item.Permalink, f.proxyHost)
	}
	return e
}

// itemFields lists the media beyond the hero image, then the outbound links,
// each in original order.
func itemFields(item feed.Item) []Field {
	var fields []Field
	if len(item.MediaURLs) > 1 {
		for _, media := range item.MediaURLs[1:] {
			fields = append(fields, Field{Name: "Additional image:", Value: media})
		}
	}
	for _, link := range item.LinkURLs {
		fields = append(fields, Field{Name: "Link:", Value: link})
	}
	return fields
}

func (f *Formatter) mentionPrefix() string {
	var b strings.Builder
	for _, role := range f.pingRoles {
		fmt.Fprintf(&b, "<@&%s>", role)
	}
	return b.String()
}

var (
	// bareURLRe matches plain URLs but not markdown link targets, which are
	// preceded by an opening parenthesis.
	bareURLRe = regexp.MustCompile(`(^|[^(<])https?://\S+`)
	mentionRe = regexp.MustCompile(`(^|\s)@(\w+)`)
)

// cleanBody strips plain URLs from the body and rewrites bare @handle tokens
// into canonical profile links. Links the fetcher already rewrote are left
// alone.
func cleanBody(body string) string {
	body = bareURLRe.ReplaceAllString(body, "${1}")
	return mentionRe.ReplaceAllString(body, "${1}[@${2}]("+fetch.CanonicalBase+"/${2})")
}

// rewritePermalink substitutes the mirror host with the canonical domain and
// strips any URL fragment. A permalink not containing the mirror host is left
// unchanged apart from the fragment.
func rewritePermalink(link, proxyHost string) string {
	if proxyHost != "" {
		link = strings.Replace(link, proxyHost, hostOf(fetch.CanonicalBase), 1)
	}
	if idx := strings.Index(link, "#"); idx >= 0 {
		link = link[:idx]
	}
	return link
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	}
	return u.Host
}
