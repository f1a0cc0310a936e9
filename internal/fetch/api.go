package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"chirpwatch/relay/internal/feed"
)

// createdAtFormat is the timestamp layout of legacy tweet payloads.
const createdAtFormat = "Mon Jan 02 15:04:05 -0700 2006"

const defaultTimelineCount = 20

// APIFetcher pulls the account timeline from the authenticated JSON API.
// Requests carry a bearer token plus a guest token from the token source.
type APIFetcher struct {
	apiBase   string
	bearer    string
	userAgent string
	client    *http.Client
	tokens    *GuestTokens

	userID string // resolved from the account name on first fetch
}

// NewAPIFetcher returns an API fetcher. apiBase is the GraphQL endpoint root;
// empty selects the canonical one.
func NewAPIFetcher(apiBase, bearer, userAgent string, tokens *GuestTokens) *APIFetcher {
	if apiBase == "" {
		apiBase = CanonicalBase + "/i/api/graphql"
	}
	return &APIFetcher{
		apiBase:   strings.TrimRight(apiBase, "/"),
		bearer:    bearer,
		userAgent: userAgent,
		client:    newHTTPClient(),
		tokens:    tokens,
	}
}

// Fetch resolves the account to a user ID (cached across cycles) and
// retrieves its timeline.
func (f *APIFetcher) Fetch(ctx context.Context, account string) ([]feed.Item, error) {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if f.userID == "" {
		id, err := f.lookupUserID(ctx, account, token)
		if err != nil {
			return nil, err
		}
		f.userID = id
		log.Debug().Str("account", account).Str("user_id", id).Msg("Resolved account ID")
	}

	variables := map[string]any{
		"userId": f.userID,
		"count":  defaultTimelineCount,
	}
	var timeline timelineResponse
	if err := f.getJSON(ctx, "UserTweetsAndReplies", variables, token, &timeline); err != nil {
		return nil, err
	}

	if len(timeline.Errors) > 0 {
		messages := make([]string, 0, len(timeline.Errors))
		for _, e := range timeline.Errors {
			messages = append(messages, e.Message)
		}
		return nil, &UpstreamError{StatusCode: http.StatusOK, Body: strings.Join(messages, "; ")}
	}
	if timeline.Data == nil {
		return nil, &ParseError{Reason: "timeline response has no data"}
	}

	var items []feed.Item
	for _, ins := range timeline.Data.User.Result.TimelineV2.Timeline.Instructions {
		if ins.Type != "TimelineAddEntries" {
			continue
		}
		for _, entry := range ins.Entries {
			content := entry.Content.itemContent()
			if content == nil {
				// Cursor or module chrome, not a post.
				continue
			}
			item, err := buildAPIItem(content, account)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// lookupUserID resolves a screen name to the stable numeric user ID.
func (f *APIFetcher) lookupUserID(ctx context.Context, account, token string) (string, error) {
	var user userResponse
	variables := map[string]any{"screen_name": account}
	if err := f.getJSON(ctx, "UserByScreenName", variables, token, &user); err != nil {
		return "", err
	}
	if user.Data.User.Result.RestID == "" {
		return "", &ParseError{Reason: fmt.Sprintf("no user ID in lookup response for %q", account)}
	}
	return user.Data.User.Result.RestID, nil
}

func (f *APIFetcher) getJSON(ctx context.Context, operation string, variables map[string]any, guestToken string, out any) error {
	encoded, err := json.Marshal(variables)
	if err != nil {
		return fmt.Errorf("failed to encode variables: %w", err)
	}
	reqURL := fmt.Sprintf("%s/%s?variables=%s", f.apiBase, operation, url.QueryEscape(string(encoded)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build API request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", f.bearer)
	req.Header.Set("X-Guest-Token", guestToken)
	req.Header.Set("X-Twitter-Active-User", "yes")
	req.Header.Set("X-Twitter-Client-Language", "en-US")

	res, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", operation, err)
	}
	defer res.Body.Close()

	if err := checkResponse(res, "application/json"); err != nil {
		return err
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &ParseError{Reason: fmt.Sprintf("invalid %s response: %v", operation, err)}
	}
	return nil
}

func buildAPIItem(content *itemContent, account string) (feed.Item, error) {
	legacy := content.TweetResults.Result.Legacy
	if legacy == nil {
		return feed.Item{}, &ParseError{Reason: "timeline entry has no tweet payload"}
	}

	createdAt, err := time.Parse(createdAtFormat, legacy.CreatedAt)
	if err != nil {
		return feed.Item{}, &ParseError{Reason: fmt.Sprintf("tweet %s has bad creation time %q", legacy.IDStr, legacy.CreatedAt)}
	}

	var media, links []string
	if legacy.Entities != nil {
		for _, m := range legacy.Entities.Media {
			if m.Type == "photo" && m.MediaURLHTTPS != "" {
				media = append(media, m.MediaURLHTTPS)
			}
		}
		for _, u := range legacy.Entities.URLs {
			if u.ExpandedURL != "" {
				links = append(links, u.ExpandedURL)
			}
		}
	}

	return feed.Item{
		Author:    "@" + account,
		Permalink: fmt.Sprintf("%s/%s/status/%s", CanonicalBase, account, legacy.IDStr),
		CreatedAt: createdAt,
		BodyText:  html.UnescapeString(legacy.FullText),
		MediaURLs: media,
		LinkURLs:  links,
		IsRepost:  legacy.Retweeted,
	}, nil
}

// Explicit record types for the timeline response shape; anything that does
// not fit decodes to nil and is treated as a parse failure or skipped.

type userResponse struct {
	Data struct {
		User struct {
			Result struct {
				RestID string `json:"rest_id"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
}

type timelineResponse struct {
	Data *struct {
		User struct {
			Result struct {
				TimelineV2 struct {
					Timeline struct {
						Instructions []timelineInstruction `json:"instructions"`
					} `json:"timeline"`
				} `json:"timeline_v2"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

type apiError struct {
	Message string `json:"message"`
}

type timelineInstruction struct {
	Type    string          `json:"type"`
	Entries []timelineEntry `json:"entries"`
}

type timelineEntry struct {
	Content entryContent `json:"content"`
}

type entryContent struct {
	ItemContent *itemContent `json:"itemContent"`
	Items       []moduleItem `json:"items"`
}

// itemContent returns the entry's direct content, or the first item of a
// module entry (threads render as modules).
func (c entryContent) itemContent() *itemContent {
	if c.ItemContent != nil {
		return c.ItemContent
	}
	for _, m := range c.Items {
		if m.Item.ItemContent != nil {
			return m.Item.ItemContent
		}
	}
	return nil
}

type moduleItem struct {
	Item struct {
		ItemContent *itemContent `json:"itemContent"`
	} `json:"item"`
}

type itemContent struct {
	TweetResults struct {
		Result struct {
			Legacy *legacyTweet `json:"legacy"`
		} `json:"result"`
	} `json:"tweet_results"`
}

type legacyTweet struct {
	IDStr     string          `json:"id_str"`
	FullText  string          `json:"full_text"`
	CreatedAt string          `json:"created_at"`
	Entities  *legacyEntities `json:"entities"`
	Retweeted bool            `json:"retweeted"`
}

type legacyEntities struct {
	Media []mediaEntity `json:"media"`
	URLs  []urlEntity   `json:"urls"`
}

type mediaEntity struct {
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
}

type urlEntity struct {
	ExpandedURL string `json:"expanded_url"`
}
