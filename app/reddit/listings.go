package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/discordservers/advert-sentry/app/moderation"
)

// maybeString tolerates the API's habit of sending false or null where a
// string belongs (banned_by on old removals).
type maybeString string

func (m *maybeString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = maybeString(s)
		return nil
	}
	// false, null, numbers: all mean "nobody".
	*m = ""
	return nil
}

type listingResponse struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data submissionData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type submissionData struct {
	Name              string      `json:"name"`
	ID                string      `json:"id"`
	URL               string      `json:"url"`
	Author            string      `json:"author"`
	IsSelf            bool        `json:"is_self"`
	BannedBy          maybeString `json:"banned_by"`
	ApprovedBy        maybeString `json:"approved_by"`
	CreatedUTC        float64     `json:"created_utc"`
	Permalink         string      `json:"permalink"`
	LinkFlairText     maybeString `json:"link_flair_text"`
	LinkFlairCSSClass maybeString `json:"link_flair_css_class"`
}

func (d submissionData) toSubmission() moderation.Submission {
	return moderation.Submission{
		Fullname:      d.Name,
		ID:            d.ID,
		URL:           d.URL,
		Author:        d.Author,
		IsSelf:        d.IsSelf,
		RemovedBy:     string(d.BannedBy),
		ApprovedBy:    string(d.ApprovedBy),
		CreatedAt:     time.Unix(int64(d.CreatedUTC), 0).UTC(),
		Permalink:     d.Permalink,
		FlairText:     string(d.LinkFlairText),
		FlairCSSClass: string(d.LinkFlairCSSClass),
	}
}

// NewListing fetches up to limit submissions from the subreddit's new
// listing, newest first.
func (c *Client) NewListing(ctx context.Context, limit int) ([]moderation.Submission, error) {
	return c.listing(ctx, "new", limit)
}

// HotListing fetches up to limit submissions from the subreddit's hot
// listing.
func (c *Client) HotListing(ctx context.Context, limit int) ([]moderation.Submission, error) {
	return c.listing(ctx, "hot", limit)
}

func (c *Client) listing(ctx context.Context, sort string, limit int) ([]moderation.Submission, error) {
	var out []moderation.Submission
	after := ""

	for len(out) < limit {
		page := limit - len(out)
		if page > maxPageSize {
			page = maxPageSize
		}

		query := url.Values{
			"limit":    {strconv.Itoa(page)},
			"raw_json": {"1"},
		}
		if after != "" {
			query.Set("after", after)
		}

		var resp listingResponse
		path := fmt.Sprintf("/r/%s/%s.json", c.subreddit, sort)
		if err := c.get(ctx, path, query, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch %s listing: %w", sort, err)
		}

		for _, child := range resp.Data.Children {
			out = append(out, child.Data.toSubmission())
		}

		if resp.Data.After == "" || len(resp.Data.Children) == 0 {
			break
		}
		after = resp.Data.After
	}

	return out, nil
}
