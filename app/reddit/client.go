// Package reddit is the forum client: OAuth2 script-app authentication,
// listing fetches, and the moderation actions the engine drives.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/discordservers/advert-sentry/app/cfg"
)

const (
	tokenURL = "https://www.reddit.com/api/v1/access_token"
	apiBase  = "https://oauth.reddit.com"
)

// maxPageSize is the listing page cap imposed by the API; larger limits are
// fetched by paginating.
const maxPageSize = 100

type Client struct {
	http      *http.Client
	apiBase   string
	subreddit string
	username  string
}

// userAgentTransport stamps every request with the configured user agent. The
// API throttles the default Go user agent aggressively.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(clone)
}

// NewClient authenticates with the password grant and returns a client whose
// HTTP layer refreshes the token transparently.
func NewClient(ctx context.Context, c *cfg.Cfg) (*Client, error) {
	conf := &oauth2.Config{
		ClientID:     c.RedditClientID,
		ClientSecret: c.RedditSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	base := &http.Client{
		Timeout: time.Duration(c.HTTPTimeout) * time.Second,
		Transport: &userAgentTransport{
			agent: c.UserAgent,
			base:  http.DefaultTransport,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	token, err := conf.PasswordCredentialsToken(ctx, c.RedditUsername, c.RedditPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate as %s: %w", c.RedditUsername, err)
	}

	return &Client{
		http:      conf.Client(ctx, token),
		apiBase:   apiBase,
		subreddit: c.Subreddit,
		username:  c.RedditUsername,
	}, nil
}

// Subreddit returns the community this client moderates.
func (c *Client) Subreddit() string {
	return c.subreddit
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
