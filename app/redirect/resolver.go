// Package redirect resolves a submission's URL through known redirector
// sites until it reaches the link they ultimately point at.
package redirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrTooManyRedirects is returned once the hop budget is exceeded.
var ErrTooManyRedirects = errors.New("too many redirects")

// Error wraps a network-layer failure and records the URL being fetched at
// the moment of failure, so a retrying caller can resume from that point
// instead of from the original URL.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var redirectCodes = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Bodies larger than this cannot plausibly be a redirector page.
const maxBodyBytes = 1 << 20

type Resolver struct {
	client    *http.Client
	userAgent string
}

func NewResolver(timeout time.Duration, userAgent string) *Resolver {
	return &Resolver{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
	}
}

// Resolve follows redirects starting at rawURL. Each hop is either a
// standard redirect status with a Location header or an HTML meta-refresh
// tag. After computing the next URL the follow predicate decides whether to
// keep walking: false stops immediately and returns that URL, letting the
// caller stay inside known redirector territory. A URL with no redirect is
// returned as final. Exceeding maxRedirects hops fails with
// ErrTooManyRedirects; a transport failure fails with *Error.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, follow func(string) bool, maxRedirects int) (string, error) {
	current := rawURL

	for hops := 0; ; hops++ {
		if hops > maxRedirects {
			return "", ErrTooManyRedirects
		}

		next, found, err := r.step(ctx, current)
		if err != nil {
			return "", err
		}
		if !found {
			return current, nil
		}
		if !follow(next) {
			return next, nil
		}
		current = next
	}
}

// step fetches current with redirects disabled and reports the URL it
// redirects to, if any.
func (r *Resolver) step(ctx context.Context, current string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
	if err != nil {
		return "", false, &Error{URL: current, Err: err}
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", false, &Error{URL: current, Err: err}
	}
	defer resp.Body.Close()

	if redirectCodes[resp.StatusCode] {
		next := resp.Header.Get("Location")
		slog.Debug("Redirect via status code", "url", current, "status", resp.StatusCode, "next", next)
		return next, true, nil
	}

	next, found := findMetaRefresh(io.LimitReader(resp.Body, maxBodyBytes))
	if found {
		slog.Debug("Redirect via meta refresh", "url", current, "next", next)
	}
	return next, found, nil
}

// findMetaRefresh scans an HTML body for a meta tag whose property or
// http-equiv attribute is "refresh" and extracts the target from its content
// attribute of the form "<seconds>;url=<target>". Some redirectors emit a
// malformed value with a stray leading '=' before the target; it is stripped.
func findMetaRefresh(body io.Reader) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", false
	}

	var target string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		prop, _ := s.Attr("property")
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(prop, "refresh") && !strings.EqualFold(equiv, "refresh") {
			return true
		}
		content, ok := s.Attr("content")
		if !ok {
			return true
		}
		if url, ok := parseRefreshContent(content); ok {
			target = url
			return false
		}
		return true
	})

	return target, target != ""
}

func parseRefreshContent(content string) (string, bool) {
	_, rest, found := strings.Cut(content, ";")
	if !found {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < len("url=") || !strings.EqualFold(rest[:4], "url=") {
		return "", false
	}
	url := strings.TrimPrefix(rest[4:], "=")
	return url, url != ""
}
