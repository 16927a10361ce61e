// Package discord is a minimal client for the invite lookup endpoint of the
// chat platform's public API.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// expiredSentinel is reported in-band in an otherwise successful body when
// the invite has just expired.
const expiredSentinel = "10006"

const rateLimitResetHeader = "X-RateLimit-Reset"

type Client struct {
	base      string
	userAgent string
	client    *http.Client

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(base, userAgent string, timeout time.Duration) *Client {
	return &Client{
		base:      strings.TrimRight(base, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// GetInvite fetches the invite record for code and classifies the response.
// NotFound is terminal; RateLimited and TransientFailure are retryable. On
// a rate limit with a reset time in the future the call blocks until the
// reset before returning, so the caller can retry immediately.
func (c *Client) GetInvite(ctx context.Context, code string) (Outcome, *Invite, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/invites/%s", c.base, code), nil)
	if err != nil {
		return TransientFailure, nil, fmt.Errorf("failed to build invite request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return TransientFailure, nil, fmt.Errorf("invite request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return c.decodeInvite(resp.Body, code)
	case resp.StatusCode == http.StatusNotFound:
		return NotFound, nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return c.handleRateLimit(ctx, resp, code)
	default:
		slog.Warn("Unexpected status from invite lookup", "code", code, "status", resp.StatusCode)
		return TransientFailure, nil, fmt.Errorf("invite lookup returned status %d", resp.StatusCode)
	}
}

func (c *Client) decodeInvite(body io.Reader, code string) (Outcome, *Invite, error) {
	var wire struct {
		Code    flexString `json:"code"`
		Guild   Guild      `json:"guild"`
		Channel Channel    `json:"channel"`
	}
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		return TransientFailure, nil, fmt.Errorf("failed to decode invite body: %w", err)
	}

	// Expiry is signaled in-band despite the successful status.
	if string(wire.Code) == expiredSentinel {
		slog.Debug("Invite reported expired in-band", "code", code)
		return NotFound, nil, nil
	}

	return Success, &Invite{Code: string(wire.Code), Guild: wire.Guild, Channel: wire.Channel}, nil
}

func (c *Client) handleRateLimit(ctx context.Context, resp *http.Response, code string) (Outcome, *Invite, error) {
	header := resp.Header.Get(rateLimitResetHeader)
	if header == "" {
		slog.Warn("Rate limited without a reset header", "code", code)
		return TransientFailure, nil, fmt.Errorf("rate limited without %s header", rateLimitResetHeader)
	}

	reset, err := strconv.ParseFloat(header, 64)
	if err != nil {
		return TransientFailure, nil, fmt.Errorf("failed to parse %s header %q: %w", rateLimitResetHeader, header, err)
	}

	wait := time.Duration(math.Ceil(reset-float64(c.now().Unix()))) * time.Second
	if wait <= 0 {
		// Clock skew: the window already passed, retry right away.
		slog.Debug("Rate limit reset is in the past", "code", code)
		return RateLimited, nil, nil
	}

	slog.Info("Rate limited by invite API, waiting for reset", "code", code, "wait", wait.String())
	if err := c.sleep(ctx, wait); err != nil {
		return TransientFailure, nil, err
	}
	return RateLimited, nil, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flexString decodes both string and numeric JSON encodings of the invite
// code field; the expiry sentinel has been observed in both forms.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(data)))
	return nil
}
