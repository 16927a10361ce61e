package reddit

import (
	"context"
	"fmt"
	"net/url"

	"github.com/discordservers/advert-sentry/app/moderation"
)

// apiResponse is the envelope returned by api_type=json endpoints.
type apiResponse struct {
	JSON struct {
		Errors [][]string `json:"errors"`
		Data   struct {
			Things []struct {
				Data struct {
					Name string `json:"name"`
				} `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

func (r apiResponse) err() error {
	if len(r.JSON.Errors) > 0 {
		return fmt.Errorf("api error: %v", r.JSON.Errors[0])
	}
	return nil
}

// Reply posts a comment on the submission and returns the comment's fullname.
func (c *Client) Reply(ctx context.Context, fullname, text string) (string, error) {
	form := url.Values{
		"api_type": {"json"},
		"thing_id": {fullname},
		"text":     {text},
	}

	var resp apiResponse
	if err := c.postForm(ctx, "/api/comment", form, &resp); err != nil {
		return "", err
	}
	if err := resp.err(); err != nil {
		return "", err
	}
	if len(resp.JSON.Data.Things) == 0 {
		return "", fmt.Errorf("comment on %s returned no created thing", fullname)
	}
	return resp.JSON.Data.Things[0].Data.Name, nil
}

// Distinguish marks a comment as an official moderator response.
func (c *Client) Distinguish(ctx context.Context, commentFullname string) error {
	form := url.Values{
		"api_type": {"json"},
		"id":       {commentFullname},
		"how":      {"yes"},
	}

	var resp apiResponse
	if err := c.postForm(ctx, "/api/distinguish", form, &resp); err != nil {
		return err
	}
	return resp.err()
}

// Remove takes the submission down without marking it as spam.
func (c *Client) Remove(ctx context.Context, fullname string) error {
	form := url.Values{
		"id":   {fullname},
		"spam": {"false"},
	}
	return c.postForm(ctx, "/api/remove", form, nil)
}

// SetFlair applies a flair template to the submission.
func (c *Client) SetFlair(ctx context.Context, fullname, templateID string) error {
	form := url.Values{
		"api_type":          {"json"},
		"link":              {fullname},
		"flair_template_id": {templateID},
	}

	var resp apiResponse
	path := fmt.Sprintf("/r/%s/api/selectflair", c.subreddit)
	if err := c.postForm(ctx, path, form, &resp); err != nil {
		return err
	}
	return resp.err()
}

// SendModeratorMessage opens a modmail conversation with the subreddit's
// moderators.
func (c *Client) SendModeratorMessage(ctx context.Context, subject, body string) error {
	form := url.Values{
		"api_type": {"json"},
		"to":       {"/r/" + c.subreddit},
		"subject":  {subject},
		"text":     {body},
	}

	var resp apiResponse
	if err := c.postForm(ctx, "/api/compose", form, &resp); err != nil {
		return err
	}
	return resp.err()
}

var _ moderation.Actions = (*Client)(nil)
