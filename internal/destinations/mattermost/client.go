// Package mattermost posts to a Mattermost channel through the v4 REST API.
package mattermost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"discopilot/internal/media"
	"discopilot/internal/publisher"
)

// TextLimit is the server's default maximum post length.
const TextLimit = 16383

type Config struct {
	ServerURL string
	Token     string
	ChannelID string
	Timeout   time.Duration
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.ServerURL) == "":
		return errors.New("mattermost server_url is empty")
	case strings.TrimSpace(c.Token) == "":
		return errors.New("mattermost token is empty")
	case strings.TrimSpace(c.ChannelID) == "":
		return errors.New("mattermost channel_id is empty")
	}
	return nil
}

type Client struct {
	cfg Config
	api *model.Client4
}

var _ publisher.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")

	api := model.NewAPIv4Client(cfg.ServerURL)
	api.SetToken(cfg.Token)
	api.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{cfg: cfg, api: api}, nil
}

// Accepts everything; Mattermost stores any file as an attachment.
func (c *Client) Accepts(media.Kind) bool { return true }

func (c *Client) UploadMedia(ctx context.Context, f *media.File) (publisher.MediaHandle, error) {
	data, err := f.ReadAll()
	if err != nil {
		return publisher.MediaHandle{}, err
	}
	up, resp, err := c.api.UploadFile(ctx, data, c.cfg.ChannelID, f.Name)
	if err != nil {
		return publisher.MediaHandle{}, mapError("upload file", resp, err)
	}
	if up == nil || len(up.FileInfos) == 0 || up.FileInfos[0] == nil {
		return publisher.MediaHandle{}, errors.New("mattermost upload file: empty file info")
	}
	return publisher.MediaHandle{
		ID:          up.FileInfos[0].Id,
		Kind:        f.Kind,
		Filename:    f.Name,
		ContentType: f.ContentType,
	}, nil
}

func (c *Client) CreatePost(ctx context.Context, text string, hs []publisher.MediaHandle) (publisher.PostRef, error) {
	post := &model.Post{ChannelId: c.cfg.ChannelID, Message: text}
	for _, h := range hs {
		post.FileIds = append(post.FileIds, h.ID)
	}
	created, resp, err := c.api.CreatePost(ctx, post)
	if err != nil {
		return publisher.PostRef{}, mapError("create post", resp, err)
	}
	if created == nil || created.Id == "" {
		return publisher.PostRef{}, errors.New("mattermost create post: empty id")
	}
	return publisher.PostRef{ID: created.Id, URL: c.cfg.ServerURL + "/_redirect/pl/" + created.Id}, nil
}

// RateLimitStatus pings the server; limits are only visible on responses.
func (c *Client) RateLimitStatus(ctx context.Context) (string, error) {
	status, resp, err := c.api.GetPing(ctx)
	if err != nil {
		return "", mapError("ping", resp, err)
	}
	s := "server " + status
	if resp != nil {
		if rem := resp.Header.Get("X-Ratelimit-Remaining"); rem != "" {
			s += fmt.Sprintf(", %s/%s remaining", rem, resp.Header.Get("X-Ratelimit-Limit"))
		}
	}
	return s, nil
}

func mapError(op string, resp *model.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return &publisher.RateLimitError{
			RetryAfter: resetSeconds(resp.Header.Get("X-Ratelimit-Reset")),
			Err:        fmt.Errorf("mattermost %s: %w", op, err),
		}
	}
	var ae *model.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return fmt.Errorf("mattermost %s: http %d: %s", op, ae.StatusCode, ae.Message)
	}
	return fmt.Errorf("mattermost %s: %w", op, err)
}

// resetSeconds parses the server's seconds-until-reset header.
func resetSeconds(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
