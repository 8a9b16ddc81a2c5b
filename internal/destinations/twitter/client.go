// Package twitter posts to X/Twitter with OAuth 1.0a user context:
// media through the v1.1 upload endpoint, posts through v2 /tweets.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"discopilot/internal/media"
	"discopilot/internal/publisher"
)

const (
	DefaultAPIBase    = "https://api.twitter.com"
	DefaultUploadBase = "https://upload.twitter.com"
)

type Config struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string

	// Overridable for tests.
	APIBase    string
	UploadBase string
}

func (c Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"api_key":       c.APIKey,
		"api_secret":    c.APISecret,
		"access_token":  c.AccessToken,
		"access_secret": c.AccessSecret,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("twitter credentials missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

type Client struct {
	cfg  Config
	http *http.Client
}

var _ publisher.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.UploadBase == "" {
		cfg.UploadBase = DefaultUploadBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.UploadBase = strings.TrimRight(cfg.UploadBase, "/")

	oc := oauth1.NewConfig(cfg.APIKey, cfg.APISecret)
	tok := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)
	// The oauth1 client signs every request; per-call deadlines come from ctx.
	hc := oc.Client(oauth1.NoContext, tok)
	return &Client{cfg: cfg, http: hc}, nil
}

func (c *Client) Accepts(k media.Kind) bool {
	return k == media.KindPhoto || k == media.KindVideo
}

func (c *Client) UploadMedia(ctx context.Context, f *media.File) (publisher.MediaHandle, error) {
	src, err := f.Open()
	if err != nil {
		return publisher.MediaHandle{}, err
	}
	defer src.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("media", f.Name)
	if err != nil {
		return publisher.MediaHandle{}, err
	}
	if _, err := io.Copy(part, src); err != nil {
		return publisher.MediaHandle{}, err
	}
	if err := mw.Close(); err != nil {
		return publisher.MediaHandle{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UploadBase+"/1.1/media/upload.json", &body)
	if err != nil {
		return publisher.MediaHandle{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := c.do(req, &out); err != nil {
		return publisher.MediaHandle{}, err
	}
	if out.MediaIDString == "" {
		return publisher.MediaHandle{}, errors.New("twitter media upload: empty media_id_string")
	}
	return publisher.MediaHandle{ID: out.MediaIDString, Kind: f.Kind, Filename: f.Name}, nil
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

func (c *Client) CreatePost(ctx context.Context, text string, hs []publisher.MediaHandle) (publisher.PostRef, error) {
	payload := tweetRequest{Text: text}
	if len(hs) > 0 {
		payload.Media = &tweetMedia{}
		for _, h := range hs {
			payload.Media.MediaIDs = append(payload.Media.MediaIDs, h.ID)
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return publisher.PostRef{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+"/2/tweets", bytes.NewReader(b))
	if err != nil {
		return publisher.PostRef{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(req, &out); err != nil {
		return publisher.PostRef{}, err
	}
	if out.Data.ID == "" {
		return publisher.PostRef{}, errors.New("twitter create tweet: empty id")
	}
	return publisher.PostRef{ID: out.Data.ID, URL: "https://twitter.com/user/status/" + out.Data.ID}, nil
}

// RateLimitStatus summarizes the v1.1 application rate limit resources.
func (c *Client) RateLimitStatus(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.APIBase+"/1.1/application/rate_limit_status.json?resources=application,statuses", http.NoBody)
	if err != nil {
		return "", err
	}
	var out struct {
		Resources map[string]map[string]struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"resources"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	var parts []string
	for _, group := range slices.Sorted(maps.Keys(out.Resources)) {
		for _, ep := range slices.Sorted(maps.Keys(out.Resources[group])) {
			r := out.Resources[group][ep]
			parts = append(parts, fmt.Sprintf("%s %d/%d", ep, r.Remaining, r.Limit))
		}
	}
	if len(parts) == 0 {
		return "no rate limit data", nil
	}
	return strings.Join(parts, ", "), nil
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"errors"`
}

func (e apiError) message() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	case len(e.Errors) > 0:
		return e.Errors[0].Message
	}
	return ""
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &publisher.RateLimitError{
			RetryAfter: resetAfter(resp.Header.Get("x-rate-limit-reset"), time.Now()),
			Err:        fmt.Errorf("twitter http 429"),
		}
	}
	if resp.StatusCode/100 != 2 {
		var ae apiError
		_ = json.Unmarshal(body, &ae)
		if msg := ae.message(); msg != "" {
			return fmt.Errorf("twitter http %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("twitter http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("twitter decode: %w", err)
	}
	return nil
}

// resetAfter converts an epoch-seconds reset header to a wait duration.
func resetAfter(v string, now time.Time) time.Duration {
	sec, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || sec <= 0 {
		return 0
	}
	if d := time.Unix(sec, 0).Sub(now); d > 0 {
		return d
	}
	return 0
}
