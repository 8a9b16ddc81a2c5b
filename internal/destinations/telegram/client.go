// Package telegram posts to a Telegram channel through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"discopilot/internal/media"
	"discopilot/internal/publisher"
)

// Telegram limits.
const (
	TextLimit    = 4096
	CaptionLimit = 1024
	AlbumLimit   = 10
)

type Config struct {
	Token  string
	ChatID int64
	// Username of a public channel (without '@'); used for post links.
	Username string
	ThreadID int
	// DisablePreview turns off link previews on text-only posts.
	DisablePreview bool
	// APIURL overrides the Bot API endpoint (tests, local bot API server).
	APIURL  string
	Timeout time.Duration
}

type Client struct {
	cfg Config
	bot *tele.Bot
}

var _ publisher.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.Username = strings.TrimPrefix(strings.TrimSpace(cfg.Username), "@")

	// Offline skips getMe at construction; the bot only sends.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, bot: b}, nil
}

func (c *Client) Accepts(k media.Kind) bool {
	return k == media.KindPhoto || k == media.KindVideo
}

// UploadMedia keeps the bytes; Telegram takes media and caption in one call.
func (c *Client) UploadMedia(ctx context.Context, f *media.File) (publisher.MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return publisher.MediaHandle{}, err
	}
	b, err := f.ReadAll()
	if err != nil {
		return publisher.MediaHandle{}, err
	}
	return publisher.MediaHandle{Kind: f.Kind, Filename: f.Name, ContentType: f.ContentType, Inline: b}, nil
}

func (c *Client) CreatePost(ctx context.Context, text string, hs []publisher.MediaHandle) (publisher.PostRef, error) {
	if err := ctx.Err(); err != nil {
		return publisher.PostRef{}, err
	}
	if len(hs) > AlbumLimit {
		hs = hs[:AlbumLimit]
	}

	chat := tele.ChatID(c.cfg.ChatID)
	opts := &tele.SendOptions{ThreadID: c.cfg.ThreadID}

	var (
		msgID int
		err   error
	)
	switch len(hs) {
	case 0:
		opts.DisableWebPagePreview = c.cfg.DisablePreview
		var m *tele.Message
		m, err = c.bot.Send(chat, text, opts)
		if m != nil {
			msgID = m.ID
		}
	case 1:
		var m *tele.Message
		m, err = c.bot.Send(chat, inputMedia(hs[0], text), opts)
		if m != nil {
			msgID = m.ID
		}
	default:
		album := make(tele.Album, 0, len(hs))
		for i, h := range hs {
			caption := ""
			if i == 0 {
				caption = text
			}
			album = append(album, inputMedia(h, caption))
		}
		var ms []tele.Message
		ms, err = c.bot.SendAlbum(chat, album, opts)
		if len(ms) > 0 {
			msgID = ms[0].ID
		}
	}
	if err != nil {
		return publisher.PostRef{}, mapError(err)
	}
	id := strconv.Itoa(msgID)
	return publisher.PostRef{ID: id, URL: c.postURL(msgID)}, nil
}

// RateLimitStatus reports reachability; the Bot API exposes no quota endpoint.
func (c *Client) RateLimitStatus(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chat, err := c.bot.ChatByID(c.cfg.ChatID)
	if err != nil {
		return "", mapError(err)
	}
	return fmt.Sprintf("chat %q reachable (no quota endpoint)", chat.Title), nil
}

func (c *Client) postURL(msgID int) string {
	if msgID == 0 {
		return ""
	}
	if c.cfg.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", c.cfg.Username, msgID)
	}
	// Private supergroups/channels: -100<id> maps to t.me/c/<id>.
	if s := strconv.FormatInt(c.cfg.ChatID, 10); strings.HasPrefix(s, "-100") {
		return fmt.Sprintf("https://t.me/c/%s/%d", strings.TrimPrefix(s, "-100"), msgID)
	}
	return ""
}

func inputMedia(h publisher.MediaHandle, caption string) tele.Inputtable {
	file := tele.FromReader(bytes.NewReader(h.Inline))
	if h.Kind == media.KindVideo {
		return &tele.Video{File: file, Caption: caption, FileName: h.Filename}
	}
	return &tele.Photo{File: file, Caption: caption}
}

func mapError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &publisher.RateLimitError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second, Err: err}
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return &publisher.RateLimitError{RetryAfter: time.Duration(floodPtr.RetryAfter) * time.Second, Err: err}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == http.StatusTooManyRequests {
		return &publisher.RateLimitError{Err: err}
	}
	return err
}
