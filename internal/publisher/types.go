// Package publisher turns a source message into a post on one destination
// platform, honoring that destination's length, media and rate limits.
package publisher

import (
	"context"
	"fmt"
	"time"

	"discopilot/internal/content"
	"discopilot/internal/media"
)

// Client is the platform specific half of a destination.
type Client interface {
	UploadMedia(ctx context.Context, f *media.File) (MediaHandle, error)
	CreatePost(ctx context.Context, text string, media []MediaHandle) (PostRef, error)
	// RateLimitStatus is informational (diagnostics) and never gates publishing.
	RateLimitStatus(ctx context.Context) (string, error)
	Accepts(k media.Kind) bool
}

// MediaHandle is the result of one upload. Platforms that attach media at
// post time (Telegram) keep the bytes in Inline instead of an ID.
type MediaHandle struct {
	ID          string
	Kind        media.Kind
	Filename    string
	ContentType string
	Inline      []byte
}

type PostRef struct {
	ID  string
	URL string
}

func (r PostRef) String() string {
	if r.URL != "" {
		return r.URL
	}
	return r.ID
}

// RateLimitError is returned by clients when the platform throttled the call.
// RetryAfter is zero when the platform gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := "rate limited by platform"
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter.Round(time.Second))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Limits are the content constraints of a destination.
type Limits struct {
	MaxLength int
	// MaxLengthWithMedia applies instead of MaxLength when media is attached
	// (Telegram captions). Zero means "same as MaxLength".
	MaxLengthWithMedia int
	MaxMedia           int
}

// Request is the fully prepared, immutable input of a post.
type Request struct {
	Text  string
	Media []content.Attachment
}

type Status string

const (
	StatusSuccess     Status = "success"
	StatusRateLimited Status = "rate_limited"
	StatusError       Status = "error"
)

// Result is the outcome of one destination publish. Publish never returns an error;
// failures are carried here.
type Result struct {
	Destination string
	Status      Status
	Reference   string
	Err         string
	// ResetIn is a hint for rate limited results.
	ResetIn time.Duration
	Took    time.Duration
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

// String renders the status as "success", "rateLimited" or "error:<message>".
func (r Result) String() string {
	switch r.Status {
	case StatusSuccess:
		return "success"
	case StatusRateLimited:
		return "rateLimited"
	default:
		return "error:" + r.Err
	}
}
