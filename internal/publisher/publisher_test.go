package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"discopilot/internal/content"
	"discopilot/internal/media"
	"discopilot/internal/ratelimit"
	logx "discopilot/pkg/logx"
)

type fakeClient struct {
	mu       sync.Mutex
	accepts  map[media.Kind]bool
	posts    []string
	handles  [][]MediaHandle
	uploads  []string
	postErr  error
	upErr    error
	panicked bool
}

func (c *fakeClient) UploadMedia(_ context.Context, f *media.File) (MediaHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := os.Stat(f.Path); err != nil {
		return MediaHandle{}, err
	}
	c.uploads = append(c.uploads, f.Name)
	if c.upErr != nil {
		return MediaHandle{}, c.upErr
	}
	return MediaHandle{ID: "m-" + f.Name, Kind: f.Kind, Filename: f.Name}, nil
}

func (c *fakeClient) CreatePost(_ context.Context, text string, hs []MediaHandle) (PostRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicked {
		panic("client exploded")
	}
	if c.postErr != nil {
		return PostRef{}, c.postErr
	}
	c.posts = append(c.posts, text)
	c.handles = append(c.handles, hs)
	return PostRef{ID: "42", URL: "https://example.test/42"}, nil
}

func (c *fakeClient) RateLimitStatus(context.Context) (string, error) { return "ok", nil }

func (c *fakeClient) Accepts(k media.Kind) bool { return c.accepts[k] }

// dirFetcher writes a small file per source into dir and remembers the paths.
type dirFetcher struct {
	dir   string
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *dirFetcher) Fetch(_ context.Context, src media.Source) (*media.File, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := filepath.Join(f.dir, src.Filename)
	if err := os.WriteFile(p, []byte("data"), 0o600); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.paths = append(f.paths, p)
	f.mu.Unlock()
	return &media.File{Path: p, Name: src.Filename, Kind: media.KindOf(src.Filename, src.ContentType), Size: 4}, nil
}

func (f *dirFetcher) assertCleaned(t *testing.T) {
	t.Helper()
	for _, p := range f.paths {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("temp file %s not removed", p)
		}
	}
}

func newTestPublisher(t *testing.T, c *fakeClient, lim *ratelimit.Limiter, limits Limits) (*Publisher, *dirFetcher) {
	t.Helper()
	f := &dirFetcher{dir: t.TempDir()}
	p, err := New(Config{Name: "dest", Limits: limits, CallTimeout: time.Second}, c, lim, f, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, f
}

func TestPublishSuccess(t *testing.T) {
	t.Parallel()

	c := &fakeClient{accepts: map[media.Kind]bool{media.KindPhoto: true}}
	lim := ratelimit.New(2, time.Hour)
	p, f := newTestPublisher(t, c, lim, Limits{MaxLength: 280, MaxMedia: 4})

	res := p.Publish(context.Background(), content.SourceMessage{
		Text: "Hello world",
		Attachments: []content.Attachment{
			{URL: "u1", Filename: "a.png"},
			{URL: "u2", Filename: "notes.pdf"},
			{URL: "u3", Filename: "b.jpg"},
		},
	})

	if res.Status != StatusSuccess || res.String() != "success" {
		t.Fatalf("result = %+v", res)
	}
	if res.Reference != "https://example.test/42" || res.Destination != "dest" {
		t.Fatalf("result = %+v", res)
	}
	if len(c.posts) != 1 || c.posts[0] != "Hello world" {
		t.Fatalf("posts = %q", c.posts)
	}
	if got := strings.Join(c.uploads, ","); got != "a.png,b.jpg" {
		t.Fatalf("uploads = %s, want a.png,b.jpg", got)
	}
	if got := lim.RemainingCalls(); got != 1 {
		t.Fatalf("RemainingCalls = %d, want 1", got)
	}
	f.assertCleaned(t)
}

func TestPublishRateLimitedSkipsCalls(t *testing.T) {
	t.Parallel()

	c := &fakeClient{}
	lim := ratelimit.New(1, time.Hour)
	lim.RecordCall()
	p, _ := newTestPublisher(t, c, lim, Limits{MaxLength: 280})

	res := p.Publish(context.Background(), content.SourceMessage{Text: "hi"})
	if res.Status != StatusRateLimited || res.String() != "rateLimited" {
		t.Fatalf("result = %+v", res)
	}
	if res.ResetIn <= 0 {
		t.Fatalf("ResetIn = %v, want > 0", res.ResetIn)
	}
	if len(c.posts) != 0 {
		t.Fatalf("client was called while limited")
	}
	if got := lim.Snapshot().CallsInWindow; got != 1 {
		t.Fatalf("limiter state touched: calls = %d", got)
	}
}

func TestPublishPlatformThrottleSetsCooldown(t *testing.T) {
	t.Parallel()

	c := &fakeClient{postErr: &RateLimitError{RetryAfter: 10 * time.Minute}}
	lim := ratelimit.New(100, time.Hour)
	p, _ := newTestPublisher(t, c, lim, Limits{MaxLength: 280})

	res := p.Publish(context.Background(), content.SourceMessage{Text: "hi"})
	if res.Status != StatusRateLimited {
		t.Fatalf("result = %+v", res)
	}
	if !lim.IsLimited() {
		t.Fatal("cooldown not applied")
	}
	if got := lim.RemainingCalls(); got != 100 {
		t.Fatalf("throttled call recorded: remaining = %d", got)
	}
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	t.Run("post failure", func(t *testing.T) {
		t.Parallel()
		c := &fakeClient{postErr: errors.New("forbidden")}
		p, _ := newTestPublisher(t, c, ratelimit.New(5, time.Hour), Limits{MaxLength: 280})
		res := p.Publish(context.Background(), content.SourceMessage{Text: "hi"})
		if res.String() != "error:forbidden" {
			t.Fatalf("result = %q", res.String())
		}
	})

	t.Run("upload failure aborts before post", func(t *testing.T) {
		t.Parallel()
		c := &fakeClient{accepts: map[media.Kind]bool{media.KindPhoto: true}, upErr: errors.New("too big")}
		p, f := newTestPublisher(t, c, ratelimit.New(5, time.Hour), Limits{MaxLength: 280, MaxMedia: 1})
		res := p.Publish(context.Background(), content.SourceMessage{
			Text:        "hi",
			Attachments: []content.Attachment{{URL: "u", Filename: "a.png"}},
		})
		if res.Status != StatusError || !strings.Contains(res.Err, "too big") {
			t.Fatalf("result = %+v", res)
		}
		if len(c.posts) != 0 {
			t.Fatal("post created after failed upload")
		}
		f.assertCleaned(t)
	})

	t.Run("fetch failure", func(t *testing.T) {
		t.Parallel()
		c := &fakeClient{accepts: map[media.Kind]bool{media.KindPhoto: true}}
		p, f := newTestPublisher(t, c, ratelimit.New(5, time.Hour), Limits{MaxLength: 280, MaxMedia: 1})
		f.err = errors.New("http 404")
		res := p.Publish(context.Background(), content.SourceMessage{
			Text:        "hi",
			Attachments: []content.Attachment{{URL: "u", Filename: "a.png"}},
		})
		if res.Status != StatusError || len(c.uploads) != 0 {
			t.Fatalf("result = %+v uploads = %v", res, c.uploads)
		}
	})

	t.Run("panic is recovered", func(t *testing.T) {
		t.Parallel()
		c := &fakeClient{panicked: true}
		p, _ := newTestPublisher(t, c, ratelimit.New(5, time.Hour), Limits{MaxLength: 280})
		res := p.Publish(context.Background(), content.SourceMessage{Text: "hi"})
		if res.Status != StatusError || !strings.Contains(res.Err, "client exploded") {
			t.Fatalf("result = %+v", res)
		}
	})

	t.Run("adapter failure", func(t *testing.T) {
		t.Parallel()
		c := &fakeClient{}
		p, _ := newTestPublisher(t, c, ratelimit.New(5, time.Hour), Limits{MaxLength: 0})
		res := p.Publish(context.Background(), content.SourceMessage{Text: "hi"})
		if res.Status != StatusError || res.Err != content.ErrEmptyContent.Error() {
			t.Fatalf("result = %+v", res)
		}
	})
}

func TestPrepareCaptionLimit(t *testing.T) {
	t.Parallel()

	c := &fakeClient{accepts: map[media.Kind]bool{media.KindPhoto: true}}
	p, _ := newTestPublisher(t, c, ratelimit.New(5, time.Hour), Limits{MaxLength: 100, MaxLengthWithMedia: 20, MaxMedia: 2})
	long := strings.Repeat("x", 60)

	req, err := p.Prepare(content.SourceMessage{Text: long})
	if err != nil || len(req.Text) != 60 {
		t.Fatalf("without media: len = %d, err = %v", len(req.Text), err)
	}

	req, err = p.Prepare(content.SourceMessage{
		Text:        long,
		Attachments: []content.Attachment{{Filename: "a.png"}, {Filename: "b.png"}, {Filename: "c.png"}},
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(req.Text) != 20 || len(req.Media) != 2 {
		t.Fatalf("with media: text len = %d, media = %d", len(req.Text), len(req.Media))
	}
}

func TestPrepareSelectsFirstAcceptedMedia(t *testing.T) {
	t.Parallel()

	c := &fakeClient{accepts: map[media.Kind]bool{media.KindPhoto: true}}
	p, _ := newTestPublisher(t, c, ratelimit.New(5, time.Hour), Limits{MaxLength: 100, MaxMedia: 2})
	msg := content.SourceMessage{
		Text: "x",
		Attachments: []content.Attachment{
			{Filename: "notes.pdf"},
			{Filename: "a.png"},
			{Filename: "song.mp3"},
			{Filename: "b.png"},
			{Filename: "c.png"},
		},
	}

	req, err := p.Prepare(msg)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	var names []string
	for _, a := range req.Media {
		names = append(names, a.Filename)
	}
	if got := strings.Join(names, ","); got != "a.png,b.png" {
		t.Fatalf("media = %s, want a.png,b.png", got)
	}

	none, _ := newTestPublisher(t, c, ratelimit.New(5, time.Hour), Limits{MaxLength: 100})
	if req, err := none.Prepare(msg); err != nil || len(req.Media) != 0 {
		t.Fatalf("MaxMedia 0: media = %d, err = %v", len(req.Media), err)
	}
}
