package publisher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"discopilot/internal/content"
	"discopilot/internal/media"
	"discopilot/internal/ratelimit"
	logx "discopilot/pkg/logx"
)

// Used when the platform throttles us without saying for how long.
const defaultCooldown = time.Minute

type Config struct {
	Name   string
	Limits Limits
	// CallTimeout bounds each external call (fetch, upload, post).
	CallTimeout time.Duration
	// Timeout bounds the whole publish for this destination.
	Timeout time.Duration
}

// Publisher publishes to one destination. It is safe for concurrent use;
// the limiter is its only mutable state.
type Publisher struct {
	cfg     Config
	client  Client
	limiter *ratelimit.Limiter
	fetcher media.Fetcher
	log     logx.Logger
}

func New(cfg Config, client Client, limiter *ratelimit.Limiter, fetcher media.Fetcher, log logx.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("publisher name is empty")
	}
	if client == nil {
		return nil, fmt.Errorf("publisher %s: nil client", cfg.Name)
	}
	if limiter == nil {
		return nil, fmt.Errorf("publisher %s: nil limiter", cfg.Name)
	}
	if fetcher == nil && cfg.Limits.MaxMedia > 0 {
		return nil, fmt.Errorf("publisher %s: media enabled but no fetcher", cfg.Name)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		fetcher: fetcher,
		log:     log.With(logx.String("dest", cfg.Name)),
	}, nil
}

func (p *Publisher) Name() string                { return p.cfg.Name }
func (p *Publisher) Limiter() *ratelimit.Limiter { return p.limiter }
func (p *Publisher) Client() Client              { return p.client }

// Publish prepares and sends msg. It never panics and never returns an error;
// the outcome is in the Result.
func (p *Publisher) Publish(ctx context.Context, msg content.SourceMessage) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic while publishing", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = p.result(StatusError, start)
			res.Err = fmt.Sprintf("internal error: %v", r)
		}
	}()

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	req, err := p.Prepare(msg)
	if err != nil {
		res = p.result(StatusError, start)
		res.Err = err.Error()
		p.log.Warn("prepare failed", logx.Err(err))
		return res
	}
	return p.send(ctx, req, start)
}

// Prepare adapts msg to this destination: selects the first attachments the
// client accepts (up to MaxMedia) and fits the text to the applicable length.
func (p *Publisher) Prepare(msg content.SourceMessage) (Request, error) {
	var selected []content.Attachment
	for _, a := range msg.Attachments {
		if len(selected) >= p.cfg.Limits.MaxMedia {
			break
		}
		if p.client.Accepts(media.KindOf(a.Filename, a.ContentType)) {
			selected = append(selected, a)
		}
	}

	maxLen := p.cfg.Limits.MaxLength
	if len(selected) > 0 && p.cfg.Limits.MaxLengthWithMedia > 0 && p.cfg.Limits.MaxLengthWithMedia < maxLen {
		maxLen = p.cfg.Limits.MaxLengthWithMedia
	}
	text, err := content.Adapt(msg, maxLen)
	if err != nil {
		return Request{}, err
	}
	return Request{Text: text, Media: selected}, nil
}

// Send posts a prepared request.
func (p *Publisher) Send(ctx context.Context, req Request) Result {
	return p.send(ctx, req, time.Now())
}

func (p *Publisher) send(ctx context.Context, req Request, start time.Time) Result {
	if p.limiter.IsLimited() {
		res := p.result(StatusRateLimited, start)
		res.ResetIn = p.limiter.ResetIn()
		p.log.Info("skipped, rate limited", logx.Duration("reset_in", res.ResetIn))
		return res
	}

	handles := make([]MediaHandle, 0, len(req.Media))
	for _, a := range req.Media {
		h, err := p.upload(ctx, a)
		if err != nil {
			return p.fail(fmt.Errorf("upload %s: %w", a.Filename, err), start)
		}
		handles = append(handles, h)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	ref, err := p.client.CreatePost(callCtx, req.Text, handles)
	cancel()
	if err != nil {
		return p.fail(err, start)
	}

	p.limiter.RecordCall()
	res := p.result(StatusSuccess, start)
	res.Reference = ref.String()
	p.log.Info("published",
		logx.String("ref", res.Reference),
		logx.Int("media", len(handles)),
		logx.Int("remaining", p.limiter.RemainingCalls()),
		logx.Duration("took", res.Took),
	)
	return res
}

// upload fetches one attachment to a temp file and uploads it. The temp file
// is removed before returning, whatever the outcome.
func (p *Publisher) upload(ctx context.Context, a content.Attachment) (MediaHandle, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	f, err := p.fetcher.Fetch(fetchCtx, media.Source{URL: a.URL, Filename: a.Filename, ContentType: a.ContentType})
	cancel()
	if err != nil {
		return MediaHandle{}, fmt.Errorf("fetch: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			p.log.Warn("temp file cleanup failed", logx.String("path", f.Path), logx.Err(cerr))
		}
	}()

	upCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.client.UploadMedia(upCtx, f)
}

func (p *Publisher) fail(err error, start time.Time) Result {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		d := rl.RetryAfter
		if d <= 0 {
			d = defaultCooldown
		}
		p.limiter.SetCooldown(d)
		res := p.result(StatusRateLimited, start)
		res.ResetIn = p.limiter.ResetIn()
		p.log.Warn("platform rate limit hit", logx.Duration("cooldown", d), logx.Err(err))
		return res
	}

	res := p.result(StatusError, start)
	res.Err = err.Error()
	p.log.Warn("publish failed", logx.Err(err), logx.Duration("took", res.Took))
	return res
}

func (p *Publisher) result(st Status, start time.Time) Result {
	return Result{Destination: p.cfg.Name, Status: st, Took: time.Since(start)}
}
