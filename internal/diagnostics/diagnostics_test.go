package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"discopilot/internal/media"
	"discopilot/internal/metrics"
	"discopilot/internal/publisher"
	"discopilot/internal/ratelimit"
	logx "discopilot/pkg/logx"
)

type statusClient struct {
	status string
	err    error
	calls  chan struct{}
}

func (c *statusClient) UploadMedia(context.Context, *media.File) (publisher.MediaHandle, error) {
	return publisher.MediaHandle{}, errors.New("unused")
}

func (c *statusClient) CreatePost(context.Context, string, []publisher.MediaHandle) (publisher.PostRef, error) {
	return publisher.PostRef{}, errors.New("unused")
}

func (c *statusClient) RateLimitStatus(context.Context) (string, error) {
	if c.calls != nil {
		select {
		case c.calls <- struct{}{}:
		default:
		}
	}
	return c.status, c.err
}

func (c *statusClient) Accepts(media.Kind) bool { return true }

type dest struct {
	name string
	lim  *ratelimit.Limiter
	cl   publisher.Client
}

func (d dest) Name() string                { return d.name }
func (d dest) Limiter() *ratelimit.Limiter { return d.lim }
func (d dest) Client() publisher.Client    { return d.cl }

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	cases := []Config{
		{Schedule: "every hour"},
		{Schedule: "@every 1m", Timezone: "Mars/Olympus"},
	}
	for _, cfg := range cases {
		if _, err := New(cfg, nil, nil, logx.Nop()); err == nil {
			t.Fatalf("New(%+v) accepted invalid config", cfg)
		}
	}
	s, err := New(Config{Schedule: "0 */5 * * * *", Timezone: "UTC"}, nil, nil, logx.Nop())
	if err != nil || s.cfg.Schedule == "" {
		t.Fatalf("six-field schedule: %v", err)
	}
}

func TestCollect(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	tw := ratelimit.New(17, 24*time.Hour)
	tw.RecordCall()
	tw.RecordCall()
	tg := ratelimit.New(20, time.Minute)

	s, err := New(Config{}, []Destination{
		dest{name: "twitter", lim: tw, cl: &statusClient{status: "15/17 remaining"}},
		dest{name: "telegram", lim: tg, cl: &statusClient{err: errors.New("boom")}},
	}, m, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if s.cfg.Schedule != DefaultSchedule {
		t.Fatalf("schedule = %q", s.cfg.Schedule)
	}

	reports := s.Collect(context.Background())
	if len(reports) != 2 {
		t.Fatalf("reports = %+v", reports)
	}
	if r := reports[0]; r.Local.Remaining != 15 || r.Local.CallsInWindow != 2 || r.Platform != "15/17 remaining" || r.Err != nil {
		t.Fatalf("twitter report = %+v", r)
	}
	if r := reports[1]; r.Err == nil || r.Local.Remaining != 20 {
		t.Fatalf("telegram report = %+v", r)
	}
	if got := testutil.ToFloat64(m.LimiterRemaining.WithLabelValues("twitter")); got != 15 {
		t.Fatalf("twitter gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.LimiterRemaining.WithLabelValues("telegram")); got != 20 {
		t.Fatalf("telegram gauge = %v", got)
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	cl := &statusClient{status: "ok", calls: make(chan struct{}, 1)}
	s, err := New(Config{Enabled: true, Schedule: "@every 1h"}, []Destination{
		dest{name: "mm", lim: ratelimit.New(0, 0), cl: cl},
	}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatal("second Start succeeded")
	}

	select {
	case <-cl.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("no immediate collection")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := s.Stop(sctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(sctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestDisabledStartIsNoop(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, nil, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Enabled() {
		t.Fatal("disabled service reports enabled")
	}
}
