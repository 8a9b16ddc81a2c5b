// Package diagnostics periodically reports the rate limit state of every
// destination: the local limiter window and whatever the platform says.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"discopilot/internal/metrics"
	"discopilot/internal/publisher"
	"discopilot/internal/ratelimit"
	logx "discopilot/pkg/logx"
)

const (
	DefaultSchedule    = "@every 1h"
	defaultCallTimeout = 15 * time.Second
)

type Config struct {
	Enabled     bool
	Schedule    string
	Timezone    string
	CallTimeout time.Duration
}

// Destination is the part of a publisher diagnostics needs.
type Destination interface {
	Name() string
	Limiter() *ratelimit.Limiter
	Client() publisher.Client
}

// Report is one destination's state at one tick.
type Report struct {
	Name     string
	Local    ratelimit.Snapshot
	Platform string
	Err      error
}

type Service struct {
	cfg     Config
	dests   []Destination
	metrics *metrics.Metrics
	log     logx.Logger

	sched cron.Schedule
	loc   *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	running bool
	baseCtx context.Context
}

// New validates the schedule and timezone up front so a bad config fails
// at startup instead of silently never firing.
func New(cfg Config, dests []Destination, m *metrics.Metrics, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("diagnostics schedule %q: %w", cfg.Schedule, err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("diagnostics timezone %q: %w", tz, err)
		}
		loc = l
	}

	return &Service{
		cfg:     cfg,
		dests:   dests,
		metrics: m,
		log:     log,
		sched:   sched,
		loc:     loc,
	}, nil
}

func (s *Service) Enabled() bool { return s != nil && s.cfg.Enabled }

// Start schedules the periodic report and runs one immediately.
func (s *Service) Start(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("diagnostics already running")
	}

	s.baseCtx = ctx
	s.c = cron.New(cron.WithLocation(s.loc))
	s.c.Schedule(s.sched, cron.FuncJob(func() { s.tick() }))
	s.c.Start()
	s.running = true

	next := s.sched.Next(time.Now().In(s.loc))
	s.log.Info("diagnostics started",
		logx.String("schedule", s.cfg.Schedule),
		logx.String("tz", s.loc.String()),
		logx.Time("next", next),
		logx.Int("destinations", len(s.dests)),
	)
	go s.tick()
	return nil
}

// Stop halts the scheduler and waits (bounded by ctx) for a running tick.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	running := s.running
	s.c = nil
	s.running = false
	s.mu.Unlock()

	if !running || c == nil {
		return nil
	}
	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info("diagnostics stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	s.Collect(ctx)
}

// Collect queries every destination and logs one line per destination.
// Platform errors are reported but never affect publishing.
func (s *Service) Collect(ctx context.Context) []Report {
	out := make([]Report, 0, len(s.dests))
	for _, d := range s.dests {
		r := Report{Name: d.Name()}
		if l := d.Limiter(); l != nil {
			r.Local = l.Snapshot()
		}
		if c := d.Client(); c != nil {
			cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
			r.Platform, r.Err = c.RateLimitStatus(cctx)
			cancel()
		}
		s.metrics.Remaining(r.Name, r.Local.Remaining)

		fields := []logx.Field{
			logx.String("destination", r.Name),
			logx.Int("calls_in_window", r.Local.CallsInWindow),
			logx.Int("max_calls", r.Local.MaxCalls),
			logx.Int("remaining", r.Local.Remaining),
			logx.Duration("window", r.Local.Window),
			logx.Bool("limited", r.Local.Limited),
		}
		if r.Local.ResetIn > 0 {
			fields = append(fields, logx.Duration("reset_in", r.Local.ResetIn))
		}
		if r.Platform != "" {
			fields = append(fields, logx.String("platform", r.Platform))
		}
		if r.Err != nil {
			s.log.Warn("rate limit status unavailable", append(fields, logx.Err(r.Err))...)
		} else {
			s.log.Info("rate limit status", fields...)
		}
		out = append(out, r)
	}
	return out
}
