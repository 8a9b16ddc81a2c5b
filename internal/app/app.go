package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"discopilot/internal/config"
	"discopilot/internal/diagnostics"
	"discopilot/internal/eventbus"
	"discopilot/internal/media"
	"discopilot/internal/metrics"
	"discopilot/internal/observability/debugsrv"
	"discopilot/internal/orchestrator"
	"discopilot/internal/publisher"
	rtsup "discopilot/internal/runtime/supervisor"
	"discopilot/internal/storage"
	"discopilot/internal/transport"
	"discopilot/internal/transport/discord"
	logx "discopilot/pkg/logx"
	"discopilot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	session *discord.Session
	orch    *orchestrator.Orchestrator
	pubs    []*publisher.Publisher
	diag    *diagnostics.Service
	debug   *debugsrv.Server

	events     chan transport.Event
	runDone    chan struct{}
	runStarted bool
	started    time.Time
}

// NewApp loads and validates the config and wires every component. Nothing
// touches the network until Start.
func NewApp(cfgm *config.Manager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", cfgm.Path(), err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	m := metrics.New()

	session, err := discord.New(discord.Config{
		Token:  cfg.Discord.Token,
		OnDrop: m.Dropped,
	}, log.With(logx.String("comp", "discord")))
	if err != nil {
		return nil, err
	}
	// The chat sink stays idle until logging.discord is enabled.
	logSvc.SetSender(session)

	timings, err := mapPublishTimings(cfg)
	if err != nil {
		return nil, err
	}
	fcfg, err := mapFetcherConfig(cfg, timings)
	if err != nil {
		return nil, err
	}
	fetcher := media.NewHTTPFetcher(fcfg)

	pubs, err := buildPublishers(cfg, timings, fetcher, newClient, log.With(logx.String("comp", "publisher")))
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	bus := eventbus.New()

	policy := mapPolicy(cfg)
	if policy.Open() {
		log.Warn("no admins configured: any user can trigger a publish (security-relevant default)")
	}

	dests := make([]orchestrator.Destination, 0, len(pubs))
	diagDests := make([]diagnostics.Destination, 0, len(pubs))
	for _, p := range pubs {
		dests = append(dests, p)
		diagDests = append(diagDests, p)
	}
	orch, err := orchestrator.New(mapOrchestratorConfig(cfg, timings), orchestrator.Deps{
		Policy:       policy,
		Source:       session,
		Destinations: dests,
		Bus:          bus,
		Store:        store,
		Metrics:      m,
	}, log.With(logx.String("comp", "orchestrator")))
	if err != nil {
		return nil, err
	}

	diag, err := diagnostics.New(mapDiagnosticsConfig(cfg, timings), diagDests, m, log.With(logx.String("comp", "diagnostics")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: m,
		session: session,
		orch:    orch,
		pubs:    pubs,
		diag:    diag,
		events:  make(chan transport.Event, 256),
		runDone: make(chan struct{}),
	}

	dbgCfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.debug = debugsrv.New(dbgCfg,
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry}),
		a.health,
		log.With(logx.String("comp", "debug")),
	)

	log.Info("configured",
		logx.String("config", cfgm.Path()),
		logx.String("signal", policy.Signal),
		logx.Int("admins", policy.Admins()),
		logx.Int("servers", policy.Servers()),
		logx.Int("channels", policy.Channels()),
		logx.String("destinations", strings.Join(orch.Destinations(), ",")),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()

	// Only logging is applied live, but a reload must still be a valid config.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.session.Start(a.sup.Context(), a.events); err != nil {
		return fmt.Errorf("discord: %w", err)
	}

	a.runStarted = true
	a.sup.Go("orchestrator.run", func(c context.Context) error {
		defer close(a.runDone)
		return a.orch.Run(c, a.events)
	})

	if err := a.diag.Start(a.sup.Context()); err != nil {
		return err
	}
	a.debug.Start(a.sup.Context())

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.Int("destinations", len(a.pubs)))
	return nil
}

// applyConfig applies the live sections of a reloaded config and reports
// the rest as needing a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if s == "logging" {
			a.logs.Apply(mapLoggingConfig(newCfg))
		}
	}
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}
	a.log.Info("config reloaded", fields...)
}

// health backs /healthz.
func (a *App) health() (any, bool) {
	ok := a.sup != nil && a.sup.Context().Err() == nil
	type destHealth struct {
		Name      string `json:"name"`
		Remaining int    `json:"remaining"`
		Limited   bool   `json:"limited"`
		ResetIn   string `json:"reset_in,omitempty"`
	}
	dests := make([]destHealth, 0, len(a.pubs))
	for _, p := range a.pubs {
		s := p.Limiter().Snapshot()
		d := destHealth{Name: p.Name(), Remaining: s.Remaining, Limited: s.Limited}
		if s.ResetIn > 0 {
			d.ResetIn = s.ResetIn.Round(time.Second).String()
		}
		dests = append(dests, d)
	}
	status := "ok"
	if !ok {
		status = "stopping"
	}
	body := map[string]any{
		"status":         status,
		"bot_id":         a.session.BotID(),
		"destinations":   dests,
		"bus_dropped":    a.bus.Dropped(),
		"log_dropped":    a.logs.Dropped(),
		"uptime_seconds": 0,
	}
	if !a.started.IsZero() {
		body["uptime_seconds"] = int64(time.Since(a.started).Seconds())
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		body["goroutines"] = snap.Active
		if snap.FirstError != "" {
			body["first_error"] = snap.FirstError
		}
	}
	return body, ok
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// Stops intake; runs already in flight keep going and still reply.
	a.sup.Cancel()

	a.step(ctx, "pipeline", 20*time.Second, func(c context.Context) error {
		if !a.runStarted {
			return nil
		}
		select {
		case <-a.runDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.step(ctx, "diagnostics", 2*time.Second, func(c context.Context) error { return a.diag.Stop(c) })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "discord", 3*time.Second, func(c context.Context) error { return a.session.Stop(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
