// Package orchestrator runs the trigger pipeline: authorize an event, resolve
// the source message, publish to every destination concurrently and reply
// once with a consolidated report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"discopilot/internal/content"
	"discopilot/internal/eventbus"
	"discopilot/internal/metrics"
	"discopilot/internal/publisher"
	"discopilot/internal/storage"
	"discopilot/internal/transport"
	"discopilot/internal/trigger"
	logx "discopilot/pkg/logx"
)

var (
	// ErrRejected wraps the filter reason of an unauthorized trigger.
	ErrRejected = errors.New("trigger rejected")
	// ErrSuppressed is returned for a repeat trigger inside the dedup window.
	ErrSuppressed = errors.New("trigger suppressed")
	// ErrResolve is returned when the source message cannot be fetched.
	ErrResolve = errors.New("resolve source message")
)

const confirmEmoji = "✅"

// Destination is one publish target. *publisher.Publisher implements it.
type Destination interface {
	Name() string
	Publish(ctx context.Context, msg content.SourceMessage) publisher.Result
}

// Source is the part of the stream session the pipeline talks back to.
type Source interface {
	ResolveMessage(ctx context.Context, channelID, messageID string) (content.SourceMessage, error)
	SendReply(ctx context.Context, to transport.MessageRef, text string) error
	AddReaction(ctx context.Context, to transport.MessageRef, emoji string) error
}

type Config struct {
	ReactOnPublish bool
	// DedupWindow suppresses re-triggers of the same message; 0 disables.
	DedupWindow time.Duration
	// CallTimeout bounds resolve, reply and reaction calls.
	CallTimeout time.Duration
	// RunTimeout bounds one whole unit of work in Run.
	RunTimeout  time.Duration
	MaxInflight int
}

type Deps struct {
	Policy       trigger.Policy
	Source       Source
	Destinations []Destination
	Bus          eventbus.Bus
	Store        storage.Store
	Metrics      *metrics.Metrics
}

type Orchestrator struct {
	cfg   Config
	deps  Deps
	log   logx.Logger
	now   func() time.Time
	newID func() string

	dedupMu sync.Mutex
	claimed map[string]time.Time
}

func New(cfg Config, deps Deps, log logx.Logger) (*Orchestrator, error) {
	if deps.Source == nil {
		return nil, errors.New("orchestrator: nil source")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	seen := map[string]struct{}{}
	for _, d := range deps.Destinations {
		if _, dup := seen[d.Name()]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate destination %q", d.Name())
		}
		seen[d.Name()] = struct{}{}
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
		claimed: map[string]time.Time{},
	}, nil
}

// Destinations returns the registered destination names in order.
func (o *Orchestrator) Destinations() []string {
	out := make([]string, 0, len(o.deps.Destinations))
	for _, d := range o.deps.Destinations {
		out = append(out, d.Name())
	}
	return out
}

// Handle processes one event end to end. Exactly one reply is sent for an
// authorized trigger that is suppressed or whose message resolves; nothing
// is sent otherwise.
func (o *Orchestrator) Handle(ctx context.Context, ev transport.Event) (Report, error) {
	dec := trigger.Evaluate(ev, o.deps.Policy)
	if !dec.Authorized {
		o.deps.Metrics.Trigger(string(dec.Reason))
		o.publishEvent(eventbus.TriggerRejected, ev, string(dec.Reason))
		o.log.Debug("trigger rejected",
			logx.String("reason", string(dec.Reason)),
			logx.String("user", ev.UserID),
			logx.String("channel", ev.ChannelID),
		)
		return Report{}, fmt.Errorf("%w: %s", ErrRejected, dec.Reason)
	}
	o.deps.Metrics.Trigger("authorized")

	key := ev.ChannelID + "/" + ev.MessageID
	if !o.claim(ctx, key) {
		o.deps.Metrics.Trigger("suppressed")
		o.publishEvent(eventbus.TriggerSuppressed, ev, key)
		o.log.Info("trigger suppressed, message published recently", logx.String("message", ev.MessageID))
		if err := o.reply(ctx, ev.Ref(), suppressedMsg); err != nil {
			o.log.Warn("suppressed reply failed", logx.Err(err))
		}
		return Report{}, ErrSuppressed
	}

	start := o.now()
	runID := o.newID()
	log := o.log.With(logx.String("run", runID), logx.String("message", ev.MessageID))
	log.Info("trigger authorized", logx.String("user", ev.UserID), logx.String("channel", ev.ChannelID))

	rctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	msg, err := o.deps.Source.ResolveMessage(rctx, ev.ChannelID, ev.MessageID)
	cancel()
	if err != nil {
		o.release(key)
		log.Warn("source message unavailable", logx.Err(err))
		o.audit(ctx, storage.AuditEntry{
			RunID: runID, UserID: ev.UserID, GuildID: ev.GuildID, ChannelID: ev.ChannelID, MessageID: ev.MessageID,
			Error: err.Error(), TookMS: o.now().Sub(start).Milliseconds(),
		})
		return Report{}, fmt.Errorf("%w: %w", ErrResolve, err)
	}

	o.publishEvent(eventbus.PublishStarted, ev, runID)

	var report Report
	if len(o.deps.Destinations) == 0 {
		report = Report{RunID: runID, NoDestinations: true}
		log.Warn("no destinations configured")
	} else {
		report = newReport(runID, o.fanOut(ctx, msg))
	}

	replyErr := o.reply(ctx, ev.Ref(), report.Text())
	if replyErr != nil {
		log.Warn("report reply failed", logx.Err(replyErr))
	}

	if report.AnySuccess() {
		if o.cfg.ReactOnPublish {
			o.react(ctx, ev.Ref(), log)
		}
	} else {
		// Nothing went out; let the operator retry right away.
		o.release(key)
	}

	took := o.now().Sub(start)
	ok, limited, failed := report.Counts()
	o.deps.Metrics.Run(took)
	o.audit(ctx, auditEntry(ev, report, took))
	o.publishEvent(eventbus.PublishCompleted, ev, report)
	log.Info("publish run finished",
		logx.Int("ok", ok),
		logx.Int("rate_limited", limited),
		logx.Int("failed", failed),
		logx.Duration("took", took),
	)

	if replyErr != nil {
		return report, fmt.Errorf("send report: %w", replyErr)
	}
	return report, nil
}

// fanOut publishes msg to every destination concurrently. A failing
// destination never cancels its siblings; results keep registration order.
func (o *Orchestrator) fanOut(ctx context.Context, msg content.SourceMessage) []publisher.Result {
	results := make([]publisher.Result, len(o.deps.Destinations))
	var g errgroup.Group
	for i, d := range o.deps.Destinations {
		g.Go(func() error {
			results[i] = o.publishOne(ctx, d, msg)
			o.deps.Metrics.Publish(results[i].Destination, string(results[i].Status), results[i].Took)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) publishOne(ctx context.Context, d Destination, msg content.SourceMessage) (res publisher.Result) {
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("destination panicked",
				logx.String("dest", d.Name()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			res = publisher.Result{
				Destination: d.Name(),
				Status:      publisher.StatusError,
				Err:         fmt.Sprintf("internal error: %v", r),
				Took:        o.now().Sub(start),
			}
		}
	}()
	res = d.Publish(ctx, msg)
	if res.Destination == "" {
		res.Destination = d.Name()
	}
	return res
}

func (o *Orchestrator) reply(ctx context.Context, to transport.MessageRef, text string) error {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.deps.Source.SendReply(cctx, to, text)
}

func (o *Orchestrator) react(ctx context.Context, to transport.MessageRef, log logx.Logger) {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	if err := o.deps.Source.AddReaction(cctx, to, confirmEmoji); err != nil {
		log.Debug("confirmation reaction failed", logx.Err(err))
	}
}

// claim reserves key for the dedup window. It reports false if the key is
// already reserved, in memory or in the store.
func (o *Orchestrator) claim(ctx context.Context, key string) bool {
	if o.cfg.DedupWindow <= 0 {
		return true
	}
	now := o.now()
	until := now.Add(o.cfg.DedupWindow)

	o.dedupMu.Lock()
	defer o.dedupMu.Unlock()
	for k, t := range o.claimed {
		if !t.After(now) {
			delete(o.claimed, k)
		}
	}
	if _, busy := o.claimed[key]; busy {
		return false
	}
	if st := o.deps.Store; st != nil {
		if t, ok, err := st.GetDedup(ctx, key); err != nil {
			o.log.Debug("dedup lookup failed", logx.Err(err))
		} else if ok && t.After(now) {
			o.claimed[key] = t
			return false
		}
		if err := st.PutDedup(ctx, key, until); err != nil {
			o.log.Debug("dedup persist failed", logx.Err(err))
		}
	}
	o.claimed[key] = until
	return true
}

func (o *Orchestrator) release(key string) {
	if o.cfg.DedupWindow <= 0 {
		return
	}
	o.dedupMu.Lock()
	delete(o.claimed, key)
	o.dedupMu.Unlock()
	if st := o.deps.Store; st != nil {
		// An already expired deadline reads as absent.
		if err := st.PutDedup(context.Background(), key, o.now().Add(-time.Millisecond)); err != nil {
			o.log.Debug("dedup release failed", logx.Err(err))
		}
	}
}

func (o *Orchestrator) audit(ctx context.Context, e storage.AuditEntry) {
	if o.deps.Store == nil {
		return
	}
	if e.At.IsZero() {
		e.At = o.now()
	}
	if err := o.deps.Store.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		o.log.Warn("audit append failed", logx.Err(err))
	}
}

func auditEntry(ev transport.Event, r Report, took time.Duration) storage.AuditEntry {
	ok, limited, failed := r.Counts()
	e := storage.AuditEntry{
		RunID:     r.RunID,
		UserID:    ev.UserID,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		OK:        ok,
		Limited:   limited,
		Fail:      failed,
		TookMS:    took.Milliseconds(),
	}
	if r.NoDestinations {
		e.Error = noDestinationsMsg
	}
	for _, en := range r.Entries {
		e.Results = append(e.Results, storage.DestinationAudit{
			Name:      en.Destination,
			Status:    string(en.Status),
			Reference: en.Reference,
			Error:     en.Error,
			TookMS:    en.Took.Milliseconds(),
		})
	}
	return e
}

func (o *Orchestrator) publishEvent(typ string, ev transport.Event, data any) {
	if o.deps.Bus == nil {
		return
	}
	o.deps.Bus.Publish(eventbus.Event{Type: typ, Data: EventData{Event: ev, Detail: data}})
}

// EventData is the payload of the bus events this package publishes.
type EventData struct {
	Event  transport.Event
	Detail any
}
