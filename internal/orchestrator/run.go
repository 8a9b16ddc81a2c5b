package orchestrator

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"discopilot/internal/transport"
	logx "discopilot/pkg/logx"
)

// Run consumes events until ctx is done or events is closed. Each event is an
// independent unit of work; at most MaxInflight run at once. Units already
// started are allowed to finish (bounded by RunTimeout) after ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context, events <-chan transport.Event) error {
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxInflight)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return nil
		case ev, ok := <-events:
			if !ok {
				_ = g.Wait()
				return nil
			}
			if ev.Kind != transport.EventReactionAdd {
				continue
			}
			g.Go(func() error {
				o.runOne(ctx, ev)
				return nil
			})
		}
	}
}

func (o *Orchestrator) runOne(parent context.Context, ev transport.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.cfg.RunTimeout)
	defer cancel()

	_, err := o.Handle(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrRejected), errors.Is(err, ErrSuppressed):
		// No reply for these; Handle already logged them.
	case errors.Is(err, ErrResolve):
		o.log.Warn("trigger dropped", logx.String("message", ev.MessageID), logx.Err(err))
	default:
		o.log.Error("trigger run failed", logx.String("message", ev.MessageID), logx.Err(err))
	}
}
