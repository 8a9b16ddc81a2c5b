// Package discord implements transport.Session on top of the Discord gateway.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"discopilot/internal/content"
	rtsup "discopilot/internal/runtime/supervisor"
	"discopilot/internal/transport"
	logx "discopilot/pkg/logx"
)

// MessageLimit is the maximum length of a Discord message.
const MessageLimit = 2000

type Config struct {
	Token string
	// OnDrop is told how many events were dropped since the last report.
	OnDrop func(n uint64)
}

type Session struct {
	cfg Config
	log logx.Logger

	dg      *discordgo.Session
	out     atomic.Value // stores (chan<- transport.Event)
	botID   atomic.Value // stores string
	runMu   sync.Mutex
	running bool

	// sup owns the session's internal goroutines; created on Start, canceled on Stop.
	sup *rtsup.Supervisor

	droppedEvents uint64
	now           func() time.Time
}

var _ transport.Session = (*Session)(nil)

func New(cfg Config, log logx.Logger) (*Session, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	token = strings.TrimPrefix(token, "Bot ")
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsDirectMessageReactions |
		discordgo.IntentMessageContent
	if log.IsZero() {
		log = logx.Nop()
	}

	s := newSession(cfg, log)
	s.dg = dg
	s.registerHandlers()
	return s, nil
}

func newSession(cfg Config, log logx.Logger) *Session {
	s := &Session{cfg: cfg, log: log, now: time.Now}
	var nilOut chan<- transport.Event
	s.out.Store(nilOut)
	s.botID.Store("")
	return s
}

// Supervisor returns the session's internal supervisor (nil if not started).
func (s *Session) Supervisor() *rtsup.Supervisor {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.sup
}

// BotID is the bot's own user ID once the gateway is ready.
func (s *Session) BotID() string {
	v, _ := s.botID.Load().(string)
	return v
}

func (s *Session) registerHandlers() {
	s.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			s.botID.Store(r.User.ID)
			s.log.Info("gateway ready", logx.String("bot_id", r.User.ID), logx.String("bot", r.User.Username), logx.Int("guilds", len(r.Guilds)))
		}
	})
	s.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		s.onReactionAdd(r)
	})
	s.dg.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		s.log.Warn("gateway disconnected")
	})
	s.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		s.log.Info("gateway resumed")
	})
}

func (s *Session) onReactionAdd(r *discordgo.MessageReactionAdd) {
	ev, ok := toEvent(r, s.BotID(), s.now())
	if !ok {
		return
	}
	s.sendEvent(ev)
}

func (s *Session) sendEvent(ev transport.Event) {
	out, _ := s.out.Load().(chan<- transport.Event)
	if out == nil {
		return
	}
	select {
	case out <- ev:
	default:
		atomic.AddUint64(&s.droppedEvents, 1)
	}
}

func (s *Session) Start(ctx context.Context, out chan<- transport.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	// Connect before publishing the output channel so a bad token fails Start.
	if err := s.dg.Open(); err != nil {
		s.runMu.Unlock()
		return mapError(err)
	}
	if s.dg.State != nil && s.dg.State.User != nil {
		s.botID.Store(s.dg.State.User.ID)
	}
	s.running = true
	s.out.Store(out)
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "discord.session"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.runMu.Unlock()

	sup.Go0("events.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				s.reportDropped(cap(out))
				return
			case <-ticker.C:
				s.reportDropped(cap(out))
			}
		}
	})

	// discordgo reconnects on its own; we only need to close on cancel.
	sup.Go0("gateway.close_on_cancel", func(c context.Context) {
		<-c.Done()
		if err := s.dg.Close(); err != nil {
			s.log.Debug("gateway close", logx.Err(err))
		}
	})
	return nil
}

func (s *Session) reportDropped(capacity int) {
	if n := atomic.SwapUint64(&s.droppedEvents, 0); n > 0 {
		if s.cfg.OnDrop != nil {
			s.cfg.OnDrop(n)
		}
		s.log.Warn("incoming events dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (s *Session) Stop(ctx context.Context) error {
	s.runMu.Lock()
	sup := s.sup
	s.sup = nil
	wasRunning := s.running
	s.running = false
	var nilOut chan<- transport.Event
	s.out.Store(nilOut)
	s.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	s.log.Info("stopping", logx.Uint64("dropped_events_pending", atomic.LoadUint64(&s.droppedEvents)))
	if sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.log.Warn("discord stop timed out", logx.Err(err))
			return nil
		}
		s.log.Debug("discord stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (s *Session) ResolveMessage(ctx context.Context, channelID, messageID string) (content.SourceMessage, error) {
	m, err := s.dg.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return content.SourceMessage{}, mapError(err)
	}
	return toSourceMessage(m), nil
}

// SendReply answers the referenced message. Text longer than MessageLimit is
// split; only the first chunk is threaded as a reply.
func (s *Session) SendReply(ctx context.Context, to transport.MessageRef, text string) error {
	ref := &discordgo.MessageReference{MessageID: to.MessageID, ChannelID: to.ChannelID, GuildID: to.GuildID}
	for i, chunk := range splitText(text, MessageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if i == 0 {
			_, err = s.dg.ChannelMessageSendReply(to.ChannelID, chunk, ref, discordgo.WithContext(ctx))
		} else {
			_, err = s.dg.ChannelMessageSend(to.ChannelID, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Session) AddReaction(ctx context.Context, to transport.MessageRef, emoji string) error {
	return mapError(s.dg.MessageReactionAdd(to.ChannelID, to.MessageID, reactionAPIName(emoji), discordgo.WithContext(ctx)))
}

// SendText posts plain text to a channel. It also serves as the log chat sink.
func (s *Session) SendText(ctx context.Context, channelID, text string) error {
	for _, chunk := range splitText(text, MessageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.dg.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return mapError(err)
		}
	}
	return nil
}
