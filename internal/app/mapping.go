package app

import (
	"fmt"
	"strings"
	"time"

	"discopilot/internal/config"
	"discopilot/internal/destinations/mattermost"
	"discopilot/internal/destinations/telegram"
	"discopilot/internal/destinations/twitter"
	"discopilot/internal/diagnostics"
	"discopilot/internal/media"
	"discopilot/internal/observability/debugsrv"
	"discopilot/internal/orchestrator"
	"discopilot/internal/publisher"
	"discopilot/internal/ratelimit"
	"discopilot/internal/storage"
	"discopilot/internal/trigger"
	logx "discopilot/pkg/logx"
)

const (
	defaultSignal      = "📢"
	defaultTimeout     = 3 * time.Minute
	defaultCallTimeout = 60 * time.Second
	defaultMaxInflight = 4
	defaultFetchMax    = 25 << 20
)

// platformDefaults are the per-type limits used when a destination leaves
// them unset.
type platformDefaults struct {
	MaxLength          int
	MaxLengthWithMedia int
	MaxMedia           int
	MaxCalls           int
	Window             time.Duration
}

var defaultsByType = map[string]platformDefaults{
	config.TypeTwitter:    {MaxLength: 280, MaxMedia: 4, MaxCalls: 17, Window: 24 * time.Hour},
	config.TypeTelegram:   {MaxLength: telegram.TextLimit, MaxLengthWithMedia: telegram.CaptionLimit, MaxMedia: telegram.AlbumLimit, MaxCalls: 20, Window: time.Minute},
	config.TypeMattermost: {MaxLength: mattermost.TextLimit, MaxMedia: 5, MaxCalls: 60, Window: time.Minute},
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    l.Discord.Enabled,
			ChannelID:  l.Discord.ChannelID,
			MinLevel:   l.Discord.MinLevel,
			RatePerSec: l.Discord.RatePerSec,
		},
	}
}

func mapPolicy(cfg *config.Config) trigger.Policy {
	signal := strings.TrimSpace(cfg.Trigger.Emoji)
	if signal == "" {
		signal = defaultSignal
	}
	return trigger.NewPolicy(signal, cfg.Discord.Admins, cfg.Discord.Servers, cfg.Discord.AllowedChannels)
}

// publishTimings are the parsed publish.* durations shared by every destination.
type publishTimings struct {
	Timeout     time.Duration
	CallTimeout time.Duration
	DedupWindow time.Duration
}

func mapPublishTimings(cfg *config.Config) (publishTimings, error) {
	p := cfg.Publish
	timeout, err := config.ParseDurationOrDefault("publish.timeout", p.Timeout, defaultTimeout)
	if err != nil {
		return publishTimings{}, err
	}
	call, err := config.ParseDurationOrDefault("publish.call_timeout", p.CallTimeout, defaultCallTimeout)
	if err != nil {
		return publishTimings{}, err
	}
	dedup, err := config.ParseDurationField("publish.dedup_window", p.DedupWindow)
	if err != nil {
		return publishTimings{}, err
	}
	return publishTimings{Timeout: timeout, CallTimeout: call, DedupWindow: dedup}, nil
}

func mapOrchestratorConfig(cfg *config.Config, t publishTimings) orchestrator.Config {
	react := true
	if cfg.Discord.ReactOnPublish != nil {
		react = *cfg.Discord.ReactOnPublish
	}
	inflight := cfg.Publish.MaxInflight
	if inflight <= 0 {
		inflight = defaultMaxInflight
	}
	return orchestrator.Config{
		ReactOnPublish: react,
		DedupWindow:    t.DedupWindow,
		CallTimeout:    t.CallTimeout,
		// Destinations run in parallel; leave room for the resolve and reply calls.
		RunTimeout:  t.Timeout + 2*t.CallTimeout,
		MaxInflight: inflight,
	}
}

func mapFetcherConfig(cfg *config.Config, t publishTimings) (media.FetcherConfig, error) {
	f := cfg.Publish.Fetch
	timeout, err := config.ParseDurationOrDefault("publish.fetch.timeout", f.Timeout, 30*time.Second)
	if err != nil {
		return media.FetcherConfig{}, err
	}
	if timeout > t.CallTimeout {
		timeout = t.CallTimeout
	}
	maxBytes := f.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultFetchMax
	}
	return media.FetcherConfig{Timeout: timeout, MaxBytes: maxBytes, TempDir: strings.TrimSpace(f.TempDir)}, nil
}

// destinationSpec is a destination after defaults are applied, before any
// client is built.
type destinationSpec struct {
	Type      string
	Publisher publisher.Config
	MaxCalls  int
	Window    time.Duration
}

func mapDestination(d config.DestinationConfig, t publishTimings) (destinationSpec, error) {
	typ := strings.ToLower(strings.TrimSpace(d.Type))
	def, ok := defaultsByType[typ]
	if !ok {
		return destinationSpec{}, fmt.Errorf("destination %q: unknown type %q", d.Name, d.Type)
	}

	limits := publisher.Limits{
		MaxLength:          def.MaxLength,
		MaxLengthWithMedia: def.MaxLengthWithMedia,
		MaxMedia:           def.MaxMedia,
	}
	if d.MaxLength > 0 {
		limits.MaxLength = d.MaxLength
		// An explicit length also caps the caption.
		if limits.MaxLengthWithMedia > d.MaxLength {
			limits.MaxLengthWithMedia = d.MaxLength
		}
	}
	if d.MaxMedia != nil {
		limits.MaxMedia = *d.MaxMedia
	}

	maxCalls := def.MaxCalls
	if d.RateLimit.MaxCalls != nil {
		maxCalls = *d.RateLimit.MaxCalls
	}
	window, err := config.ParseDurationOrDefault(fmt.Sprintf("destinations.%s.rate_limit.window", d.Name), d.RateLimit.Window, def.Window)
	if err != nil {
		return destinationSpec{}, err
	}

	return destinationSpec{
		Type: typ,
		Publisher: publisher.Config{
			Name:        strings.TrimSpace(d.Name),
			Limits:      limits,
			CallTimeout: t.CallTimeout,
			Timeout:     t.Timeout,
		},
		MaxCalls: maxCalls,
		Window:   window,
	}, nil
}

// newClient builds the platform client of one destination.
func newClient(typ string, d config.DestinationConfig, callTimeout time.Duration) (publisher.Client, error) {
	switch typ {
	case config.TypeTwitter:
		if d.Twitter == nil {
			return nil, fmt.Errorf("destination %q: twitter block missing", d.Name)
		}
		c, err := twitter.New(twitter.Config{
			APIKey:       d.Twitter.APIKey,
			APISecret:    d.Twitter.APISecret,
			AccessToken:  d.Twitter.AccessToken,
			AccessSecret: d.Twitter.AccessSecret,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.TypeTelegram:
		if d.Telegram == nil {
			return nil, fmt.Errorf("destination %q: telegram block missing", d.Name)
		}
		c, err := telegram.New(telegram.Config{
			Token:          d.Telegram.Token,
			ChatID:         d.Telegram.ChatID,
			Username:       d.Telegram.Username,
			ThreadID:       d.Telegram.ThreadID,
			DisablePreview: d.Telegram.DisablePreview,
			Timeout:        callTimeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.TypeMattermost:
		if d.Mattermost == nil {
			return nil, fmt.Errorf("destination %q: mattermost block missing", d.Name)
		}
		c, err := mattermost.New(mattermost.Config{
			ServerURL: d.Mattermost.ServerURL,
			Token:     d.Mattermost.Token,
			ChannelID: d.Mattermost.ChannelID,
			Timeout:   callTimeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("destination %q: unknown type %q", d.Name, typ)
	}
}

// clientFactory is swapped in tests.
type clientFactory func(typ string, d config.DestinationConfig, callTimeout time.Duration) (publisher.Client, error)

// buildPublishers creates one publisher per enabled destination, in
// configuration order. Registration order is report order.
func buildPublishers(cfg *config.Config, t publishTimings, fetcher media.Fetcher, mk clientFactory, log logx.Logger) ([]*publisher.Publisher, error) {
	var out []*publisher.Publisher
	for _, d := range cfg.Destinations {
		if !d.IsEnabled() {
			log.Info("destination disabled", logx.String("destination", d.Name))
			continue
		}
		ds, err := mapDestination(d, t)
		if err != nil {
			return nil, err
		}
		client, err := mk(ds.Type, d, t.CallTimeout)
		if err != nil {
			return nil, fmt.Errorf("destination %q: %w", d.Name, err)
		}
		p, err := publisher.New(ds.Publisher, client, ratelimit.New(ds.MaxCalls, ds.Window), fetcher, log)
		if err != nil {
			return nil, err
		}
		log.Info("destination registered",
			logx.String("destination", ds.Publisher.Name),
			logx.String("type", ds.Type),
			logx.Int("max_length", ds.Publisher.Limits.MaxLength),
			logx.Int("max_media", ds.Publisher.Limits.MaxMedia),
			logx.Int("max_calls", ds.MaxCalls),
			logx.Duration("window", ds.Window),
		)
		out = append(out, p)
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./discopilot-data"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	// 0 keeps /profile usable.
	write, err := config.ParseDurationField("debug.write_timeout", d.WriteTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Prefix:        d.Prefix,
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapDiagnosticsConfig(cfg *config.Config, t publishTimings) diagnostics.Config {
	return diagnostics.Config{
		Enabled:     cfg.Diagnostics.Enabled,
		Schedule:    strings.TrimSpace(cfg.Diagnostics.Schedule),
		Timezone:    strings.TrimSpace(cfg.Diagnostics.Timezone),
		CallTimeout: t.CallTimeout,
	}
}
