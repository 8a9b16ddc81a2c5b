package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "discopilot/pkg/logx"
)

// Destination types.
const (
	TypeTwitter    = "twitter"
	TypeTelegram   = "telegram"
	TypeMattermost = "mattermost"
)

// Validate reports every structural problem in cfg at once. Defaults are
// applied later, when the config is mapped onto components.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Discord.Token) == "" {
		add("discord.token is required (or set DISCORD_TOKEN)")
	}

	p := cfg.Publish
	for path, raw := range map[string]string{
		"publish.timeout":       p.Timeout,
		"publish.call_timeout":  p.CallTimeout,
		"publish.dedup_window":  p.DedupWindow,
		"publish.fetch.timeout": p.Fetch.Timeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if p.MaxInflight < 0 {
		add("publish.max_inflight must be >= 0")
	}
	if p.Fetch.MaxBytes < 0 {
		add("publish.fetch.max_bytes must be >= 0")
	}

	seen := map[string]bool{}
	for i, d := range cfg.Destinations {
		errs = append(errs, validateDestination(i, d, seen)...)
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add("logging.level: unknown level %q", lv)
	}
	if ml := strings.TrimSpace(cfg.Logging.Discord.MinLevel); ml != "" && !logx.ValidLevel(ml) {
		add("logging.discord.min_level: unknown level %q", ml)
	}
	if cfg.Logging.Discord.Enabled && strings.TrimSpace(cfg.Logging.Discord.ChannelID) == "" {
		add("logging.discord.channel_id is required when logging.discord.enabled")
	}
	if cfg.Logging.Discord.RatePerSec < 0 {
		add("logging.discord.rate_per_sec must be >= 0")
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path is required when storage.driver=sqlite")
			}
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	dbg := cfg.Debug
	for path, raw := range map[string]string{
		"debug.read_timeout":  dbg.ReadTimeout,
		"debug.write_timeout": dbg.WriteTimeout,
		"debug.idle_timeout":  dbg.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if tz := strings.TrimSpace(cfg.Diagnostics.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("diagnostics.timezone: invalid %q: %w", tz, err)
		}
	}

	return errors.Join(errs...)
}

func validateDestination(i int, d DestinationConfig, seen map[string]bool) []error {
	var errs []error
	at := fmt.Sprintf("destinations[%d]", i)
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(at+": "+format, args...)) }

	name := strings.TrimSpace(d.Name)
	switch {
	case name == "":
		add("name is required")
	case seen[strings.ToLower(name)]:
		add("duplicate name %q", name)
	default:
		seen[strings.ToLower(name)] = true
	}
	if d.MaxLength < 0 {
		add("max_length must be >= 0")
	}
	if d.MaxMedia != nil && *d.MaxMedia < 0 {
		add("max_media must be >= 0")
	}
	if _, err := ParseDurationField(at+".rate_limit.window", d.RateLimit.Window); err != nil {
		errs = append(errs, err)
	}

	// Disabled destinations may be incomplete.
	if !d.IsEnabled() {
		return errs
	}
	switch strings.ToLower(strings.TrimSpace(d.Type)) {
	case TypeTwitter:
		if d.Twitter == nil {
			add("twitter block is required for type twitter")
		}
	case TypeTelegram:
		if d.Telegram == nil {
			add("telegram block is required for type telegram")
		} else {
			if strings.TrimSpace(d.Telegram.Token) == "" {
				add("telegram.token is required (or set TELEGRAM_TOKEN)")
			}
			if d.Telegram.ChatID == 0 {
				add("telegram.chat_id is required")
			}
		}
	case TypeMattermost:
		if d.Mattermost == nil {
			add("mattermost block is required for type mattermost")
		} else {
			if strings.TrimSpace(d.Mattermost.ServerURL) == "" {
				add("mattermost.server_url is required")
			}
			if strings.TrimSpace(d.Mattermost.ChannelID) == "" {
				add("mattermost.channel_id is required")
			}
			if strings.TrimSpace(d.Mattermost.Token) == "" {
				add("mattermost.token is required (or set MATTERMOST_TOKEN)")
			}
		}
	case "":
		add("type is required")
	default:
		add("unknown type %q", d.Type)
	}
	return errs
}
