package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Config struct {
	Discord      DiscordConfig       `json:"discord"`
	Trigger      TriggerConfig       `json:"trigger"`
	Publish      PublishConfig       `json:"publish"`
	Destinations []DestinationConfig `json:"destinations"`
	Logging      LoggingConfig       `json:"logging"`
	Storage      *StorageConfig      `json:"storage,omitempty"`
	Debug        DebugConfig         `json:"debug,omitempty"`
	Diagnostics  DiagnosticsConfig   `json:"diagnostics,omitempty"`
}

// DiscordConfig holds the bot session and the trigger authorization lists.
// Empty lists mean "no restriction"; an empty admin list is open mode.
type DiscordConfig struct {
	Token           string `json:"token"`
	Servers         IDList `json:"servers,omitempty"`
	Admins          IDList `json:"admins,omitempty"`
	AllowedChannels IDList `json:"allowed_channels,omitempty"`
	// ReactOnPublish adds a confirmation reaction after a successful publish.
	// Defaults to true when omitted.
	ReactOnPublish *bool `json:"react_on_publish,omitempty"`
}

type TriggerConfig struct {
	Emoji string `json:"emoji"`
}

// PublishConfig controls the fan-out. Durations are Go duration strings.
//
// Defaults:
//   - timeout: "3m" (one destination, fetch + upload + post)
//   - call_timeout: "60s" (one external call)
//   - max_inflight: 4
//   - dedup_window: "0s" (disabled)
type PublishConfig struct {
	Timeout     string      `json:"timeout,omitempty"`
	CallTimeout string      `json:"call_timeout,omitempty"`
	MaxInflight int         `json:"max_inflight,omitempty"`
	DedupWindow string      `json:"dedup_window,omitempty"`
	Fetch       FetchConfig `json:"fetch,omitempty"`
}

type FetchConfig struct {
	Timeout  string `json:"timeout,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
	TempDir  string `json:"temp_dir,omitempty"`
}

// DestinationConfig describes one publish target. Exactly one of the
// platform blocks must match Type.
type DestinationConfig struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"`

	MaxLength int `json:"max_length,omitempty"`
	// MaxMedia is a pointer so an explicit 0 disables media.
	MaxMedia  *int            `json:"max_media,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`

	Twitter    *TwitterConfig    `json:"twitter,omitempty"`
	Telegram   *TelegramConfig   `json:"telegram,omitempty"`
	Mattermost *MattermostConfig `json:"mattermost,omitempty"`
}

// IsEnabled defaults to true.
func (d DestinationConfig) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

type RateLimitConfig struct {
	// MaxCalls <= 0 disables the window check; nil uses the platform default.
	MaxCalls *int   `json:"max_calls,omitempty"`
	Window   string `json:"window,omitempty"`
}

type TwitterConfig struct {
	APIKey       string `json:"api_key"`
	APISecret    string `json:"api_secret"`
	AccessToken  string `json:"access_token"`
	AccessSecret string `json:"access_secret"`
}

type TelegramConfig struct {
	Token          string `json:"token"`
	ChatID         int64  `json:"chat_id"`
	Username       string `json:"username,omitempty"`
	ThreadID       int    `json:"thread_id,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

type MattermostConfig struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingDiscord mirrors WARN+ log lines into a Discord channel.
type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional audit/dedup store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./discopilot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (/metrics, /healthz, pprof).
//
// Prefer binding to localhost. A non-loopback addr requires a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// DiagnosticsConfig schedules the rate limit report.
type DiagnosticsConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "@every 1h"
	Timezone string `json:"timezone,omitempty"`
}

// IDList is a list of platform IDs. It accepts strings and bare numbers,
// since YAML turns unquoted snowflakes into integers.
type IDList []string

func (l *IDList) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(IDList, 0, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				out = append(out, s)
			}
		case json.Number:
			out = append(out, x.String())
		default:
			return fmt.Errorf("id list element %d: want string or number, got %T", i, v)
		}
	}
	*l = out
	return nil
}
