package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
discord:
  token: "abc"
  admins: [123456789012345678, "42"]
  servers: []
trigger:
  emoji: "📢"
publish:
  call_timeout: "30s"
  dedup_window: "10m"
destinations:
  - name: news
    type: telegram
    max_media: 0
    rate_limit: {max_calls: 5, window: "1m"}
    telegram: {token: "t", chat_id: -1001234}
logging:
  level: info
  console: true
`

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := strings.Join(cfg.Discord.Admins, ","); got != "123456789012345678,42" {
		t.Fatalf("admins = %q", got)
	}
	if len(cfg.Destinations) != 1 {
		t.Fatalf("destinations = %+v", cfg.Destinations)
	}
	d := cfg.Destinations[0]
	if d.MaxMedia == nil || *d.MaxMedia != 0 {
		t.Fatalf("max_media = %v, want explicit 0", d.MaxMedia)
	}
	if d.RateLimit.MaxCalls == nil || *d.RateLimit.MaxCalls != 5 || d.Telegram.ChatID != -1001234 {
		t.Fatalf("destination = %+v", d)
	}
	if !d.IsEnabled() {
		t.Fatal("destination should default to enabled")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, path, body string
	}{
		{"unknown field", "c.yaml", "discord: {token: x, nope: 1}"},
		{"trailing json", "c.json", `{"discord":{"token":"x"}} {}`},
		{"bad id type", "c.yaml", "discord: {admins: [{a: 1}]}"},
		{"bad yaml", "c.yaml", "discord: ["},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.path, []byte(tc.body)); err == nil {
				t.Fatal("Decode accepted invalid config")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	ApplyEnv(cfg, envMap(map[string]string{
		"DISCORD_TOKEN":         "from-env",
		"ADMIN_IDS":             "1, 2 3",
		"TRIGGER_EMOJI":         "🚀",
		"TELEGRAM_TOKEN":        "tg-env",
		"TWITTER_API_KEY":       "k",
		"TWITTER_API_SECRET":    "s",
		"TWITTER_ACCESS_TOKEN":  "t",
		"TWITTER_ACCESS_SECRET": "ts",
	}))

	if cfg.Discord.Token != "from-env" || cfg.Trigger.Emoji != "🚀" {
		t.Fatalf("discord/trigger = %+v %+v", cfg.Discord, cfg.Trigger)
	}
	if got := strings.Join(cfg.Discord.Admins, ","); got != "1,2,3" {
		t.Fatalf("admins = %q", got)
	}
	if cfg.Destinations[0].Telegram.Token != "tg-env" {
		t.Fatalf("telegram token = %q", cfg.Destinations[0].Telegram.Token)
	}
	if len(cfg.Destinations) != 2 || cfg.Destinations[1].Type != TypeTwitter || cfg.Destinations[1].Twitter.AccessSecret != "ts" {
		t.Fatalf("twitter destination not created: %+v", cfg.Destinations)
	}
}

func TestApplyEnvPartialTwitterDoesNotCreate(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	ApplyEnv(cfg, envMap(map[string]string{"TWITTER_API_KEY": "k"}))
	if len(cfg.Destinations) != 0 {
		t.Fatalf("destinations = %+v", cfg.Destinations)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()

	mm := 1
	cfg := &Config{
		Publish: PublishConfig{CallTimeout: "soon"},
		Destinations: []DestinationConfig{
			{Name: "a", Type: "twitter"},
			{Name: "A", Type: "fax", MaxMedia: &mm},
			{Name: "", Type: "mattermost", Mattermost: &MattermostConfig{}},
		},
		Logging: LoggingConfig{Level: "loud"},
		Storage: &StorageConfig{Driver: "sqlite"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted invalid config")
	}
	msg := err.Error()
	for _, want := range []string{
		"discord.token is required",
		"publish.call_timeout",
		"twitter block is required",
		`duplicate name "A"`,
		`unknown type "fax"`,
		"destinations[2]: name is required",
		"mattermost.server_url is required",
		`logging.level: unknown level "loud"`,
		"storage.path is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in:\n%s", want, msg)
		}
	}
}

func TestDisabledDestinationMayBeIncomplete(t *testing.T) {
	t.Parallel()

	off := false
	cfg := &Config{
		Discord:      DiscordConfig{Token: "x"},
		Destinations: []DestinationConfig{{Name: "later", Type: "telegram", Enabled: &off}},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	a, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Decode("c.yaml", []byte(sampleYAML))
	b.Logging.Level = "debug"
	b.Destinations[0].Telegram.ChatID = 7

	sections, attrs := SummarizeChange(a, b)
	if got := strings.Join(sections, ","); got != "destinations,logging" {
		t.Fatalf("sections = %q", got)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got := RestartRequired(sections); len(got) != 1 || got[0] != "destinations" {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	if p, err := ResolvePath("x.yaml", nil); err != nil || p != "x.yaml" {
		t.Fatalf("flag path = %q, %v", p, err)
	}
	p, err := ResolvePath("", envMap(map[string]string{EnvConfigPath: "/etc/discopilot.yaml"}))
	if err != nil || p != "/etc/discopilot.yaml" {
		t.Fatalf("env path = %q, %v", p, err)
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path, WithGetenv(envMap(map[string]string{"DISCORD_TOKEN": "env-token"})), WithDebounce(20*time.Millisecond))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "env-token" || m.Get() != cfg {
		t.Fatalf("loaded = %+v", cfg.Discord)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	m.SetValidator(func(context.Context, *Config) error { return nil })

	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	updated := strings.Replace(sampleYAML, "level: info", "level: debug", 1)
	// Keep writing until the watcher (which starts asynchronously) sees a change.
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-sub:
			if got.Logging.Level != "debug" {
				t.Fatalf("reloaded level = %q", got.Logging.Level)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-tick.C:
			if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
				t.Fatal(err)
			}
		case <-ctx.Done():
			t.Fatal("no reload published")
		}
	}
}
