package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env files from the working directory and from dir (the
// config file's directory). Variables already set in the process win.
// It returns the files that were loaded.
func LoadDotEnv(dir string) ([]string, error) {
	candidates := []string{".env"}
	if d := strings.TrimSpace(dir); d != "" && d != "." {
		candidates = append(candidates, filepath.Join(d, ".env"))
	}
	var loaded []string
	seen := map[string]bool{}
	for _, f := range candidates {
		abs, err := filepath.Abs(f)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return loaded, err
		}
		loaded = append(loaded, abs)
	}
	return loaded, nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is os.Getenv in
// production. Destination credentials go to the first destination of the
// matching type; a twitter destination is created when none is configured
// and all four credentials are present.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	env := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := env("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := env("TRIGGER_EMOJI"); v != "" {
		cfg.Trigger.Emoji = v
	}
	if v := env("ADMIN_IDS"); v != "" {
		cfg.Discord.Admins = splitIDs(v)
	}
	if v := env("SERVER_IDS"); v != "" {
		cfg.Discord.Servers = splitIDs(v)
	}
	if v := env("CHANNEL_IDS"); v != "" {
		cfg.Discord.AllowedChannels = splitIDs(v)
	}

	tw := TwitterConfig{
		APIKey:       env("TWITTER_API_KEY"),
		APISecret:    env("TWITTER_API_SECRET"),
		AccessToken:  env("TWITTER_ACCESS_TOKEN"),
		AccessSecret: env("TWITTER_ACCESS_SECRET"),
	}
	if tw != (TwitterConfig{}) {
		d := firstOfType(cfg, "twitter")
		if d == nil && tw.APIKey != "" && tw.APISecret != "" && tw.AccessToken != "" && tw.AccessSecret != "" {
			cfg.Destinations = append(cfg.Destinations, DestinationConfig{Name: "twitter", Type: "twitter"})
			d = &cfg.Destinations[len(cfg.Destinations)-1]
		}
		if d != nil {
			if d.Twitter == nil {
				d.Twitter = &TwitterConfig{}
			}
			overlay(&d.Twitter.APIKey, tw.APIKey)
			overlay(&d.Twitter.APISecret, tw.APISecret)
			overlay(&d.Twitter.AccessToken, tw.AccessToken)
			overlay(&d.Twitter.AccessSecret, tw.AccessSecret)
		}
	}

	if v := env("TELEGRAM_TOKEN"); v != "" {
		if d := firstOfType(cfg, "telegram"); d != nil {
			if d.Telegram == nil {
				d.Telegram = &TelegramConfig{}
			}
			d.Telegram.Token = v
		}
	}
	if v := env("TELEGRAM_CHAT_ID"); v != "" {
		if d := firstOfType(cfg, "telegram"); d != nil {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				if d.Telegram == nil {
					d.Telegram = &TelegramConfig{}
				}
				d.Telegram.ChatID = id
			}
		}
	}
	if v := env("MATTERMOST_TOKEN"); v != "" {
		if d := firstOfType(cfg, "mattermost"); d != nil {
			if d.Mattermost == nil {
				d.Mattermost = &MattermostConfig{}
			}
			d.Mattermost.Token = v
		}
	}
}

func firstOfType(cfg *Config, typ string) *DestinationConfig {
	for i := range cfg.Destinations {
		if strings.EqualFold(strings.TrimSpace(cfg.Destinations[i].Type), typ) {
			return &cfg.Destinations[i]
		}
	}
	return nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// splitIDs parses a comma or whitespace separated ID list.
func splitIDs(s string) IDList {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
	out := make(IDList, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
