package config

import (
	"reflect"
	"sort"
	"strings"

	logx "discopilot/pkg/logx"
)

// LiveSections are applied on reload; every other changed section needs a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeChange returns the changed top-level sections (sorted) and log
// fields describing them. Secrets are reported only as "set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Discord, newCfg.Discord) {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token),
			logx.Int("discord.admins", len(newCfg.Discord.Admins)),
			logx.Int("discord.servers", len(newCfg.Discord.Servers)),
			logx.Int("discord.allowed_channels", len(newCfg.Discord.AllowedChannels)),
		)
	}
	if oldCfg.Trigger != newCfg.Trigger {
		changed = append(changed, "trigger")
		attrs = append(attrs, logx.String("trigger.emoji", newCfg.Trigger.Emoji))
	}
	if oldCfg.Publish != newCfg.Publish {
		changed = append(changed, "publish")
		attrs = append(attrs,
			logx.String("publish.timeout", newCfg.Publish.Timeout),
			logx.String("publish.call_timeout", newCfg.Publish.CallTimeout),
			logx.Int("publish.max_inflight", newCfg.Publish.MaxInflight),
			logx.String("publish.dedup_window", newCfg.Publish.DedupWindow),
		)
	}
	if names := diffDestinations(oldCfg.Destinations, newCfg.Destinations); len(names) > 0 {
		changed = append(changed, "destinations")
		attrs = append(attrs, logx.String("destinations.changed", strings.Join(names, ",")))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}
	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}
	if oldCfg.Diagnostics != newCfg.Diagnostics {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", newCfg.Diagnostics.Enabled),
			logx.String("diagnostics.schedule", newCfg.Diagnostics.Schedule),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters sections down to those that are not applied live.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}

// diffDestinations names destinations that were added, removed or edited.
func diffDestinations(oldL, newL []DestinationConfig) []string {
	index := func(l []DestinationConfig) map[string]DestinationConfig {
		m := make(map[string]DestinationConfig, len(l))
		for _, d := range l {
			m[strings.TrimSpace(d.Name)] = d
		}
		return m
	}
	om, nm := index(oldL), index(newL)
	set := map[string]struct{}{}
	for k := range om {
		set[k] = struct{}{}
	}
	for k := range nm {
		set[k] = struct{}{}
	}
	var out []string
	for name := range set {
		o, okO := om[name]
		n, okN := nm[name]
		if okO != okN || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
