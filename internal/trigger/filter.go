// Package trigger decides whether an inbound stream event is an authorized
// publish command.
package trigger

import (
	"strings"

	"discopilot/internal/transport"
)

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonSignalMismatch    Reason = "signal_mismatch"
	ReasonNotAdmin          Reason = "not_admin"
	ReasonServerNotAllowed  Reason = "server_not_allowed"
	ReasonChannelNotAllowed Reason = "channel_not_allowed"
)

// Policy is read-only after NewPolicy returns.
type Policy struct {
	Signal   string
	admins   map[string]struct{}
	servers  map[string]struct{}
	channels map[string]struct{}
}

// NewPolicy builds a policy. Empty sets mean "no restriction"; blank IDs are ignored.
func NewPolicy(signal string, admins, servers, channels []string) Policy {
	return Policy{
		Signal:   signal,
		admins:   toSet(admins),
		servers:  toSet(servers),
		channels: toSet(channels),
	}
}

// Open reports whether any user may trigger a publish.
func (p Policy) Open() bool { return len(p.admins) == 0 }

func (p Policy) Admins() int   { return len(p.admins) }
func (p Policy) Servers() int  { return len(p.servers) }
func (p Policy) Channels() int { return len(p.channels) }

type Decision struct {
	Authorized bool
	Reason     Reason
}

// Evaluate applies the policy checks in order and stops at the first failure:
// signal, admin, server, channel.
func Evaluate(ev transport.Event, p Policy) Decision {
	if ev.Signal != p.Signal {
		return reject(ReasonSignalMismatch)
	}
	if len(p.admins) > 0 && !has(p.admins, ev.UserID) {
		return reject(ReasonNotAdmin)
	}
	// DMs carry no server and never pass a server allowlist.
	if len(p.servers) > 0 && (ev.GuildID == "" || !has(p.servers, ev.GuildID)) {
		return reject(ReasonServerNotAllowed)
	}
	if len(p.channels) > 0 && !has(p.channels, ev.ChannelID) {
		return reject(ReasonChannelNotAllowed)
	}
	return Decision{Authorized: true}
}

func reject(r Reason) Decision { return Decision{Reason: r} }

func has(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}
