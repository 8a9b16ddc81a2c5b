package trigger

import (
	"testing"

	"discopilot/internal/transport"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	const signal = "📢"
	strict := NewPolicy(signal, []string{"admin1"}, []string{"g1"}, []string{"c1"})

	ev := func(mut func(*transport.Event)) transport.Event {
		e := transport.Event{
			Kind:      transport.EventReactionAdd,
			UserID:    "admin1",
			MessageID: "m1",
			ChannelID: "c1",
			GuildID:   "g1",
			Signal:    signal,
		}
		if mut != nil {
			mut(&e)
		}
		return e
	}

	tests := []struct {
		name   string
		ev     transport.Event
		policy Policy
		want   Decision
	}{
		{
			name:   "all checks pass",
			ev:     ev(nil),
			policy: strict,
			want:   Decision{Authorized: true},
		},
		{
			name:   "other emoji",
			ev:     ev(func(e *transport.Event) { e.Signal = "👍" }),
			policy: strict,
			want:   Decision{Reason: ReasonSignalMismatch},
		},
		{
			name:   "signal checked before admin",
			ev:     ev(func(e *transport.Event) { e.Signal = "👍"; e.UserID = "stranger" }),
			policy: strict,
			want:   Decision{Reason: ReasonSignalMismatch},
		},
		{
			name:   "not an admin",
			ev:     ev(func(e *transport.Event) { e.UserID = "stranger" }),
			policy: strict,
			want:   Decision{Reason: ReasonNotAdmin},
		},
		{
			name:   "server not allowed",
			ev:     ev(func(e *transport.Event) { e.GuildID = "g2" }),
			policy: strict,
			want:   Decision{Reason: ReasonServerNotAllowed},
		},
		{
			name:   "dm fails server allowlist",
			ev:     ev(func(e *transport.Event) { e.GuildID = "" }),
			policy: strict,
			want:   Decision{Reason: ReasonServerNotAllowed},
		},
		{
			name:   "channel not allowed",
			ev:     ev(func(e *transport.Event) { e.ChannelID = "c9" }),
			policy: strict,
			want:   Decision{Reason: ReasonChannelNotAllowed},
		},
		{
			name:   "open policy authorizes anyone anywhere",
			ev:     ev(func(e *transport.Event) { e.UserID = "stranger"; e.GuildID = ""; e.ChannelID = "c9" }),
			policy: NewPolicy(signal, nil, nil, nil),
			want:   Decision{Authorized: true},
		},
		{
			name:   "blank ids do not restrict",
			ev:     ev(func(e *transport.Event) { e.UserID = "stranger" }),
			policy: NewPolicy(signal, []string{" ", ""}, nil, nil),
			want:   Decision{Authorized: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Evaluate(tt.ev, tt.policy); got != tt.want {
				t.Fatalf("Evaluate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPolicyOpen(t *testing.T) {
	t.Parallel()

	if !NewPolicy("x", nil, []string{"g"}, nil).Open() {
		t.Fatal("policy without admins should be open")
	}
	if NewPolicy("x", []string{"a"}, nil, nil).Open() {
		t.Fatal("policy with admins should not be open")
	}
}
