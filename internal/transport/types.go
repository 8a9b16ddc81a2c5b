package transport

import (
	"context"
	"errors"
	"time"

	"discopilot/internal/content"
)

// ErrMessageNotFound is returned by ResolveMessage when the source message
// no longer exists or is not visible to the bot.
var ErrMessageNotFound = errors.New("message not found")

type EventKind string

const (
	EventReactionAdd EventKind = "reaction_add"
)

// Event is a single inbound signal from the source stream.
//
// GuildID is empty for events outside a server (DMs).
// Signal is the literal reaction value (unicode emoji, or <:name:id> for custom emoji).
type Event struct {
	Kind      EventKind
	UserID    string
	MessageID string
	ChannelID string
	GuildID   string
	Signal    string
	At        time.Time
}

// Ref returns a reference to the message the event points at.
func (e Event) Ref() MessageRef {
	return MessageRef{GuildID: e.GuildID, ChannelID: e.ChannelID, MessageID: e.MessageID}
}

type MessageRef struct {
	GuildID   string
	ChannelID string
	MessageID string
}

// Session is the inbound stream connection.
//
// Start must not block: it connects and then forwards events to out until ctx is
// canceled or Stop is called. Events are dropped (and counted) if out is full.
type Session interface {
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error

	ResolveMessage(ctx context.Context, channelID, messageID string) (content.SourceMessage, error)
	SendReply(ctx context.Context, to MessageRef, text string) error
	AddReaction(ctx context.Context, to MessageRef, emoji string) error
	SendText(ctx context.Context, channelID, text string) error
}
