package discord

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"discopilot/internal/content"
	"discopilot/internal/transport"
)

// toEvent maps a gateway reaction to an inbound event. Reactions added by the
// bot itself are dropped.
func toEvent(r *discordgo.MessageReactionAdd, botID string, at time.Time) (transport.Event, bool) {
	if r == nil || r.MessageReaction == nil {
		return transport.Event{}, false
	}
	if botID != "" && r.UserID == botID {
		return transport.Event{}, false
	}
	return transport.Event{
		Kind:      transport.EventReactionAdd,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		GuildID:   r.GuildID,
		Signal:    r.Emoji.MessageFormat(),
		At:        at,
	}, true
}

func toSourceMessage(m *discordgo.Message) content.SourceMessage {
	if m == nil {
		return content.SourceMessage{}
	}
	out := content.SourceMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Text:      m.Content,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
	}
	for _, a := range m.Attachments {
		if a == nil || a.URL == "" {
			continue
		}
		out.Attachments = append(out.Attachments, content.Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		card := content.Card{Title: e.Title, Description: e.Description, URL: e.URL}
		if e.Author != nil {
			card.AuthorName = e.Author.Name
		}
		if e.Footer != nil {
			card.FooterText = e.Footer.Text
		}
		for _, f := range e.Fields {
			if f == nil {
				continue
			}
			card.Fields = append(card.Fields, content.CardField{Name: f.Name, Value: f.Value})
		}
		out.Cards = append(out.Cards, card)
	}
	return out
}

// reactionAPIName converts the message format of an emoji (<:name:id>,
// <a:name:id> or a unicode emoji) into the form the reactions endpoint takes.
func reactionAPIName(emoji string) string {
	e := strings.TrimSpace(emoji)
	if strings.HasPrefix(e, "<") && strings.HasSuffix(e, ">") {
		e = strings.TrimSuffix(strings.TrimPrefix(e, "<"), ">")
		e = strings.TrimPrefix(e, "a:")
		return strings.TrimPrefix(e, ":")
	}
	return e
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
				return fmt.Errorf("%w: %v", transport.ErrMessageNotFound, err)
			}
		}
		if rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", transport.ErrMessageNotFound, err)
		}
	}
	return err
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that don't leave tiny chunks.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
