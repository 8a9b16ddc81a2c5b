// Package content converts resolved source messages into plain text that fits a
// destination's length limit.
//
// Lengths are counted in runes, not bytes.
package content

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	FallbackText            = "Shared content"
	FallbackAttachmentsText = "Shared content (attachments not included)"

	sourcePrefix = "Source: "
	ellipsis     = "..."
)

// ErrEmptyContent is returned when no text is left to publish.
// With the built-in fallbacks this only happens for maxLength <= 0.
var ErrEmptyContent = errors.New("adapted content is empty")

// Adapt selects the base text for msg and truncates it to at most maxLength runes.
//
// Selection order:
//  1. non-blank Text, verbatim
//  2. the first card (see FormatCard)
//  3. FallbackAttachmentsText when only attachments exist
//  4. FallbackText
//
// Adapt is pure and deterministic.
func Adapt(msg SourceMessage, maxLength int) (string, error) {
	out := Truncate(BaseText(msg), maxLength)
	if out == "" {
		return "", ErrEmptyContent
	}
	return out, nil
}

// BaseText returns the untruncated text Adapt would publish for msg.
func BaseText(msg SourceMessage) string {
	switch {
	case msg.HasText():
		return msg.Text
	case len(msg.Cards) > 0:
		return FormatCard(msg.Cards[0])
	case len(msg.Attachments) > 0:
		return FallbackAttachmentsText
	default:
		return FallbackText
	}
}

// FormatCard renders a card as newline separated parts:
// title (with a trailing ':' unless it already ends in punctuation), description,
// one "name: value" line per field, and "Source: <url>".
//
// A card with none of those parts falls back to its author, then its footer,
// then FallbackText.
func FormatCard(c Card) string {
	parts := make([]string, 0, 3+len(c.Fields))

	if title := strings.TrimSpace(c.Title); title != "" {
		if !endsWithPunct(title) {
			title += ":"
		}
		parts = append(parts, title)
	}
	if desc := strings.TrimSpace(c.Description); desc != "" {
		parts = append(parts, desc)
	}
	for _, f := range c.Fields {
		name := strings.TrimSpace(f.Name)
		value := strings.TrimSpace(f.Value)
		if name == "" && value == "" {
			continue
		}
		parts = append(parts, name+": "+value)
	}
	if u := strings.TrimSpace(c.URL); u != "" {
		parts = append(parts, sourcePrefix+u)
	}

	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if a := strings.TrimSpace(c.AuthorName); a != "" {
		return "Content from " + a
	}
	if f := strings.TrimSpace(c.FooterText); f != "" {
		return "Note: " + f
	}
	return FallbackText
}

func endsWithPunct(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && unicode.IsPunct(r)
}
