package content

import (
	"strings"
	"unicode/utf8"
)

// minBodyRunes is the smallest body budget worth keeping in a structured
// truncation. Below it only the title and source line survive.
const minBodyRunes = 10

// Truncate shortens text to at most maxLength runes.
//
// Text shaped like a formatted card (two or more lines, last one "Source: <url>")
// keeps its first and last line intact and drops whole sentences from the body.
// Anything else is cut and suffixed with "...".
func Truncate(text string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if runeLen(text) <= maxLength {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) >= 2 && strings.HasPrefix(lines[len(lines)-1], sourcePrefix) {
		return truncateStructured(lines, maxLength)
	}
	return truncateSimple(text, maxLength)
}

func truncateStructured(lines []string, maxLength int) string {
	title := lines[0]
	source := lines[len(lines)-1]
	body := strings.Join(lines[1:len(lines)-1], "\n")

	available := maxLength - runeLen(title) - runeLen(source) - 2
	if available < minBodyRunes {
		out := title + "\n" + source
		if runeLen(out) > maxLength {
			return truncateSimple(out, maxLength)
		}
		return out
	}

	if body == "" {
		return title + "\n" + source
	}
	if runeLen(body) <= available {
		return title + "\n" + body + "\n" + source
	}
	return title + "\n" + shortenBody(body, available) + "\n" + source
}

// shortenBody keeps as many leading sentences as fit in budget-3 runes and
// appends "...". If not even the first sentence fits, the body is cut.
func shortenBody(body string, budget int) string {
	var b strings.Builder
	n := 0
	for _, s := range splitSentences(body) {
		l := runeLen(s)
		if n+l+len(ellipsis) > budget {
			break
		}
		b.WriteString(s)
		n += l
	}
	if n == 0 {
		return cutRunes(body, budget-len(ellipsis)) + ellipsis
	}
	return strings.TrimRight(b.String(), " \t\n") + ellipsis
}

// splitSentences splits s after every '.', '!' or '?' that is followed by
// whitespace. The whitespace stays attached to the preceding sentence, so
// joining the parts reproduces s exactly.
func splitSentences(s string) []string {
	var out []string
	rs := []rune(s)
	start := 0
	for i := 0; i < len(rs); i++ {
		switch rs[i] {
		case '.', '!', '?':
		default:
			continue
		}
		j := i + 1
		for j < len(rs) && isSpace(rs[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		out = append(out, string(rs[start:j]))
		start = j
		i = j - 1
	}
	if start < len(rs) {
		out = append(out, string(rs[start:]))
	}
	return out
}

func truncateSimple(text string, maxLength int) string {
	if maxLength <= len(ellipsis) {
		return cutRunes(text, maxLength)
	}
	return cutRunes(text, maxLength-len(ellipsis)) + ellipsis
}

func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
