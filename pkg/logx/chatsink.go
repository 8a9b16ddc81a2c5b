package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Discord rejects messages over 2000 characters.
const chatMaxLen = 1900

// ---- Chat writer (zerolog sink) ----

type chatWriter struct{ svc *Service }

func (w *chatWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	if s == nil {
		return len(p), nil
	}

	s.mu.Lock()
	channelID := s.channelID
	lim := s.limiter
	min := s.minLevel
	s.mu.Unlock()

	if channelID == "" || lim == nil || s.currentSender() == nil {
		return len(p), nil
	}
	if level < min || !lim.Allow() {
		return len(p), nil
	}

	if msg := formatChatLine(p); msg != "" {
		s.enqueueChat(channelID, msg)
	}
	return len(p), nil
}

// formatChatLine renders a zerolog JSON line as a short Discord message:
// a bold level tag, the message, and the remaining fields in a code block.
func formatChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytesTrimSpace(p), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), chatMaxLen)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	if msg == "" {
		msg, _ = m["msg"].(string)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "msg":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("**")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("** ")
	}
	b.WriteString(msg)

	if len(keys) > 0 {
		b.WriteString("\n```\n")
		for _, k := range keys {
			v := fmt.Sprint(m[k])
			if k == "stack" {
				v = truncate(v, 800)
			} else {
				v = truncate(v, 300)
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(strings.ReplaceAll(v, "```", "'''"))
			b.WriteString("\n")
		}
		b.WriteString("```")
	}

	out := b.String()
	if len(out) > chatMaxLen && len(keys) > 0 {
		// Keep the code fence balanced when cutting.
		return truncate(out[:strings.Index(out, "\n```")], chatMaxLen)
	}
	return truncate(out, chatMaxLen)
}

func bytesTrimSpace(b []byte) []byte {
	i := 0
	j := len(b)
	for i < j && (b[i] == ' ' || b[i] == '\n' || b[i] == '\r' || b[i] == '\t') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\n' || b[j-1] == '\r' || b[j-1] == '\t') {
		j--
	}
	return b[i:j]
}

// truncate caps s at maxN bytes without splitting a rune.
func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:runeStart(s, maxN)]
	}
	return s[:runeStart(s, maxN-3)] + "..."
}

// runeStart moves i back to the first byte of the rune it falls in.
func runeStart(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// ValidLevel reports whether s names a known level (empty is allowed).
func ValidLevel(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		return true
	}
	return false
}
