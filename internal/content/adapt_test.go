package content

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestAdaptSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  SourceMessage
		want string
	}{
		{
			name: "text verbatim",
			msg:  SourceMessage{Text: "Hello world"},
			want: "Hello world",
		},
		{
			name: "text wins over card",
			msg: SourceMessage{
				Text:  "plain",
				Cards: []Card{{Title: "ignored"}},
			},
			want: "plain",
		},
		{
			name: "whitespace text is still verbatim",
			msg: SourceMessage{
				Text:  "  \n ",
				Cards: []Card{{Title: "News", URL: "https://e.x/a"}},
			},
			want: "  \n ",
		},
		{
			name: "full card",
			msg: SourceMessage{Cards: []Card{{
				Title:       "Release",
				Description: "Version 2 is out.",
				URL:         "https://e.x/r",
				Fields:      []CardField{{Name: "Size", Value: "12 MB"}, {Name: "OS", Value: "linux"}},
			}}},
			want: "Release:\nVersion 2 is out.\nSize: 12 MB\nOS: linux\nSource: https://e.x/r",
		},
		{
			name: "title ending in punctuation keeps it",
			msg:  SourceMessage{Cards: []Card{{Title: "Breaking!", Description: "x"}}},
			want: "Breaking!\nx",
		},
		{
			name: "only first card is used",
			msg:  SourceMessage{Cards: []Card{{Title: "one"}, {Title: "two"}}},
			want: "one:",
		},
		{
			name: "empty card uses author",
			msg:  SourceMessage{Cards: []Card{{AuthorName: "Bob", FooterText: "f"}}},
			want: "Content from Bob",
		},
		{
			name: "empty card uses footer",
			msg:  SourceMessage{Cards: []Card{{FooterText: "via feed"}}},
			want: "Note: via feed",
		},
		{
			name: "empty card",
			msg:  SourceMessage{Cards: []Card{{}}},
			want: FallbackText,
		},
		{
			name: "attachments only",
			msg:  SourceMessage{Attachments: []Attachment{{URL: "https://cdn/a.png", Filename: "a.png"}}},
			want: FallbackAttachmentsText,
		},
		{
			name: "nothing",
			msg:  SourceMessage{},
			want: FallbackText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Adapt(tt.msg, 4096)
			if err != nil {
				t.Fatalf("Adapt error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Adapt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAdaptNonPositiveLimit(t *testing.T) {
	t.Parallel()

	for _, max := range []int{0, -1} {
		if _, err := Adapt(SourceMessage{Text: "hi"}, max); !errors.Is(err, ErrEmptyContent) {
			t.Fatalf("Adapt(max=%d) err = %v, want ErrEmptyContent", max, err)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		max  int
		want string
	}{
		{
			name: "exact length passes through",
			text: strings.Repeat("a", 280),
			max:  280,
			want: strings.Repeat("a", 280),
		},
		{
			name: "simple truncation",
			text: strings.Repeat("a", 300),
			max:  280,
			want: strings.Repeat("a", 277) + "...",
		},
		{
			name: "counts runes not bytes",
			text: "héllo wörld",
			max:  8,
			want: "héllo...",
		},
		{
			name: "tiny limit has no ellipsis",
			text: "abcdef",
			max:  3,
			want: "abc",
		},
		{
			name: "keeps whole leading sentences",
			text: "T:\nFirst sentence. Second sentence. Third sentence.\nSource: https://e.x",
			max:  50,
			want: "T:\nFirst sentence....\nSource: https://e.x",
		},
		{
			name: "first sentence too long is cut",
			text: "T:\nabcdefghijklmnopqrstuvwxyz.\nSource: https://e.x",
			max:  40,
			want: "T:\nabcdefghijklmn...\nSource: https://e.x",
		},
		{
			name: "no room for body keeps title and source",
			text: "Title:\nSome body that will never fit here.\nSource: https://e.x",
			max:  30,
			want: "Title:\nSource: https://e.x",
		},
		{
			name: "title and source alone too long",
			text: "A rather long title here:\nbody\nSource: https://example.com/path",
			max:  20,
			want: "A rather long tit...",
		},
		{
			name: "last line without source prefix is plain text",
			text: "line one\nline two is longer",
			max:  12,
			want: "line one\n...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Truncate(tt.text, tt.max)
			if got != tt.want {
				t.Fatalf("Truncate = %q, want %q", got, tt.want)
			}
			if n := utf8.RuneCountInString(got); n > tt.max {
				t.Fatalf("len = %d, want <= %d", n, tt.max)
			}
		})
	}
}

func TestTruncatePreservesTitleAndSource(t *testing.T) {
	t.Parallel()

	card := Card{
		Title:       "Weekly digest",
		Description: "The build is green. Coverage went up! Did the release ship? Yes it did. More notes follow here.",
		URL:         "https://example.com/digest/42",
	}
	text := FormatCard(card)

	got := Truncate(text, 120)
	if utf8.RuneCountInString(got) > 120 {
		t.Fatalf("len = %d, want <= 120", utf8.RuneCountInString(got))
	}
	if !strings.HasPrefix(got, "Weekly digest:\n") {
		t.Fatalf("title lost: %q", got)
	}
	if !strings.HasSuffix(got, "\nSource: https://example.com/digest/42") {
		t.Fatalf("source lost: %q", got)
	}
	if !strings.Contains(got, "The build is green.") {
		t.Fatalf("first sentence lost: %q", got)
	}
	if !strings.Contains(got, "...") {
		t.Fatalf("missing ellipsis: %q", got)
	}
}

func TestTruncateLengthInvariant(t *testing.T) {
	t.Parallel()

	pieces := []string{
		"a", "word ", "é", "🙂", ". ", "! ", "? ", "\n", "Source: ", "https://e.x/p", "Title:", " ", "...",
	}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		var b strings.Builder
		n := rng.Intn(40)
		for j := 0; j < n; j++ {
			b.WriteString(pieces[rng.Intn(len(pieces))])
		}
		if rng.Intn(2) == 0 {
			b.WriteString("\nSource: https://example.com/x")
		}
		text := b.String()
		max := rng.Intn(120)

		got := Truncate(text, max)
		if l := utf8.RuneCountInString(got); l > max {
			t.Fatalf("Truncate(%q, %d) len = %d", text, max, l)
		}
		if utf8.RuneCountInString(text) <= max && got != text {
			t.Fatalf("Truncate(%q, %d) changed text that fits: %q", text, max, got)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("Truncate(%q, %d) produced invalid UTF-8", text, max)
		}
	}
}

func TestSplitSentencesRoundTrip(t *testing.T) {
	t.Parallel()

	in := "One. Two!  Three?\nFour... five.six"
	parts := splitSentences(in)
	if got := strings.Join(parts, ""); got != in {
		t.Fatalf("join = %q, want %q", got, in)
	}
	if len(parts) != 5 {
		t.Fatalf("parts = %q, want 5 parts", parts)
	}
}
