package content

// SourceMessage is the resolved message to republish.
//
// Every field is optional. The adapter decides what to publish based on which
// fields are populated, in a fixed order (see Adapt).
type SourceMessage struct {
	ID        string
	ChannelID string
	GuildID   string
	AuthorID  string

	Text        string
	Attachments []Attachment
	Cards       []Card
}

// Attachment references a file attached to the source message.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int
}

// Card is a structured rich preview (Discord embed, link unfurl, ...).
type Card struct {
	Title       string
	Description string
	URL         string
	Fields      []CardField
	AuthorName  string
	FooterText  string
}

type CardField struct {
	Name  string
	Value string
}

// HasText reports whether the plain text body is non-empty. Whitespace counts.
func (m SourceMessage) HasText() bool { return m.Text != "" }
