package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines audit + dedup snapshot/journal
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one authorized trigger and what each destination did.
// It never carries message content.
type AuditEntry struct {
	At        time.Time          `json:"at"`
	RunID     string             `json:"run_id"`
	UserID    string             `json:"user_id"`
	GuildID   string             `json:"guild_id,omitempty"`
	ChannelID string             `json:"channel_id"`
	MessageID string             `json:"message_id"`
	OK        int                `json:"ok"`
	Limited   int                `json:"limited"`
	Fail      int                `json:"fail"`
	Results   []DestinationAudit `json:"results,omitempty"`
	Error     string             `json:"error,omitempty"`
	TookMS    int64              `json:"took_ms"`
}

type DestinationAudit struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Reference string `json:"ref,omitempty"`
	Error     string `json:"error,omitempty"`
	TookMS    int64  `json:"took_ms"`
}
