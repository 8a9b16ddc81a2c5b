package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"discopilot/internal/publisher"
)

const (
	reportHeader      = "**Publication Results:**"
	noDestinationsMsg = "No destinations configured; nothing was published."
	suppressedMsg     = "⏳ Already published recently; nothing was sent again."
)

// Entry is one destination line of a report.
type Entry struct {
	Destination string
	Status      publisher.Status
	Reference   string
	Error       string
	ResetIn     time.Duration
	Took        time.Duration
}

// Report is the consolidated outcome of one trigger. Entries are in
// destination registration order.
type Report struct {
	RunID          string
	Entries        []Entry
	NoDestinations bool
}

func newReport(runID string, results []publisher.Result) Report {
	r := Report{RunID: runID, Entries: make([]Entry, 0, len(results))}
	for _, res := range results {
		r.Entries = append(r.Entries, Entry{
			Destination: res.Destination,
			Status:      res.Status,
			Reference:   res.Reference,
			Error:       res.Err,
			ResetIn:     res.ResetIn,
			Took:        res.Took,
		})
	}
	return r
}

// Counts returns how many entries succeeded, were rate limited and failed.
func (r Report) Counts() (ok, limited, failed int) {
	for _, e := range r.Entries {
		switch e.Status {
		case publisher.StatusSuccess:
			ok++
		case publisher.StatusRateLimited:
			limited++
		default:
			failed++
		}
	}
	return ok, limited, failed
}

func (r Report) AnySuccess() bool {
	ok, _, _ := r.Counts()
	return ok > 0
}

// Text renders the reply sent back to the source channel.
func (r Report) Text() string {
	if r.NoDestinations {
		return noDestinationsMsg
	}
	var b strings.Builder
	b.WriteString(reportHeader)
	for _, e := range r.Entries {
		b.WriteString("\n")
		b.WriteString(e.line())
	}
	return b.String()
}

func (e Entry) line() string {
	switch e.Status {
	case publisher.StatusSuccess:
		if strings.HasPrefix(e.Reference, "http://") || strings.HasPrefix(e.Reference, "https://") {
			return fmt.Sprintf("✅ %s: [View](%s)", e.Destination, e.Reference)
		}
		if e.Reference != "" {
			return fmt.Sprintf("✅ %s: posted (%s)", e.Destination, e.Reference)
		}
		return fmt.Sprintf("✅ %s: posted", e.Destination)
	case publisher.StatusRateLimited:
		if e.ResetIn > 0 {
			return fmt.Sprintf("⏳ %s: Rate limit exceeded (resets in %s)", e.Destination, humanDuration(e.ResetIn))
		}
		return fmt.Sprintf("⏳ %s: Rate limit exceeded", e.Destination)
	default:
		msg := e.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return fmt.Sprintf("❌ %s: %s", e.Destination, msg)
	}
}

// humanDuration rounds to the largest sensible unit: "45s", "12m", "3h20m".
func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return d.Round(time.Second).String()
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Round(time.Minute)/time.Minute))
	default:
		d = d.Round(time.Minute)
		h := int(d / time.Hour)
		m := int((d % time.Hour) / time.Minute)
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	}
}
