// Package sms – message composition.
//
// The composer builds a bounded-length alert message from job state. Fields
// are assembled in fixed priority order; the task note is the only elastic
// field and is truncated (or dropped) to fit the segment budget. The
// composer never fails on long input; it always degrades to fit.

package sms

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ecowatch/go-binwatch-backend/internal/domain"
)

const (
	// SingleSegmentBudget is the character budget for one GSM segment.
	SingleSegmentBudget = 160
	// TwoSegmentBudget is the budget when two-segment delivery is allowed.
	TwoSegmentBudget = 306

	// minNoteChars is the smallest truncated note worth sending; below
	// this the note is omitted entirely rather than emitting a near-empty
	// truncation.
	minNoteChars = 10

	ellipsis = "..."
)

// StatusWord maps a fill level to the urgency word used in alerts.
func StatusWord(level int) string {
	switch {
	case level >= 90:
		return "CRITICAL"
	case level >= 70:
		return "WARNING"
	case level >= 50:
		return "MODERATE"
	default:
		return "NORMAL"
	}
}

// Composer renders NotificationJobs into SMS bodies.
type Composer struct {
	// TwoSegments permits messages up to TwoSegmentBudget characters.
	TwoSegments bool

	// Locale controls label title-casing; language.Und means English.
	Locale language.Tag

	// Now is a test seam; defaults to time.Now.
	Now func() time.Time
}

// Budget returns the configured character budget.
func (c Composer) Budget() int {
	if c.TwoSegments {
		return TwoSegmentBudget
	}
	return SingleSegmentBudget
}

func (c Composer) clock() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Composer) locale() language.Tag {
	if c.Locale == language.Und {
		return language.English
	}
	return c.Locale
}

// Compose builds the alert body for a job, optionally with resolved
// location context. Field priority order: task header, bin id, location
// label, fill level + status word, task note (elastic), assigned-by,
// timestamp, call to action. The result never exceeds Budget() characters.
func (c Composer) Compose(job domain.NotificationJob, pos *domain.ResolvedPosition) string {
	budget := c.Budget()
	titler := cases.Title(c.locale())

	lines := make([]string, 0, 5)
	lines = append(lines, fmt.Sprintf("COLLECTION TASK: %s %d%% %s",
		job.BinID, job.BinLevel, StatusWord(job.BinLevel)))

	if label := strings.TrimSpace(job.LocationLabel); label != "" {
		lines = append(lines, "Loc: "+titler.String(label))
	} else if pos != nil && pos.Status != domain.StatusOffline {
		lines = append(lines, fmt.Sprintf("Loc: %.4f,%.4f (%s)", pos.Latitude, pos.Longitude, pos.Status))
	}

	footer := make([]string, 0, 2)
	tail := c.clock().Format("01-02 15:04")
	if by := strings.TrimSpace(job.AssignedBy); by != "" {
		tail = "By " + by + " " + tail
	}
	footer = append(footer, tail, "Please collect ASAP.")

	base := strings.Join(append(append([]string{}, lines...), footer...), "\n")
	note := strings.TrimSpace(job.TaskNote)
	if note == "" {
		return clip(base, budget)
	}

	// The note sits between the header lines and the footer. Fit it into
	// whatever budget the fixed fields left over.
	remaining := budget - runeLen(base) - runeLen("\nNote: ")
	if remaining < minNoteChars {
		return clip(base, budget)
	}
	if runeLen(note) > remaining {
		note = clip(note, remaining-runeLen(ellipsis)) + ellipsis
	}

	withNote := append(append([]string{}, lines...), "Note: "+note)
	withNote = append(withNote, footer...)
	return clip(strings.Join(withNote, "\n"), budget)
}

// runeLen counts characters, not bytes; segment budgets are per character.
func runeLen(s string) int { return len([]rune(s)) }

// clip truncates s to max characters.
func clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
