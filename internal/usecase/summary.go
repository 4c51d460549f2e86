package usecase

import (
	"fmt"
	"math"
	"strings"
	"time"

	"consultscribe/internal/domain"
)

const (
	summaryDateTimeLayout = "1/2/2006, 3:04:05 PM"
	summaryTimeLayout     = "3:04:05 PM"
)

// GenerateSummary renders the end-of-consultation summary. Apart from the generation
// timestamp the text depends only on the consultation's times, notes and status.
func GenerateSummary(consultation domain.Consultation, generatedAt time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	notes := make([]string, 0, len(consultation.Notes))
	for _, note := range consultation.Notes {
		notes = append(notes, fmt.Sprintf("• %s (%s)", note.Content, note.Timestamp.In(loc).Format(summaryTimeLayout)))
	}

	var b strings.Builder
	b.WriteString("Consultation Summary\n")
	b.WriteString("-------------------\n")
	fmt.Fprintf(&b, "Started: %s\n", consultation.StartTime.In(loc).Format(summaryDateTimeLayout))
	fmt.Fprintf(&b, "Duration: %s\n", durationText(consultation))
	fmt.Fprintf(&b, "Status: %s\n", consultation.Status)
	b.WriteString("\nNotes:\n")
	b.WriteString(strings.Join(notes, "\n"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Generated: %s", generatedAt.In(loc).Format(summaryDateTimeLayout))

	return strings.TrimSpace(b.String())
}

func durationText(consultation domain.Consultation) string {
	seconds := 0
	if consultation.EndTime != nil {
		seconds = int(math.Round(consultation.EndTime.Sub(consultation.StartTime).Seconds()))
	}

	minutes := seconds / 60
	rest := seconds % 60
	if minutes > 0 {
		return fmt.Sprintf("%d minutes %d seconds", minutes, rest)
	}
	return fmt.Sprintf("%d seconds", rest)
}
