package craft

import (
	"strings"
	"time"

	"github.com/skye-vasquez/Craft/internal/submissions"
)

const (
	timestampLayout = "Jan 2, 2006, 3:04 PM MST"
	shortIDLength   = 8
)

// Formatter renders submissions as markdown list entries.
type Formatter struct {
	Location *time.Location
}

// Format renders one submission. The output depends only on the submission
// fields and the formatter location.
func (f Formatter) Format(submission submissions.Submission) string {
	location := f.Location
	if location == nil {
		location = time.UTC
	}

	submitter := submission.SubmitterName
	if submission.SubmitterEmail != nil && strings.TrimSpace(*submission.SubmitterEmail) != "" {
		submitter += " (" + strings.TrimSpace(*submission.SubmitterEmail) + ")"
	}

	shortID := submission.ID
	if len(shortID) > shortIDLength {
		shortID = shortID[:shortIDLength]
	}

	var builder strings.Builder
	builder.WriteString("- ")
	builder.WriteString(submission.CreatedAt.In(location).Format(timestampLayout))
	builder.WriteString(" | ")
	builder.WriteString(submission.PeriodKey)
	builder.WriteString(" | ")
	builder.WriteString(submitter)
	builder.WriteString(" | ID: ")
	builder.WriteString(shortID)

	if submission.Notes != "" {
		builder.WriteString("\n  - Notes: ")
		builder.WriteString(submission.Notes)
	}
	if submission.FileURL != nil && strings.TrimSpace(*submission.FileURL) != "" {
		builder.WriteString("\n  - File: [View Evidence](")
		builder.WriteString(strings.TrimSpace(*submission.FileURL))
		builder.WriteString(")")
	}
	return builder.String()
}
