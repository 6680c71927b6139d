package submissions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const submissionDateLayout = "2006-01-02"

// ErrInvalidSubmissionDate indicates a submission date that is not YYYY-MM-DD.
var ErrInvalidSubmissionDate = errors.New("submissions: invalid submission date")

// ParseSubmissionDate parses a YYYY-MM-DD calendar date.
func ParseSubmissionDate(raw string) (time.Time, error) {
	parsed, err := time.Parse(submissionDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidSubmissionDate, raw, err)
	}
	return parsed, nil
}

// PeriodKey labels the weekly or monthly cycle a date falls in.
// Weekly keys use the ISO week ("2025-W07"), monthly keys the calendar month ("2025-02").
func PeriodKey(date time.Time, periodType PeriodType) (string, error) {
	switch periodType {
	case PeriodTypeWeekly:
		year, week := date.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), nil
	case PeriodTypeMonthly:
		return fmt.Sprintf("%04d-%02d", date.Year(), int(date.Month())), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriodType, periodType)
	}
}
