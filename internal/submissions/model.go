package submissions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PeriodType enumerates the recurrence cadence of a control.
type PeriodType string

const (
	// PeriodTypeWeekly marks controls that are evidenced once per ISO week.
	PeriodTypeWeekly PeriodType = "weekly"
	// PeriodTypeMonthly marks controls that are evidenced once per calendar month.
	PeriodTypeMonthly PeriodType = "monthly"
)

// ReviewStatus tracks the administrator review of a submission.
type ReviewStatus string

const (
	ReviewStatusSubmitted ReviewStatus = "submitted"
	ReviewStatusReviewed  ReviewStatus = "reviewed"
)

// SyncStatus tracks the mirroring of a submission into its Craft document.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidPeriodType indicates a period type other than weekly or monthly.
	ErrInvalidPeriodType = errors.New("submissions: invalid period type")
	// ErrInvalidSyncStatus indicates an unknown craft sync status.
	ErrInvalidSyncStatus = errors.New("submissions: invalid sync status")
	// ErrInvalidReviewStatus indicates an unknown review status.
	ErrInvalidReviewStatus = errors.New("submissions: invalid review status")
	// ErrInvalidIdentifier indicates an empty or oversized identifier.
	ErrInvalidIdentifier = errors.New("submissions: invalid identifier")
)

// ParsePeriodType validates raw input and returns a PeriodType.
func ParsePeriodType(raw string) (PeriodType, error) {
	switch PeriodType(strings.ToLower(strings.TrimSpace(raw))) {
	case PeriodTypeWeekly:
		return PeriodTypeWeekly, nil
	case PeriodTypeMonthly:
		return PeriodTypeMonthly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriodType, raw)
	}
}

// ParseSyncStatus validates raw input and returns a SyncStatus.
func ParseSyncStatus(raw string) (SyncStatus, error) {
	switch SyncStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case SyncStatusPending:
		return SyncStatusPending, nil
	case SyncStatusSuccess:
		return SyncStatusSuccess, nil
	case SyncStatusFailed:
		return SyncStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSyncStatus, raw)
	}
}

// ParseReviewStatus validates raw input and returns a ReviewStatus.
func ParseReviewStatus(raw string) (ReviewStatus, error) {
	switch ReviewStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case ReviewStatusSubmitted:
		return ReviewStatusSubmitted, nil
	case ReviewStatusReviewed:
		return ReviewStatusReviewed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReviewStatus, raw)
	}
}

func normalizeIdentifier(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidIdentifier, maxIdentifierLength)
	}
	return trimmed, nil
}

// Control is a recurring compliance requirement stores submit evidence against.
type Control struct {
	ID           string     `gorm:"column:id;primaryKey;size:190;not null"`
	Name         string     `gorm:"column:name;size:320;not null"`
	PeriodType   PeriodType `gorm:"column:period_type;size:16;not null"`
	IsActive     bool       `gorm:"column:is_active;not null;default:true"`
	DisplayOrder int        `gorm:"column:display_order;not null;default:0;index"`
}

// TableName provides the explicit table binding for GORM.
func (Control) TableName() string {
	return "controls"
}

// Submission is one piece of evidence a store submitted for a control and period.
type Submission struct {
	ID              string       `gorm:"column:id;primaryKey;size:64;not null"`
	StoreID         string       `gorm:"column:store_id;size:64;not null;index:idx_submissions_store_created,priority:1"`
	ControlID       string       `gorm:"column:control_id;size:190;not null;index"`
	PeriodType      PeriodType   `gorm:"column:period_type;size:16;not null"`
	PeriodKey       string       `gorm:"column:period_key;size:32;not null;index"`
	SubmissionDate  string       `gorm:"column:submission_date;size:10;not null"`
	SubmitterName   string       `gorm:"column:submitter_name;size:320;not null"`
	SubmitterEmail  *string      `gorm:"column:submitter_email;size:320"`
	Notes           string       `gorm:"column:notes;type:text;not null;default:''"`
	FileURL         *string      `gorm:"column:file_url;size:2048"`
	Status          ReviewStatus `gorm:"column:status;size:16;not null;default:'submitted';index"`
	ReviewedBy      *string      `gorm:"column:reviewed_by;size:320"`
	ReviewedAt      *time.Time   `gorm:"column:reviewed_at"`
	CraftSyncStatus SyncStatus   `gorm:"column:craft_sync_status;size:16;not null;default:'pending';index"`
	CraftSyncError  *string      `gorm:"column:craft_sync_error;type:text"`
	CraftSyncedAt   *time.Time   `gorm:"column:craft_synced_at"`
	CreatedAt       time.Time    `gorm:"column:created_at;not null;index:idx_submissions_store_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Submission) TableName() string {
	return "submissions"
}

// SyncState returns the craft sync columns of the submission.
func (s Submission) SyncState() SyncState {
	return SyncState{
		Status:   s.CraftSyncStatus,
		Error:    s.CraftSyncError,
		SyncedAt: s.CraftSyncedAt,
	}
}

// DocumentConfig maps a store and period cadence to the Craft document that mirrors it.
type DocumentConfig struct {
	StoreID    string     `gorm:"column:store_id;primaryKey;size:64;not null"`
	PeriodType PeriodType `gorm:"column:period_type;primaryKey;size:16;not null"`
	CraftDocID string     `gorm:"column:craft_doc_id;size:190;not null"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentConfig) TableName() string {
	return "craft_document_configs"
}

// SyncState is the complete craft sync state of a submission. It is always
// written as a whole so the three columns never disagree.
type SyncState struct {
	Status   SyncStatus
	Error    *string
	SyncedAt *time.Time
}

// PendingSyncState is the state of a submission that has not finished a sync attempt.
func PendingSyncState() SyncState {
	return SyncState{Status: SyncStatusPending}
}

// SucceededSyncState records a successful sync at the given time.
func SucceededSyncState(at time.Time) SyncState {
	syncedAt := at.UTC()
	return SyncState{Status: SyncStatusSuccess, SyncedAt: &syncedAt}
}

// FailedSyncState records a failed sync with its reason.
func FailedSyncState(reason string) SyncState {
	message := strings.TrimSpace(reason)
	if message == "" {
		message = "sync failed"
	}
	return SyncState{Status: SyncStatusFailed, Error: &message}
}

// Valid reports whether the state satisfies the sync invariant:
// success carries only a timestamp, failed carries only an error, pending carries neither.
func (s SyncState) Valid() bool {
	switch s.Status {
	case SyncStatusPending:
		return s.Error == nil && s.SyncedAt == nil
	case SyncStatusSuccess:
		return s.SyncedAt != nil && s.Error == nil
	case SyncStatusFailed:
		return s.Error != nil && s.SyncedAt == nil
	default:
		return false
	}
}
