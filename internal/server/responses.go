package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skye-vasquez/Craft/internal/audit"
	"github.com/skye-vasquez/Craft/internal/stores"
	"github.com/skye-vasquez/Craft/internal/submissions"
	"go.uber.org/zap"
)

type storePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type controlPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PeriodType   string `json:"period_type"`
	IsActive     bool   `json:"is_active"`
	DisplayOrder int    `json:"display_order"`
}

type submissionPayload struct {
	ID              string  `json:"id"`
	StoreID         string  `json:"store_id"`
	ControlID       string  `json:"control_id"`
	PeriodType      string  `json:"period_type"`
	PeriodKey       string  `json:"period_key"`
	SubmissionDate  string  `json:"submission_date"`
	SubmitterName   string  `json:"submitter_name"`
	SubmitterEmail  *string `json:"submitter_email"`
	Notes           string  `json:"notes"`
	FileURL         *string `json:"file_url"`
	Status          string  `json:"status"`
	ReviewedBy      *string `json:"reviewed_by"`
	ReviewedAt      *string `json:"reviewed_at"`
	CraftSyncStatus string  `json:"craft_sync_status"`
	CraftSyncError  *string `json:"craft_sync_error"`
	CraftSyncedAt   *string `json:"craft_synced_at"`
	CreatedAt       string  `json:"created_at"`
}

type documentConfigPayload struct {
	StoreID    string `json:"store_id"`
	PeriodType string `json:"period_type"`
	CraftDocID string `json:"craft_doc_id"`
	UpdatedAt  string `json:"updated_at"`
}

type auditEntryPayload struct {
	ID           uint64         `json:"id"`
	ActorType    string         `json:"actor_type"`
	ActorLabel   string         `json:"actor_label"`
	Action       string         `json:"action"`
	SubmissionID *string        `json:"submission_id"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    string         `json:"created_at"`
}

func newStorePayload(store stores.Store) storePayload {
	return storePayload{ID: store.ID, Name: store.Name}
}

func newControlPayloads(controls []submissions.Control) []controlPayload {
	payloads := make([]controlPayload, 0, len(controls))
	for _, control := range controls {
		payloads = append(payloads, controlPayload{
			ID:           control.ID,
			Name:         control.Name,
			PeriodType:   string(control.PeriodType),
			IsActive:     control.IsActive,
			DisplayOrder: control.DisplayOrder,
		})
	}
	return payloads
}

func newSubmissionPayload(submission submissions.Submission) submissionPayload {
	return submissionPayload{
		ID:              submission.ID,
		StoreID:         submission.StoreID,
		ControlID:       submission.ControlID,
		PeriodType:      string(submission.PeriodType),
		PeriodKey:       submission.PeriodKey,
		SubmissionDate:  submission.SubmissionDate,
		SubmitterName:   submission.SubmitterName,
		SubmitterEmail:  submission.SubmitterEmail,
		Notes:           submission.Notes,
		FileURL:         submission.FileURL,
		Status:          string(submission.Status),
		ReviewedBy:      submission.ReviewedBy,
		ReviewedAt:      formatOptionalTime(submission.ReviewedAt),
		CraftSyncStatus: string(submission.CraftSyncStatus),
		CraftSyncError:  submission.CraftSyncError,
		CraftSyncedAt:   formatOptionalTime(submission.CraftSyncedAt),
		CreatedAt:       submission.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newAuditPayloads(entries []audit.Entry) []auditEntryPayload {
	payloads := make([]auditEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, auditEntryPayload{
			ID:           entry.ID,
			ActorType:    string(entry.ActorType),
			ActorLabel:   entry.ActorLabel,
			Action:       entry.Action,
			SubmissionID: entry.SubmissionID,
			Metadata:     entry.Metadata,
			CreatedAt:    entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return payloads
}

func formatOptionalTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(time.RFC3339)
	return &formatted
}

// serviceErrorStatus maps submission and store service failures to HTTP statuses.
func serviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, submissions.ErrSubmissionNotFound),
		errors.Is(err, stores.ErrStoreNotFound):
		return http.StatusNotFound
	case errors.Is(err, submissions.ErrAlreadyReviewed):
		return http.StatusConflict
	case errors.Is(err, submissions.ErrControlNotFound),
		errors.Is(err, submissions.ErrMissingEvidence),
		errors.Is(err, submissions.ErrMissingSubmitter),
		errors.Is(err, submissions.ErrEmptyPeriodKey),
		errors.Is(err, submissions.ErrNoControlUpdates),
		errors.Is(err, submissions.ErrEmptyDocumentID),
		errors.Is(err, submissions.ErrInvalidPeriodType),
		errors.Is(err, submissions.ErrInvalidIdentifier),
		errors.Is(err, submissions.ErrInvalidSubmissionDate),
		errors.Is(err, stores.ErrInvalidPIN),
		errors.Is(err, stores.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var serviceErr *submissions.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return err.Error()
}

// respondServiceError renders a service failure and logs the unexpected ones.
func (h *httpHandler) respondServiceError(c *gin.Context, message string, err error, fields ...zap.Field) {
	status := serviceErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message, append(fields, zap.Error(err))...)
		c.JSON(status, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, gin.H{"error": errorCode(err)})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
