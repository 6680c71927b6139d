package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skye-vasquez/Craft/internal/audit"
	"github.com/skye-vasquez/Craft/internal/evidence"
	"github.com/skye-vasquez/Craft/internal/ratelimit"
	"github.com/skye-vasquez/Craft/internal/submissions"
	"go.uber.org/zap"
)

type createSubmissionForm struct {
	ControlID      string `form:"control_id" binding:"required"`
	SubmissionDate string `form:"submission_date" binding:"required"`
	SubmitterName  string `form:"submitter_name" binding:"required"`
	SubmitterEmail string `form:"submitter_email" binding:"omitempty,email"`
	Notes          string `form:"notes"`
}

type updateSubmissionRequest struct {
	PeriodKey string `json:"period_key" binding:"required"`
}

func (h *httpHandler) handleListSubmissions(c *gin.Context) {
	claims, _ := sessionFromContext(c)

	filter := submissions.Filter{
		ControlID: c.Query("control_id"),
		PeriodKey: c.Query("period_key"),
	}
	if claims.IsStore() {
		filter.StoreID = claims.StoreID
	} else {
		filter.StoreID = c.Query("store_id")
	}
	if raw := c.Query("status"); raw != "" {
		status, err := submissions.ParseReviewStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return
		}
		filter.Status = status
	}
	if raw := c.Query("craft_sync_status"); raw != "" {
		syncStatus, err := submissions.ParseSyncStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_craft_sync_status"})
			return
		}
		filter.SyncStatus = syncStatus
	}

	list, err := h.submissions.List(c.Request.Context(), filter)
	if err != nil {
		h.respondServiceError(c, "failed to list submissions", err)
		return
	}
	payloads := make([]submissionPayload, 0, len(list))
	for _, submission := range list {
		payloads = append(payloads, newSubmissionPayload(submission))
	}
	c.JSON(http.StatusOK, gin.H{"submissions": payloads})
}

func (h *httpHandler) handleGetSubmission(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	ctx := c.Request.Context()
	submissionID := c.Param("id")

	var (
		submission submissions.Submission
		err        error
	)
	if claims.IsStore() {
		submission, err = h.submissions.GetForStore(ctx, submissionID, claims.StoreID)
	} else {
		submission, err = h.submissions.Get(ctx, submissionID)
	}
	if err != nil {
		h.respondServiceError(c, "failed to load submission", err, zap.String("submission_id", submissionID))
		return
	}

	response := gin.H{"submission": newSubmissionPayload(submission)}
	if claims.IsAdmin() {
		entries, err := h.audit.ListForSubmission(ctx, submission.ID)
		if err != nil {
			h.logger.Warn("failed to load audit entries", zap.String("submission_id", submission.ID), zap.Error(err))
			entries = nil
		}
		response["audit_logs"] = newAuditPayloads(entries)
	}
	c.JSON(http.StatusOK, response)
}

// handleCreateSubmission stores the evidence, records the submission and runs
// its first sync attempt. A failed sync does not fail the request.
func (h *httpHandler) handleCreateSubmission(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	ctx := c.Request.Context()

	if admitted, _ := h.consumeAttempt(c, claims.StoreID, ratelimit.Submission); !admitted {
		return
	}

	var form createSubmissionForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_file"})
		return
	}
	if fileHeader != nil && fileHeader.Size == 0 {
		fileHeader = nil
	}
	if fileHeader == nil && strings.TrimSpace(form.Notes) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_evidence"})
		return
	}
	if _, err := h.submissions.GetControl(ctx, form.ControlID); err != nil {
		h.respondServiceError(c, "failed to load control", err)
		return
	}
	if _, err := submissions.ParseSubmissionDate(form.SubmissionDate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_submission_date"})
		return
	}

	fileURL := ""
	if fileHeader != nil {
		fileURL, err = h.uploadEvidence(c, claims.StoreID, fileHeader)
		if err != nil {
			if errors.Is(err, evidence.ErrStorageUnavailable) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "evidence_storage_unavailable"})
				return
			}
			h.logger.Error("evidence upload failed", zap.String("store_id", claims.StoreID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
			return
		}
	}

	submission, err := h.submissions.Create(ctx, submissions.CreateRequest{
		StoreID:        claims.StoreID,
		ControlID:      form.ControlID,
		SubmissionDate: form.SubmissionDate,
		SubmitterName:  form.SubmitterName,
		SubmitterEmail: form.SubmitterEmail,
		Notes:          form.Notes,
		FileURL:        fileURL,
	})
	if err != nil {
		h.respondServiceError(c, "failed to create submission", err, zap.String("store_id", claims.StoreID))
		return
	}
	h.record(ctx, audit.ActorStoreUser, claims.StoreName+" - "+submission.SubmitterName, audit.ActionSubmissionCreated, map[string]any{
		"submission_id": submission.ID,
		"control_id":    submission.ControlID,
		"period_key":    submission.PeriodKey,
		"store_id":      submission.StoreID,
	})

	result := h.syncer.SyncSubmission(ctx, submission)
	h.publishSyncResult(submission, result)
	submission.CraftSyncStatus = result.State.Status
	submission.CraftSyncError = result.State.Error
	submission.CraftSyncedAt = result.State.SyncedAt

	c.JSON(http.StatusCreated, gin.H{"submission": newSubmissionPayload(submission)})
}

func (h *httpHandler) uploadEvidence(c *gin.Context, storeID string, fileHeader *multipart.FileHeader) (string, error) {
	if h.evidence == nil {
		return "", evidence.ErrStorageUnavailable
	}
	file, err := fileHeader.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()
	return h.evidence.Upload(c.Request.Context(), storeID, evidence.File{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        file,
	})
}

func (h *httpHandler) handleReviewSubmission(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	submissionID := c.Param("id")

	submission, err := h.submissions.MarkReviewed(c.Request.Context(), submissionID, claims.Email)
	if err != nil {
		h.respondServiceError(c, "failed to review submission", err, zap.String("submission_id", submissionID))
		return
	}
	h.record(c.Request.Context(), audit.ActorAdmin, claims.Email, audit.ActionSubmissionReviewed, map[string]any{
		"submission_id": submission.ID,
	})
	c.JSON(http.StatusOK, gin.H{"submission": newSubmissionPayload(submission)})
}

func (h *httpHandler) handleUpdatePeriodKey(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	ctx := c.Request.Context()
	submissionID := c.Param("id")

	var request updateSubmissionRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PeriodKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	before, err := h.submissions.Get(ctx, submissionID)
	if err != nil {
		h.respondServiceError(c, "failed to load submission", err, zap.String("submission_id", submissionID))
		return
	}
	if err := h.submissions.UpdatePeriodKey(ctx, submissionID, request.PeriodKey); err != nil {
		h.respondServiceError(c, "failed to update period key", err, zap.String("submission_id", submissionID))
		return
	}
	newKey := strings.TrimSpace(request.PeriodKey)
	h.record(ctx, audit.ActorAdmin, claims.Email, audit.ActionSubmissionPeriodUpdated, map[string]any{
		"submission_id":  submissionID,
		"old_period_key": before.PeriodKey,
		"new_period_key": newKey,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "period_key": newKey})
}

// handleRetrySync runs a manual sync attempt. Failures answer 500 with the
// stored failure reason.
func (h *httpHandler) handleRetrySync(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	ctx := c.Request.Context()
	submissionID := c.Param("id")

	result := h.syncer.RetrySync(ctx, submissionID)
	h.record(ctx, audit.ActorAdmin, claims.Email, audit.ActionCraftSyncRetry, map[string]any{
		"submission_id": submissionID,
		"success":       result.Success(),
		"error":         result.ErrorMessage(),
	})
	if errors.Is(result.Err, submissions.ErrSubmissionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": result.ErrorMessage()})
		return
	}
	if submission, err := h.submissions.Get(ctx, submissionID); err == nil {
		h.publishSyncResult(submission, result)
	}
	if !result.Success() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": result.ErrorMessage()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "simulated": result.Simulated})
}
