package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skye-vasquez/Craft/internal/audit"
	"github.com/skye-vasquez/Craft/internal/submissions"
	"go.uber.org/zap"
)

const defaultAuditListLimit = 100

type updateControlRequest struct {
	ID           string `json:"id" binding:"required"`
	IsActive     *bool  `json:"is_active"`
	DisplayOrder *int   `json:"display_order"`
}

type craftConfigRequest struct {
	StoreID    string `json:"store_id" binding:"required"`
	PeriodType string `json:"period_type" binding:"required,oneof=weekly monthly"`
	CraftDocID string `json:"craft_doc_id" binding:"required"`
}

type storePINRequest struct {
	StoreID string `json:"store_id" binding:"required"`
	PIN     string `json:"pin" binding:"required,len=6,numeric"`
}

type retryFailedRequest struct {
	StoreID string `json:"store_id"`
}

type retryOutcomePayload struct {
	SubmissionID string `json:"submission_id"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// handleRetryFailed retries every failed sync, one at a time, so submissions
// that share a Craft section never race on creating it.
func (h *httpHandler) handleRetryFailed(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	ctx := c.Request.Context()

	var request retryFailedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	ids, err := h.submissions.ListFailedSyncIDs(ctx, request.StoreID)
	if err != nil {
		h.respondServiceError(c, "failed to list failed syncs", err)
		return
	}

	outcomes := make([]retryOutcomePayload, 0, len(ids))
	succeeded := 0
	for _, submissionID := range ids {
		if ctx.Err() != nil {
			break
		}
		result := h.syncer.RetrySync(ctx, submissionID)
		h.record(ctx, audit.ActorAdmin, claims.Email, audit.ActionCraftSyncRetry, map[string]any{
			"submission_id": submissionID,
			"success":       result.Success(),
			"error":         result.ErrorMessage(),
			"bulk":          true,
		})
		if submission, err := h.submissions.Get(ctx, submissionID); err == nil {
			h.publishSyncResult(submission, result)
		}
		if result.Success() {
			succeeded++
		}
		outcomes = append(outcomes, retryOutcomePayload{
			SubmissionID: submissionID,
			Success:      result.Success(),
			Error:        result.ErrorMessage(),
		})
	}
	h.logger.Info("bulk craft sync retry finished",
		zap.Int("attempted", len(outcomes)),
		zap.Int("succeeded", succeeded))

	c.JSON(http.StatusOK, gin.H{
		"results":   outcomes,
		"attempted": len(outcomes),
		"succeeded": succeeded,
		"failed":    len(outcomes) - succeeded,
	})
}

func (h *httpHandler) handleListAllControls(c *gin.Context) {
	controls, err := h.submissions.ListControls(c.Request.Context(), true)
	if err != nil {
		h.respondServiceError(c, "failed to list controls", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"controls": newControlPayloads(controls)})
}

func (h *httpHandler) handleUpdateControl(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	var request updateControlRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	updates, err := h.submissions.UpdateControl(c.Request.Context(), request.ID, submissions.ControlUpdate{
		IsActive:     request.IsActive,
		DisplayOrder: request.DisplayOrder,
	})
	if err != nil {
		h.respondServiceError(c, "failed to update control", err, zap.String("control_id", request.ID))
		return
	}
	h.record(c.Request.Context(), audit.ActorAdmin, claims.Email, audit.ActionControlUpdated, map[string]any{
		"control_id": request.ID,
		"updates":    updates,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListCraftConfig(c *gin.Context) {
	configs, err := h.submissions.ListDocumentConfigs(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "failed to list craft configuration", err)
		return
	}
	payloads := make([]documentConfigPayload, 0, len(configs))
	for _, config := range configs {
		payloads = append(payloads, documentConfigPayload{
			StoreID:    config.StoreID,
			PeriodType: string(config.PeriodType),
			CraftDocID: config.CraftDocID,
			UpdatedAt:  config.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"configs": payloads, "simulated": h.syncer.Simulated()})
}

func (h *httpHandler) handleUpsertCraftConfig(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	ctx := c.Request.Context()

	var request craftConfigRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	store, err := h.stores.Get(ctx, request.StoreID)
	if err != nil {
		h.respondServiceError(c, "failed to load store", err, zap.String("store_id", request.StoreID))
		return
	}
	docID := strings.TrimSpace(request.CraftDocID)
	previous, err := h.submissions.UpsertDocumentConfig(ctx, store.ID, submissions.PeriodType(request.PeriodType), docID)
	if err != nil {
		h.respondServiceError(c, "failed to update craft configuration", err, zap.String("store_id", store.ID))
		return
	}
	h.record(ctx, audit.ActorAdmin, claims.Email, audit.ActionCraftConfigUpdated, map[string]any{
		"store_id":    store.ID,
		"period_type": request.PeriodType,
		"old_doc_id":  previous,
		"new_doc_id":  docID,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "previous_doc_id": previous})
}

func (h *httpHandler) handleSetStorePIN(c *gin.Context) {
	claims, _ := sessionFromContext(c)
	var request storePINRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	store, err := h.stores.SetPIN(c.Request.Context(), request.StoreID, request.PIN)
	if err != nil {
		h.respondServiceError(c, "failed to update store pin", err, zap.String("store_id", request.StoreID))
		return
	}
	h.record(c.Request.Context(), audit.ActorAdmin, claims.Email, audit.ActionStorePINUpdated, map[string]any{
		"store_id":   store.ID,
		"store_name": store.Name,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListAudit(c *gin.Context) {
	entries, err := h.audit.ListRecent(c.Request.Context(), parseLimit(c.Query("limit"), defaultAuditListLimit))
	if err != nil {
		h.logger.Error("failed to list audit entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": newAuditPayloads(entries)})
}
