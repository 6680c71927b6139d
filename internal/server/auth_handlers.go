package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skye-vasquez/Craft/internal/audit"
	"github.com/skye-vasquez/Craft/internal/auth"
	"github.com/skye-vasquez/Craft/internal/ratelimit"
	"github.com/skye-vasquez/Craft/internal/stores"
	"go.uber.org/zap"
)

type storeLoginRequest struct {
	StoreName string `json:"store_name" binding:"required"`
	PIN       string `json:"pin" binding:"required,len=6,numeric"`
}

type adminLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type sessionUserPayload struct {
	Type      string `json:"type"`
	StoreID   string `json:"store_id,omitempty"`
	StoreName string `json:"store_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// consumeAttempt applies a rate limit policy. When the attempt is not admitted
// it writes the response, and limited reports whether the policy rejected it.
func (h *httpHandler) consumeAttempt(c *gin.Context, subject string, policy ratelimit.Policy) (admitted bool, limited bool) {
	decision, err := h.limiter.CheckAndConsume(c.Request.Context(), subject, policy)
	if err != nil {
		h.logger.Error("rate limit check failed", zap.String("policy", policy.Name), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate_limit_unavailable"})
		return false, false
	}
	if !decision.Allowed {
		retryAfter := decision.RetryAfter(h.clock())
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return false, true
	}
	return true, false
}

func (h *httpHandler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, int(h.issuer.TTL().Seconds()), "/", "", h.secureCookie, true)
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.secureCookie, true)
}

func (h *httpHandler) record(ctx context.Context, actor audit.ActorType, label, action string, metadata map[string]any) {
	h.audit.Record(ctx, actor, label, action, metadata)
}

func (h *httpHandler) handleStoreLogin(c *gin.Context) {
	var request storeLoginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	storeName := strings.TrimSpace(request.StoreName)
	ctx := c.Request.Context()

	if admitted, limited := h.consumeAttempt(c, storeName, ratelimit.StoreLogin); !admitted {
		if limited {
			h.record(ctx, audit.ActorStoreUser, storeName, audit.ActionStoreLoginRateLimited, nil)
		}
		return
	}

	store, err := h.stores.Authenticate(ctx, storeName, request.PIN)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrCredentialsNotConfigured):
		h.record(ctx, audit.ActorStoreUser, storeName, audit.ActionStoreLoginFailed, map[string]any{"reason": "not_configured"})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "store_auth_not_configured"})
		return
	case errors.Is(err, stores.ErrInvalidCredentials):
		h.record(ctx, audit.ActorStoreUser, storeName, audit.ActionStoreLoginFailed, map[string]any{"reason": "invalid_credentials"})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	default:
		h.logger.Error("store authentication failed", zap.String("store_name", storeName), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	token, _, err := h.issuer.IssueStoreSession(store.ID, store.Name)
	if err != nil {
		h.logger.Error("failed to issue store session", zap.String("store_id", store.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.setSessionCookie(c, token)
	h.record(ctx, audit.ActorStoreUser, store.Name, audit.ActionStoreLoginSuccess, map[string]any{"store_id": store.ID})
	c.JSON(http.StatusOK, gin.H{"store": newStorePayload(store)})
}

func (h *httpHandler) handleAdminLogin(c *gin.Context) {
	var request adminLoginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(request.Email))
	ctx := c.Request.Context()

	if admitted, limited := h.consumeAttempt(c, email, ratelimit.AdminLogin); !admitted {
		if limited {
			h.record(ctx, audit.ActorAdmin, email, audit.ActionAdminLoginRateLimited, nil)
		}
		return
	}

	normalized, err := h.admins.Authenticate(email, request.Password)
	if err != nil {
		reason := "invalid_password"
		if errors.Is(err, auth.ErrAdminNotAllowed) {
			reason = "email_not_allowed"
		}
		h.record(ctx, audit.ActorAdmin, email, audit.ActionAdminLoginFailed, map[string]any{"reason": reason})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	token, _, err := h.issuer.IssueAdminSession(normalized)
	if err != nil {
		h.logger.Error("failed to issue admin session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.setSessionCookie(c, token)
	h.record(ctx, audit.ActorAdmin, normalized, audit.ActionAdminLoginSuccess, nil)
	c.JSON(http.StatusOK, gin.H{"admin": gin.H{"email": normalized}})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if claims, err := h.sessions.ValidateRequest(c.Request); err == nil {
		h.record(c.Request.Context(), actorOf(claims), claims.ActorLabel(), audit.ActionLogout,
			map[string]any{"session_type": string(claims.Kind)})
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": sessionUserPayload{
		Type:      string(claims.Kind),
		StoreID:   claims.StoreID,
		StoreName: claims.StoreName,
		Email:     claims.Email,
	}})
}

func (h *httpHandler) handleListStores(c *gin.Context) {
	list, err := h.stores.List(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "failed to list stores", err)
		return
	}
	payloads := make([]storePayload, 0, len(list))
	for _, store := range list {
		payloads = append(payloads, newStorePayload(store))
	}
	c.JSON(http.StatusOK, gin.H{"stores": payloads})
}

func (h *httpHandler) handleListActiveControls(c *gin.Context) {
	controls, err := h.submissions.ListControls(c.Request.Context(), false)
	if err != nil {
		h.respondServiceError(c, "failed to list controls", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"controls": newControlPayloads(controls)})
}
