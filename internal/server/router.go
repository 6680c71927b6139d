package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/skye-vasquez/Craft/internal/audit"
	"github.com/skye-vasquez/Craft/internal/auth"
	"github.com/skye-vasquez/Craft/internal/craft"
	"github.com/skye-vasquez/Craft/internal/evidence"
	"github.com/skye-vasquez/Craft/internal/ratelimit"
	"github.com/skye-vasquez/Craft/internal/stores"
	"github.com/skye-vasquez/Craft/internal/submissions"
	"go.uber.org/zap"
)

const (
	sessionContextKey        = "portal_session"
	defaultHeartbeatInterval = 25 * time.Second
	maxMultipartMemory       = 10 << 20
)

var (
	errMissingStoreService      = errors.New("store service dependency required")
	errMissingSubmissionService = errors.New("submission service dependency required")
	errMissingSyncer            = errors.New("craft syncer dependency required")
	errMissingSessionIssuer     = errors.New("session issuer dependency required")
	errMissingSessionValidator  = errors.New("session validator dependency required")
	errMissingAdminAuth         = errors.New("admin authenticator dependency required")
	errMissingLimiter           = errors.New("rate limiter dependency required")
	errMissingAuditLog          = errors.New("audit log dependency required")
)

// Dependencies lists everything the HTTP surface needs. Evidence may be nil
// when no object storage is configured; file uploads then answer 503.
type Dependencies struct {
	Stores            *stores.Service
	Submissions       *submissions.Service
	Syncer            *craft.Syncer
	Audit             *audit.Logger
	SessionIssuer     *auth.TokenIssuer
	SessionValidator  *auth.SessionValidator
	Admins            *auth.AdminAuthenticator
	Limiter           ratelimit.Limiter
	Evidence          evidence.Uploader
	Events            *SyncEventDispatcher
	AllowedOrigins    []string
	SecureCookie      bool
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NewHTTPHandler builds the portal API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Stores == nil {
		return nil, errMissingStoreService
	}
	if deps.Submissions == nil {
		return nil, errMissingSubmissionService
	}
	if deps.Syncer == nil {
		return nil, errMissingSyncer
	}
	if deps.SessionIssuer == nil {
		return nil, errMissingSessionIssuer
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Admins == nil {
		return nil, errMissingAdminAuth
	}
	if deps.Limiter == nil {
		return nil, errMissingLimiter
	}
	if deps.Audit == nil {
		return nil, errMissingAuditLog
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	events := deps.Events
	if events == nil {
		events = NewSyncEventDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		stores:            deps.Stores,
		submissions:       deps.Submissions,
		syncer:            deps.Syncer,
		audit:             deps.Audit,
		issuer:            deps.SessionIssuer,
		sessions:          deps.SessionValidator,
		admins:            deps.Admins,
		limiter:           deps.Limiter,
		evidence:          deps.Evidence,
		events:            events,
		secureCookie:      deps.SecureCookie,
		heartbeatInterval: heartbeat,
		clock:             clock,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/api")
	api.POST("/auth/store-login", handler.handleStoreLogin)
	api.POST("/auth/admin-login", handler.handleAdminLogin)
	api.POST("/auth/logout", handler.handleLogout)
	api.GET("/me", handler.handleMe)
	api.GET("/stores", handler.handleListStores)
	api.GET("/controls", handler.handleListActiveControls)

	session := api.Group("/")
	session.Use(handler.authorizeRequest)
	session.GET("/submissions", handler.handleListSubmissions)
	session.GET("/submissions/:id", handler.handleGetSubmission)
	session.GET("/events", handler.handleEvents)

	store := api.Group("/")
	store.Use(handler.authorizeRequest, requireKind(auth.SessionKindStore))
	store.POST("/submissions", handler.handleCreateSubmission)

	admin := api.Group("/")
	admin.Use(handler.authorizeRequest, requireKind(auth.SessionKindAdmin))
	admin.PATCH("/submissions/:id/review", handler.handleReviewSubmission)
	admin.PATCH("/submissions/:id", handler.handleUpdatePeriodKey)
	admin.POST("/submissions/:id/retry-sync", handler.handleRetrySync)
	admin.POST("/admin/retry-failed", handler.handleRetryFailed)
	admin.GET("/admin/controls", handler.handleListAllControls)
	admin.PATCH("/admin/controls", handler.handleUpdateControl)
	admin.GET("/admin/craft-config", handler.handleListCraftConfig)
	admin.POST("/admin/craft-config", handler.handleUpsertCraftConfig)
	admin.POST("/admin/store-pin", handler.handleSetStorePIN)
	admin.GET("/admin/audit", handler.handleListAudit)

	return router, nil
}

type httpHandler struct {
	stores            *stores.Service
	submissions       *submissions.Service
	syncer            *craft.Syncer
	audit             *audit.Logger
	issuer            *auth.TokenIssuer
	sessions          *auth.SessionValidator
	admins            *auth.AdminAuthenticator
	limiter           ratelimit.Limiter
	evidence          evidence.Uploader
	events            *SyncEventDispatcher
	secureCookie      bool
	heartbeatInterval time.Duration
	clock             func() time.Time
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Accept", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	mode := "live"
	if h.syncer.Simulated() {
		mode = "simulated"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "craft_mode": mode})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(sessionContextKey, claims)
	c.Next()
}

func requireKind(kind auth.SessionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := sessionFromContext(c)
		if !ok || claims.Kind != kind {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": string(kind) + "_session_required"})
			return
		}
		c.Next()
	}
}

func sessionFromContext(c *gin.Context) (auth.SessionClaims, bool) {
	value, exists := c.Get(sessionContextKey)
	if !exists {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}

func actorOf(claims auth.SessionClaims) audit.ActorType {
	if claims.IsAdmin() {
		return audit.ActorAdmin
	}
	return audit.ActorStoreUser
}
