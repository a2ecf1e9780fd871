package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartchecklab/smartcheck/internal/auth"
	"github.com/smartchecklab/smartcheck/internal/autofill"
	"github.com/smartchecklab/smartcheck/internal/checklist"
	"github.com/smartchecklab/smartcheck/internal/suggest"
)

const (
	userIDContextKey   = "smartcheck_user_id"
	userNameContextKey = "smartcheck_user_name"
)

var (
	errMissingGoogleVerifier   = errors.New("google verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingChecklistService = errors.New("checklist service dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, claims auth.GoogleClaims) (string, int64, error)
	ValidateToken(token string) (auth.BackendIdentity, error)
}

// DocumentProcessor turns an uploaded document into a saved sheet.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, payload []byte, mimeType string, groupID int64, uploader checklist.UserID) (checklist.SheetID, error)
}

// VoiceCompleter finishes a capture session and saves its results.
type VoiceCompleter interface {
	Complete(ctx context.Context, sessionID string) (autofill.VoiceOutcome, error)
}

// SuggestionRunner derives checklist improvements from a completed review.
type SuggestionRunner interface {
	Run(ctx context.Context, input suggest.Input) []suggest.StepOutcome
}

// Dependencies wires the HTTP surface. Documents, Voice and Suggestions are
// optional; their routes answer 503 when the backing service is not
// configured.
type Dependencies struct {
	GoogleVerifier GoogleVerifier
	TokenManager   BackendTokenManager
	Checklist      *checklist.Service
	Documents      DocumentProcessor
	Voice          VoiceCompleter
	VoiceSessions  *autofill.SessionRegistry
	Suggestions    SuggestionRunner
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Checklist == nil {
		return nil, errMissingChecklistService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:      deps.GoogleVerifier,
		tokens:        deps.TokenManager,
		checklist:     deps.Checklist,
		documents:     deps.Documents,
		voice:         deps.Voice,
		voiceSessions: deps.VoiceSessions,
		suggestions:   deps.Suggestions,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/google", handler.handleGoogleAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/groups", handler.handleListGroups)
	protected.GET("/groups/:id/checklist", handler.handleGroupChecklist)
	protected.GET("/groups/:id/categories", handler.handleGroupCategories)
	protected.POST("/groups/:id/autofill/document", handler.handleDocumentAutofill)

	protected.GET("/sheets", handler.handleListSheets)
	protected.GET("/sheets/:id", handler.handleGetSheet)
	protected.GET("/sheets/:id/results", handler.handleGetResults)
	protected.POST("/sheets/:id/results", handler.handleSaveResults)
	protected.POST("/sheets/:id/review", handler.handleSaveReview)
	protected.GET("/tasks", handler.handleListTasks)

	protected.GET("/items/pending", handler.handleListPendingItems)
	protected.POST("/items/:id/approve", handler.handleApproveItem)
	protected.POST("/items/:id/reject", handler.handleRejectItem)

	protected.POST("/voice/sessions", handler.handleOpenVoiceSession)
	protected.POST("/voice/sessions/:id/frames", handler.handleAppendVoiceFrames)
	protected.POST("/voice/sessions/:id/complete", handler.handleCompleteVoiceSession)

	protected.GET("/users", handler.handleListUsers)
	protected.GET("/admin/groups", handler.handleAdminListGroups)
	protected.POST("/admin/memberships", handler.handleAddMembership)

	return router, nil
}

type httpHandler struct {
	verifier      GoogleVerifier
	tokens        BackendTokenManager
	checklist     *checklist.Service
	documents     DocumentProcessor
	voice         VoiceCompleter
	voiceSessions *autofill.SessionRegistry
	suggestions   SuggestionRunner
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.provisionIdentity(c.Request.Context(), claims); err != nil {
		h.logger.Error("identity provisioning failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provisioning_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

// provisionIdentity creates the account row on first login and enrolls it
// in every group as a self-reviewing reviewer.
func (h *httpHandler) provisionIdentity(ctx context.Context, claims auth.GoogleClaims) error {
	subject := strings.TrimSpace(claims.Email)
	if subject == "" {
		subject = strings.TrimSpace(claims.Subject)
	}
	userID, err := checklist.NewUserID(subject)
	if err != nil {
		return err
	}
	displayName := strings.TrimSpace(claims.Name)
	if displayName == "" {
		displayName = userID.String()
	}

	created, err := h.checklist.EnsureUser(ctx, userID, displayName)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	return h.checklist.ProvisionDefaultMemberships(ctx, userID)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, identity.Subject)
	c.Set(userNameContextKey, identity.Name)
	c.Next()
}

// requestUser returns the authenticated caller id, aborting with 401 when
// the context carries none.
func (h *httpHandler) requestUser(c *gin.Context) (checklist.UserID, bool) {
	raw := c.GetString(userIDContextKey)
	userID, err := checklist.NewUserID(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}
