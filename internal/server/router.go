package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/mslink/internal/accounts"
	"github.com/MarcoPoloResearchLab/mslink/internal/auth"
	"github.com/MarcoPoloResearchLab/mslink/internal/hooks"
	"github.com/MarcoPoloResearchLab/mslink/internal/login"
	"github.com/MarcoPoloResearchLab/mslink/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sessionClaimsContextKey = "mslink_session_claims"

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingSessions      = errors.New("session issuer dependency required")
	errMissingUserDirectory = errors.New("user directory dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Authenticator runs the login pipeline for one authorization code.
type Authenticator interface {
	Authenticate(ctx context.Context, code, redirectURI string) (login.Result, error)
	AuthorizationURL(ctx context.Context, state, redirectURI string) (string, error)
}

// SessionManager issues and validates session tokens.
type SessionManager interface {
	Issue(userID, username, loginType string) (string, int64, error)
	Validate(token string) (auth.SessionClaims, error)
}

// UserDirectory looks up resolved users for the session endpoint.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*users.User, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Authenticator Authenticator
	Sessions      SessionManager
	Users         UserDirectory
	CallbackHook  hooks.CallbackHook
	LoginEnabled  bool
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
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
		authenticator: deps.Authenticator,
		sessions:      deps.Sessions,
		users:         deps.Users,
		callbackHook:  deps.CallbackHook,
		loginEnabled:  deps.LoginEnabled,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/auth/url", handler.handleAuthorizationURL)
	router.POST("/auth/callback", handler.handleCallback)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleMe)

	return router, nil
}

type httpHandler struct {
	authenticator Authenticator
	sessions      SessionManager
	users         UserDirectory
	callbackHook  hooks.CallbackHook
	loginEnabled  bool
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleAuthorizationURL(c *gin.Context) {
	if !h.loginEnabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "login_disabled"})
		return
	}

	state := c.Query("state")
	redirectURI := c.Query("redirect_uri")
	if strings.TrimSpace(state) == "" || strings.TrimSpace(redirectURI) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	url, err := h.authenticator.AuthorizationURL(c.Request.Context(), state, redirectURI)
	if err != nil {
		h.logger.Error("failed to build authorization url", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorization_url": url})
}

type callbackRequestPayload struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

func (h *httpHandler) handleCallback(c *gin.Context) {
	if !h.loginEnabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "login_disabled"})
		return
	}

	var request callbackRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_code"})
		return
	}

	result, err := h.authenticator.Authenticate(c.Request.Context(), request.Code, request.RedirectURI)
	if err != nil {
		status, code := rejectionResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("authentication attempt failed", zap.Error(err))
		} else {
			h.logger.Warn("authentication attempt rejected", zap.String("reason", code), zap.Error(err))
		}
		c.JSON(status, gin.H{"error": code})
		return
	}

	token, expiresIn, err := h.sessions.Issue(result.User.ID, result.User.Username, result.LoginType)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	payload := map[string]any{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
		"login_type":   result.LoginType,
	}
	if h.callbackHook != nil {
		payload = h.callbackHook(c.Request.Context(), payload)
	}
	c.JSON(http.StatusOK, payload)
}

// rejectionResponse maps pipeline errors onto HTTP status and stable error
// codes. Rejections are 401s; provider outages are 502s; everything else is
// an internal error.
func rejectionResponse(err error) (int, string) {
	switch {
	case errors.Is(err, login.ErrInsufficientScope):
		return http.StatusUnauthorized, "insufficient_scope"
	case errors.Is(err, auth.ErrSignatureInvalid):
		return http.StatusUnauthorized, "invalid_id_token"
	case errors.Is(err, login.ErrMissingIDToken):
		return http.StatusUnauthorized, "invalid_id_token"
	case errors.Is(err, login.ErrXboxUnavailable):
		return http.StatusUnauthorized, "xbox_rejected"
	case errors.Is(err, accounts.ErrAccountConflict):
		return http.StatusUnauthorized, "account_conflict"
	case errors.Is(err, accounts.ErrAccountCreationDisabled):
		return http.StatusUnauthorized, "no_account"
	case errors.Is(err, auth.ErrTokenExchange):
		return http.StatusUnauthorized, "exchange_failed"
	case errors.Is(err, auth.ErrProviderUnreachable):
		return http.StatusBadGateway, "provider_unreachable"
	default:
		return http.StatusInternalServerError, "login_failed"
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.sessions.Validate(strings.TrimSpace(token))
	if err != nil {
		h.logger.Info("session token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(sessionClaimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) handleMe(c *gin.Context) {
	value, ok := c.Get(sessionClaimsContextKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	claims, ok := value.(auth.SessionClaims)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		h.logger.Error("user lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":     user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"given_name":  user.GivenName,
		"family_name": user.FamilyName,
		"login_type":  claims.LoginType,
	})
}
