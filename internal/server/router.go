package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/parleralab/parlera/backend/internal/auth"
	"github.com/parleralab/parlera/backend/internal/authorization"
	"github.com/parleralab/parlera/backend/internal/examples"
	"github.com/parleralab/parlera/backend/internal/repositories"
	"github.com/parleralab/parlera/backend/internal/users"
)

const userContextKey = "parlera_user"

const tokenScheme = "Token "

var (
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingTokenStore     = errors.New("token store dependency required")
	errMissingResetTokens    = errors.New("reset token issuer dependency required")
	errMissingRepositories   = errors.New("repositories service dependency required")
	errMissingAuthorization  = errors.New("authorization engine dependency required")
	errMissingExampleStore   = errors.New("example store dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
	errAuthenticationMissing = errors.New("authentication credentials were not provided")
)

// Dependencies wires the services behind the HTTP surface.
type Dependencies struct {
	Users         *users.Service
	Tokens        *auth.TokenStore
	ResetTokens   *auth.ResetTokenIssuer
	Repositories  *repositories.Service
	Authorization *authorization.Engine
	Examples      *examples.Store
	PageSize      int
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router for the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenStore
	}
	if deps.ResetTokens == nil {
		return nil, errMissingResetTokens
	}
	if deps.Repositories == nil {
		return nil, errMissingRepositories
	}
	if deps.Authorization == nil {
		return nil, errMissingAuthorization
	}
	if deps.Examples == nil {
		return nil, errMissingExampleStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		users:         deps.Users,
		tokens:        deps.Tokens,
		resetTokens:   deps.ResetTokens,
		repositories:  deps.Repositories,
		authorization: deps.Authorization,
		examples:      deps.Examples,
		pageSize:      pageSize,
		logger:        logger,
	}

	router.Use(handler.resolveToken)

	router.POST("/register/", handler.handleRegister)
	router.POST("/login/", handler.handleLogin)
	router.POST("/forgot-password/", handler.handleForgotPassword)
	router.POST("/reset-password/", handler.handleResetPassword)

	router.GET("/repositories/", handler.handleListRepositories)
	router.GET("/categories/", handler.handleListCategories)
	router.GET("/repository/:uuid/", handler.handleGetRepository)
	router.GET("/repository/:uuid/languagesstatus/", handler.handleLanguagesStatus)
	router.GET("/examples/", handler.handleListExamples)
	router.GET("/example/:id/", handler.handleGetExample)
	router.GET("/translation/:id/", handler.handleGetTranslation)

	protected := router.Group("/")
	protected.Use(handler.requireUser)
	protected.POST("/change-password/", handler.handleChangePassword)
	protected.GET("/my-profile/", handler.handleMyProfile)
	protected.GET("/my-repositories/", handler.handleMyRepositories)
	protected.POST("/repository/new/", handler.handleNewRepository)
	protected.PUT("/repository/:uuid/", handler.handleUpdateRepository)
	protected.PATCH("/repository/:uuid/", handler.handleUpdateRepository)
	protected.DELETE("/repository/:uuid/", handler.handleDeleteRepository)
	protected.POST("/example/new/", handler.handleNewExample)
	protected.DELETE("/example/:id/", handler.handleDeleteExample)
	protected.POST("/translate-example/", handler.handleTranslateExample)
	protected.POST("/request-authorization/", handler.handleRequestAuthorization)
	protected.GET("/authorization-requests/", handler.handleAuthorizationRequests)
	protected.PUT("/review-authorization-request/:id/", handler.handleApproveRequest)
	protected.DELETE("/review-authorization-request/:id/", handler.handleRejectRequest)

	return router, nil
}

type httpHandler struct {
	users         *users.Service
	tokens        *auth.TokenStore
	resetTokens   *auth.ResetTokenIssuer
	repositories  *repositories.Service
	authorization *authorization.Engine
	examples      *examples.Store
	pageSize      int
	logger        *zap.Logger
}

// resolveToken attaches the account behind a presented "Token <key>" header.
// Requests without the header stay anonymous; a presented but invalid key is
// rejected outright.
func (h *httpHandler) resolveToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.Next()
		return
	}
	if !strings.HasPrefix(header, tokenScheme) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": errInvalidAuthorization.Error()})
		return
	}
	key := strings.TrimSpace(strings.TrimPrefix(header, tokenScheme))
	if key == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": errInvalidAuthorization.Error()})
		return
	}
	user, err := h.tokens.Resolve(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, users.ErrUserNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token."})
			return
		}
		h.renderError(c, err)
		c.Abort()
		return
	}
	c.Set(userContextKey, user)
	c.Next()
}

func (h *httpHandler) requireUser(c *gin.Context) {
	if h.currentUser(c) == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": errAuthenticationMissing.Error()})
		return
	}
	c.Next()
}

func (h *httpHandler) currentUser(c *gin.Context) *users.User {
	value, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, ok := value.(*users.User)
	if !ok {
		return nil
	}
	return user
}

func (h *httpHandler) currentUserID(c *gin.Context) uint {
	user := h.currentUser(c)
	if user == nil {
		return 0
	}
	return user.ID
}
