package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/auth"
	"github.com/MarcoPoloResearchLab/commentary/internal/captcha"
	"github.com/MarcoPoloResearchLab/commentary/internal/comments"
	"github.com/MarcoPoloResearchLab/commentary/internal/moderation"
	"github.com/MarcoPoloResearchLab/commentary/internal/moderators"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const moderatorIDContextKey = "commentary_moderator_id"

var (
	errMissingComments       = errors.New("comments service dependency required")
	errMissingCaptcha        = errors.New("captcha service dependency required")
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingModerators     = errors.New("moderator authorizer dependency required")
	errMissingSweeper        = errors.New("sweeper dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type ModeratorAuthorizer interface {
	Authorize(ctx context.Context, subject string) (moderators.Moderator, error)
}

type ThreadReader interface {
	Thread(ctx context.Context, anyID string) (*comments.ThreadNode, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (moderation.SweepReport, error)
}

// Dependencies wires the HTTP surface. Threads defaults to Comments; pass the
// thread cache to serve reads from it.
type Dependencies struct {
	Comments       *comments.Service
	Threads        ThreadReader
	Captcha        *captcha.Service
	Tokens         TokenValidator
	Moderators     ModeratorAuthorizer
	Sweeper        Sweeper
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Comments == nil {
		return nil, errMissingComments
	}
	if deps.Captcha == nil {
		return nil, errMissingCaptcha
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Moderators == nil {
		return nil, errMissingModerators
	}
	if deps.Sweeper == nil {
		return nil, errMissingSweeper
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	threads := deps.Threads
	if threads == nil {
		threads = deps.Comments
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		comments:   deps.Comments,
		threads:    threads,
		captcha:    deps.Captcha,
		tokens:     deps.Tokens,
		moderators: deps.Moderators,
		sweeper:    deps.Sweeper,
		logger:     logger,
	}

	router.POST("/captcha", handler.handleCaptchaGenerate)
	router.GET("/captcha/:token/image", handler.handleCaptchaImage)

	router.POST("/comments", handler.handleCommentCreate)
	router.POST("/comments/preview", handler.handleCommentPreview)
	router.GET("/comments", handler.handleCommentList)
	router.GET("/comments/:id/thread", handler.handleCommentThread)
	router.POST("/comments/:id/like", handler.handleCommentLike)
	router.POST("/comments/:id/report", handler.handleCommentReport)

	protected := router.Group("/moderation")
	protected.Use(handler.authorizeModerator)
	protected.POST("/comments/:id", handler.handleModerate)
	protected.DELETE("/comments/:id", handler.handleDelete)
	protected.POST("/sweep", handler.handleSweep)
	protected.GET("/reports", handler.handleReportList)
	protected.POST("/reports/:id/resolve", handler.handleReportResolve)

	return router, nil
}

type httpHandler struct {
	comments   *comments.Service
	threads    ThreadReader
	captcha    *captcha.Service
	tokens     TokenValidator
	moderators ModeratorAuthorizer
	sweeper    Sweeper
	logger     *zap.Logger
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func (h *httpHandler) authorizeModerator(c *gin.Context) {
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
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	moderator, err := h.moderators.Authorize(c.Request.Context(), subject)
	if err != nil {
		if errors.Is(err, moderators.ErrUnknownModerator) || errors.Is(err, moderators.ErrInvalidModerator) {
			h.logger.Warn("moderator authorization denied", zap.String("subject", subject))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		h.logger.Error("moderator lookup failed", zap.String("subject", subject), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	c.Set(moderatorIDContextKey, moderator.ModeratorID)
	c.Next()
}
