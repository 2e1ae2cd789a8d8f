package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/commentary/internal/captcha"
	"github.com/MarcoPoloResearchLab/commentary/internal/comments"
	"github.com/MarcoPoloResearchLab/commentary/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps domain errors to status codes. Only unclassified failures
// and store outages are logged; everything else is the caller's mistake.
func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	var validationErr *comments.ValidationError
	var captchaErr *captcha.InvalidError
	var exceededErr *ratelimit.ExceededError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"field":  validationErr.Field,
			"reason": validationErr.Reason,
		})
	case errors.As(err, &captchaErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "captcha_invalid", "kind": string(captchaErr.Kind)})
	case errors.As(err, &exceededErr):
		c.Header("Retry-After", strconv.Itoa(exceededErr.RetryAfterSeconds()))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limited",
			"kind":        string(exceededErr.Kind),
			"retry_after": exceededErr.RetryAfterSeconds(),
		})
	case errors.Is(err, comments.ErrParentNotRepliable):
		c.JSON(http.StatusConflict, gin.H{"error": "parent_not_repliable"})
	case errors.Is(err, comments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, comments.ErrReportNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "report_not_found"})
	case errors.Is(err, comments.ErrStoreUnavailable),
		errors.Is(err, captcha.ErrStoreUnavailable),
		errors.Is(err, ratelimit.ErrUnavailable):
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func invalidRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}
