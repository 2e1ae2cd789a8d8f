package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/commentary/internal/comments"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type moderateRequestPayload struct {
	Hide *bool `json:"hide"`
}

// moderatedCommentPayload extends the public view with moderation state.
type moderatedCommentPayload struct {
	commentPayload
	IsActive    bool   `json:"is_active"`
	IsModerated bool   `json:"is_moderated"`
	ModeratedBy string `json:"moderated_by,omitempty"`
	ModeratedAt string `json:"moderated_at,omitempty"`
	SpamScore   int    `json:"spam_score"`
}

type reportPayload struct {
	ReportID    string `json:"report_id"`
	CommentID   string `json:"comment_id"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	IsResolved  bool   `json:"is_resolved"`
	ResolvedBy  string `json:"resolved_by,omitempty"`
	ResolvedAt  string `json:"resolved_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func (h *httpHandler) handleModerate(c *gin.Context) {
	moderatorID := c.GetString(moderatorIDContextKey)

	var request moderateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Hide == nil {
		invalidRequest(c)
		return
	}

	comment, err := h.comments.Moderate(c.Request.Context(), c.Param("id"), moderatorID, *request.Hide)
	if err != nil {
		h.writeError(c, "moderation.moderate", err)
		return
	}
	h.logger.Info("comment moderated",
		zap.String("comment_id", comment.CommentID),
		zap.String("moderator_id", moderatorID),
		zap.Bool("hidden", !comment.IsActive),
	)
	c.JSON(http.StatusOK, newModeratedCommentPayload(comment))
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	if err := h.comments.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, "moderation.delete", err)
		return
	}
	h.logger.Info("comment deleted",
		zap.String("comment_id", c.Param("id")),
		zap.String("moderator_id", c.GetString(moderatorIDContextKey)),
	)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSweep(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		h.writeError(c, "moderation.sweep", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"evaluated": report.Evaluated,
		"hidden":    report.Hidden,
		"failed":    report.Failed,
	})
}

func (h *httpHandler) handleReportList(c *gin.Context) {
	limit, okLimit := queryInt(c, "limit", 50)
	offset, okOffset := queryInt(c, "offset", 0)
	includeResolved, err := strconv.ParseBool(c.DefaultQuery("include_resolved", "false"))
	if err != nil || !okLimit || !okOffset || limit < 1 || limit > maxPageSize || offset < 0 {
		invalidRequest(c)
		return
	}

	reports, err := h.comments.ListReports(c.Request.Context(), comments.ReportQuery{
		IncludeResolved: includeResolved,
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		h.writeError(c, "moderation.list_reports", err)
		return
	}

	response := make([]reportPayload, 0, len(reports))
	for _, report := range reports {
		response = append(response, newReportPayload(report))
	}
	c.JSON(http.StatusOK, gin.H{"reports": response})
}

func (h *httpHandler) handleReportResolve(c *gin.Context) {
	report, err := h.comments.ResolveReport(c.Request.Context(), c.Param("id"), c.GetString(moderatorIDContextKey))
	if err != nil {
		h.writeError(c, "moderation.resolve_report", err)
		return
	}
	c.JSON(http.StatusOK, newReportPayload(report))
}

func newModeratedCommentPayload(comment comments.Comment) moderatedCommentPayload {
	payload := moderatedCommentPayload{
		commentPayload: newCommentPayload(comment),
		IsActive:       comment.IsActive,
		IsModerated:    comment.IsModerated,
		SpamScore:      comment.SpamScore,
	}
	if comment.ModeratedBy != nil {
		payload.ModeratedBy = *comment.ModeratedBy
	}
	if comment.ModeratedAt != nil {
		payload.ModeratedAt = formatTime(*comment.ModeratedAt)
	}
	return payload
}

func newReportPayload(report comments.Report) reportPayload {
	payload := reportPayload{
		ReportID:    report.ReportID,
		CommentID:   report.CommentID,
		Reason:      report.Reason,
		Description: report.Description,
		IsResolved:  report.IsResolved,
		CreatedAt:   formatTime(report.CreatedAt),
	}
	if report.ResolvedBy != nil {
		payload.ResolvedBy = *report.ResolvedBy
	}
	if report.ResolvedAt != nil {
		payload.ResolvedAt = formatTime(*report.ResolvedAt)
	}
	return payload
}
