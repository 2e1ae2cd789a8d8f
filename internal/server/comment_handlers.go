package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/comments"
	"github.com/gin-gonic/gin"
)

const maxPageSize = 100

type captchaResponsePayload struct {
	Token     string `json:"token"`
	Challenge string `json:"challenge"`
	ImageURL  string `json:"image_url"`
}

func (h *httpHandler) handleCaptchaGenerate(c *gin.Context) {
	challenge, err := h.captcha.Generate(c.Request.Context(), c.ClientIP())
	if err != nil {
		h.writeError(c, "captcha.generate", err)
		return
	}
	c.JSON(http.StatusCreated, captchaResponsePayload{
		Token:     challenge.Token,
		Challenge: challenge.Text,
		ImageURL:  "/captcha/" + challenge.Token + "/image",
	})
}

func (h *httpHandler) handleCaptchaImage(c *gin.Context) {
	image, err := h.captcha.RenderPNG(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.writeError(c, "captcha.render", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", image)
}

type attachmentRequestPayload struct {
	Kind         string `json:"kind"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
	StorageKey   string `json:"storage_key"`
}

type createCommentRequestPayload struct {
	AuthorName      string                     `json:"author_name"`
	Email           string                     `json:"email"`
	HomePage        string                     `json:"home_page"`
	Text            string                     `json:"text"`
	ParentID        string                     `json:"parent_id"`
	CaptchaToken    string                     `json:"captcha_token"`
	CaptchaSolution string                     `json:"captcha_solution"`
	Attachments     []attachmentRequestPayload `json:"attachments"`
}

type attachmentPayload struct {
	AttachmentID string `json:"attachment_id"`
	Kind         string `json:"kind"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
	StorageKey   string `json:"storage_key"`
}

// commentPayload is the public view of a comment: no email, address or agent.
type commentPayload struct {
	CommentID    string              `json:"comment_id"`
	RootID       string              `json:"root_id"`
	ParentID     string              `json:"parent_id,omitempty"`
	Depth        int                 `json:"depth"`
	AuthorName   string              `json:"author_name"`
	HomePage     string              `json:"home_page,omitempty"`
	Text         string              `json:"text"`
	LikesCount   int                 `json:"likes_count"`
	RepliesCount int                 `json:"replies_count"`
	CreatedAt    string              `json:"created_at"`
	Attachments  []attachmentPayload `json:"attachments"`
}

type threadPayload struct {
	commentPayload
	Replies []threadPayload `json:"replies"`
}

type listResponsePayload struct {
	Comments []commentPayload `json:"comments"`
	Total    int64            `json:"total"`
}

func (h *httpHandler) handleCommentCreate(c *gin.Context) {
	var request createCommentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		invalidRequest(c)
		return
	}

	attachments := make([]comments.AttachmentInput, 0, len(request.Attachments))
	for _, attachment := range request.Attachments {
		attachments = append(attachments, comments.AttachmentInput{
			Kind:         comments.AttachmentKind(attachment.Kind),
			OriginalName: attachment.OriginalName,
			ContentType:  attachment.ContentType,
			SizeBytes:    attachment.SizeBytes,
			StorageKey:   attachment.StorageKey,
		})
	}

	comment, err := h.comments.Create(c.Request.Context(), comments.CreateRequest{
		AuthorName:      request.AuthorName,
		Email:           request.Email,
		HomePage:        request.HomePage,
		Text:            request.Text,
		ParentID:        request.ParentID,
		CaptchaToken:    request.CaptchaToken,
		CaptchaSolution: request.CaptchaSolution,
		ClientIP:        c.ClientIP(),
		UserAgent:       c.Request.UserAgent(),
		Attachments:     attachments,
	})
	if err != nil {
		h.writeError(c, "comments.create", err)
		return
	}
	c.JSON(http.StatusCreated, newCommentPayload(comment))
}

type previewRequestPayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleCommentPreview(c *gin.Context) {
	var request previewRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		invalidRequest(c)
		return
	}
	preview, err := h.comments.Preview(c.Request.Context(), c.ClientIP(), request.Text)
	if err != nil {
		h.writeError(c, "comments.preview", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": preview.SanitizedText, "well_formed": preview.WellFormedInput})
}

func (h *httpHandler) handleCommentList(c *gin.Context) {
	limit, okLimit := queryInt(c, "limit", 25)
	offset, okOffset := queryInt(c, "offset", 0)
	minLikes, okLikes := queryInt(c, "min_likes", 0)
	createdAfter, okAfter := queryTime(c, "created_after")
	createdBefore, okBefore := queryTime(c, "created_before")
	hasReplies, okReplies := queryBool(c, "has_replies")
	if !okLimit || !okOffset || !okLikes || !okAfter || !okBefore || !okReplies ||
		limit < 1 || limit > maxPageSize || offset < 0 || minLikes < 0 {
		invalidRequest(c)
		return
	}

	page, err := h.comments.ListRoots(c.Request.Context(), comments.ListQuery{
		Ordering:      comments.Ordering(c.DefaultQuery("ordering", string(comments.OrderCreatedDesc))),
		Limit:         limit,
		Offset:        offset,
		Search:        c.Query("search"),
		Author:        c.Query("user_name"),
		CreatedAfter:  createdAfter,
		CreatedBefore: createdBefore,
		MinLikes:      minLikes,
		HasReplies:    hasReplies,
	})
	if err != nil {
		h.writeError(c, "comments.list", err)
		return
	}

	response := listResponsePayload{Comments: make([]commentPayload, 0, len(page.Comments)), Total: page.Total}
	for _, comment := range page.Comments {
		response.Comments = append(response.Comments, newCommentPayload(comment))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCommentThread(c *gin.Context) {
	node, err := h.threads.Thread(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "comments.thread", err)
		return
	}
	c.JSON(http.StatusOK, newThreadPayload(node))
}

func (h *httpHandler) handleCommentLike(c *gin.Context) {
	result, err := h.comments.ToggleLike(c.Request.Context(), c.Param("id"), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.writeError(c, "comments.like", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"comment_id":  result.Comment.CommentID,
		"liked":       result.Liked,
		"likes_count": result.Comment.LikesCount,
	})
}

type reportRequestPayload struct {
	Reason          string `json:"reason"`
	Description     string `json:"description"`
	ReporterContact string `json:"reporter_contact"`
}

func (h *httpHandler) handleCommentReport(c *gin.Context) {
	var request reportRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		invalidRequest(c)
		return
	}
	report, err := h.comments.Report(c.Request.Context(), comments.ReportRequest{
		CommentID:       c.Param("id"),
		Reason:          comments.ReportReason(request.Reason),
		Description:     request.Description,
		ReporterContact: request.ReporterContact,
		ReporterIP:      c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, "comments.report", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"report_id": report.ReportID})
}

func newCommentPayload(comment comments.Comment) commentPayload {
	payload := commentPayload{
		CommentID:    comment.CommentID,
		RootID:       comment.RootID,
		Depth:        comment.Depth,
		AuthorName:   comment.AuthorName,
		HomePage:     comment.HomePage,
		Text:         comment.SanitizedText,
		LikesCount:   comment.LikesCount,
		RepliesCount: comment.RepliesCount,
		CreatedAt:    formatTime(comment.CreatedAt),
		Attachments:  make([]attachmentPayload, 0, len(comment.Attachments)),
	}
	if comment.ParentID != nil {
		payload.ParentID = *comment.ParentID
	}
	for _, attachment := range comment.Attachments {
		payload.Attachments = append(payload.Attachments, attachmentPayload{
			AttachmentID: attachment.AttachmentID,
			Kind:         string(attachment.Kind),
			OriginalName: attachment.OriginalName,
			ContentType:  attachment.ContentType,
			SizeBytes:    attachment.SizeBytes,
			StorageKey:   attachment.StorageKey,
		})
	}
	return payload
}

func newThreadPayload(node *comments.ThreadNode) threadPayload {
	payload := threadPayload{
		commentPayload: newCommentPayload(node.Comment),
		Replies:        make([]threadPayload, 0, len(node.Replies)),
	}
	for _, reply := range node.Replies {
		payload.Replies = append(payload.Replies, newThreadPayload(reply))
	}
	return payload
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

// queryTime parses an RFC 3339 timestamp; an absent key is the zero time.
func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, true
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return value, true
}

func queryBool(c *gin.Context, key string) (*bool, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, true
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, false
	}
	return &value, true
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}
