package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/auth"
	"github.com/MarcoPoloResearchLab/commentary/internal/captcha"
	"github.com/MarcoPoloResearchLab/commentary/internal/comments"
	"github.com/MarcoPoloResearchLab/commentary/internal/database"
	"github.com/MarcoPoloResearchLab/commentary/internal/moderation"
	"github.com/MarcoPoloResearchLab/commentary/internal/moderators"
	"github.com/MarcoPoloResearchLab/commentary/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	testModeratorID = "mod-1"
	commentText     = "Thanks for writing this up, very helpful."
	spamText        = "VIAGRA CASINO LOTTERY WINNER HTTP://A HTTP://B HTTP://C"
)

type testServer struct {
	handler    http.Handler
	db         *gorm.DB
	tokens     *auth.TokenIssuer
	moderators *moderators.Service
}

func newTestServer(t *testing.T, policies ratelimit.Policies) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(database.DriverSQLite, dsn, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	captchaService, err := captcha.NewService(captcha.ServiceConfig{Database: db, Limiter: limiter})
	if err != nil {
		t.Fatalf("failed to build captcha service: %v", err)
	}
	commentService, err := comments.NewService(comments.ServiceConfig{
		Database: db,
		Captcha:  captchaService,
		Limiter:  limiter,
		Policies: policies,
	})
	if err != nil {
		t.Fatalf("failed to build comment service: %v", err)
	}
	policy, err := moderation.NewPolicy(moderation.PolicyConfig{Store: commentService})
	if err != nil {
		t.Fatalf("failed to build moderation policy: %v", err)
	}
	moderatorService, err := moderators.NewService(moderators.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build moderator service: %v", err)
	}
	if _, err := moderatorService.Register(context.Background(), testModeratorID, "Moderator One"); err != nil {
		t.Fatalf("failed to register moderator: %v", err)
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "commentary-auth",
		Audience:      "commentary-moderation",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Comments:   commentService,
		Captcha:    captchaService,
		Tokens:     tokenIssuer,
		Moderators: moderatorService,
		Sweeper:    policy,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testServer{handler: handler, db: db, tokens: tokenIssuer, moderators: moderatorService}
}

func (s *testServer) do(t *testing.T, method, path, clientIP string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", "server-test")
	if clientIP != "" {
		request.Header.Set("X-Forwarded-For", clientIP)
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) moderatorHeaders(t *testing.T, moderatorID string) map[string]string {
	t.Helper()
	token, _, err := s.tokens.IssueModeratorToken(context.Background(), moderatorID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *testServer) solveCaptcha(t *testing.T, clientIP string) (string, string) {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/captcha", clientIP, nil, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected captcha status: %d %s", recorder.Code, recorder.Body.String())
	}
	var response captchaResponsePayload
	decode(t, recorder, &response)
	if response.Challenge == "" || response.ImageURL != "/captcha/"+response.Token+"/image" {
		t.Fatalf("unexpected captcha payload: %+v", response)
	}
	var record captcha.Token
	if err := s.db.Where("token = ?", response.Token).Take(&record).Error; err != nil {
		t.Fatalf("failed to load captcha: %v", err)
	}
	return response.Token, record.Solution
}

func (s *testServer) submit(t *testing.T, clientIP, parentID, text string) *httptest.ResponseRecorder {
	t.Helper()
	token, solution := s.solveCaptcha(t, clientIP)
	return s.do(t, http.MethodPost, "/comments", clientIP, createCommentRequestPayload{
		AuthorName:      "Reader1",
		Email:           "reader@example.com",
		HomePage:        "https://reader.example.com",
		Text:            text,
		ParentID:        parentID,
		CaptchaToken:    token,
		CaptchaSolution: solution,
	}, nil)
}

func (s *testServer) createComment(t *testing.T, clientIP, parentID string) commentPayload {
	t.Helper()
	recorder := s.submit(t, clientIP, parentID, commentText)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected create status: %d %s", recorder.Code, recorder.Body.String())
	}
	var payload commentPayload
	decode(t, recorder, &payload)
	return payload
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	decode(t, recorder, &body)
	return body
}

func TestCreateCommentReturnsPublicPayload(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := server.submit(t, "198.51.100.1", "", commentText)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d %s", recorder.Code, recorder.Body.String())
	}
	raw := recorder.Body.String()
	for _, secret := range []string{"reader@example.com", "198.51.100.1", "server-test", "email", "ip_address", "user_agent"} {
		if strings.Contains(raw, secret) {
			t.Fatalf("public payload leaks %q: %s", secret, raw)
		}
	}

	var payload commentPayload
	decode(t, recorder, &payload)
	if payload.CommentID == "" || payload.RootID != payload.CommentID || payload.Depth != 0 {
		t.Fatalf("unexpected root payload: %+v", payload)
	}
	if payload.Text != commentText || payload.AuthorName != "Reader1" || payload.HomePage != "https://reader.example.com" {
		t.Fatalf("unexpected content: %+v", payload)
	}
}

func TestCreateCommentErrorMapping(t *testing.T) {
	server := newTestServer(t, nil)
	root := server.createComment(t, "198.51.100.2", "")
	level1 := server.createComment(t, "198.51.100.2", root.CommentID)
	level2 := server.createComment(t, "198.51.100.2", level1.CommentID)
	level3 := server.createComment(t, "198.51.100.2", level2.CommentID)
	if level3.Depth != comments.MaxDepth {
		t.Fatalf("expected depth %d, got %d", comments.MaxDepth, level3.Depth)
	}

	t.Run("validation", func(t *testing.T) {
		recorder := server.submit(t, "198.51.100.3", "", "short")
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
		body := errorCode(t, recorder)
		if body["error"] != "validation_failed" || body["field"] != "text" {
			t.Fatalf("unexpected body: %v", body)
		}
	})

	t.Run("wrong-captcha", func(t *testing.T) {
		token, _ := server.solveCaptcha(t, "198.51.100.4")
		recorder := server.do(t, http.MethodPost, "/comments", "198.51.100.4", createCommentRequestPayload{
			AuthorName:      "Reader1",
			Email:           "reader@example.com",
			Text:            commentText,
			CaptchaToken:    token,
			CaptchaSolution: "not-a-number",
		}, nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
		body := errorCode(t, recorder)
		if body["error"] != "captcha_invalid" || body["kind"] != string(captcha.ResultWrong) {
			t.Fatalf("unexpected body: %v", body)
		}
	})

	t.Run("missing-parent", func(t *testing.T) {
		recorder := server.submit(t, "198.51.100.5", "missing-parent", commentText)
		if recorder.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", recorder.Code)
		}
	})

	t.Run("too-deep", func(t *testing.T) {
		recorder := server.submit(t, "198.51.100.6", level3.CommentID, commentText)
		if recorder.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", recorder.Code)
		}
		if body := errorCode(t, recorder); body["error"] != "parent_not_repliable" {
			t.Fatalf("unexpected body: %v", body)
		}
	})

	t.Run("malformed-json", func(t *testing.T) {
		recorder := server.do(t, http.MethodPost, "/comments", "198.51.100.7", "{", nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
		if body := errorCode(t, recorder); body["error"] != "invalid_request" {
			t.Fatalf("unexpected body: %v", body)
		}
	})
}

func TestCreateCommentRateLimited(t *testing.T) {
	policies := ratelimit.DefaultPolicies()
	policies[ratelimit.KindComment] = ratelimit.Policy{Limit: 1, Window: time.Hour}
	server := newTestServer(t, policies)

	server.createComment(t, "198.51.100.8", "")
	recorder := server.submit(t, "198.51.100.8", "", commentText)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if body := errorCode(t, recorder); body["error"] != "rate_limited" || body["kind"] != string(ratelimit.KindComment) {
		t.Fatalf("unexpected body: %v", body)
	}

	// another client is unaffected.
	server.createComment(t, "198.51.100.9", "")
}

func TestThreadAndListing(t *testing.T) {
	server := newTestServer(t, nil)
	root := server.createComment(t, "198.51.100.10", "")
	reply := server.createComment(t, "198.51.100.11", root.CommentID)
	nested := server.createComment(t, "198.51.100.12", reply.CommentID)

	recorder := server.do(t, http.MethodGet, "/comments/"+nested.CommentID+"/thread", "", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected thread status: %d", recorder.Code)
	}
	var thread threadPayload
	decode(t, recorder, &thread)
	if thread.CommentID != root.CommentID || thread.RepliesCount != 1 {
		t.Fatalf("expected the root with one reply, got %+v", thread.commentPayload)
	}
	if len(thread.Replies) != 1 || len(thread.Replies[0].Replies) != 1 || thread.Replies[0].Replies[0].CommentID != nested.CommentID {
		t.Fatalf("unexpected thread shape: %+v", thread)
	}

	server.createComment(t, "198.51.100.13", "")
	recorder = server.do(t, http.MethodGet, "/comments?ordering=created_at&limit=1", "", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected list status: %d", recorder.Code)
	}
	var page listResponsePayload
	decode(t, recorder, &page)
	if page.Total != 2 || len(page.Comments) != 1 || page.Comments[0].CommentID != root.CommentID {
		t.Fatalf("unexpected page: %+v", page)
	}

	recorder = server.do(t, http.MethodGet, "/comments?has_replies=true&min_likes=0", "", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected filtered list status: %d", recorder.Code)
	}
	page = listResponsePayload{}
	decode(t, recorder, &page)
	if page.Total != 1 || len(page.Comments) != 1 || page.Comments[0].CommentID != root.CommentID {
		t.Fatalf("expected only the root with replies, got %+v", page)
	}

	for _, path := range []string{
		"/comments?limit=abc", "/comments?limit=0", "/comments?offset=-1", "/comments?limit=101",
		"/comments?has_replies=maybe", "/comments?created_after=yesterday", "/comments?min_likes=-1",
	} {
		if recorder := server.do(t, http.MethodGet, path, "", nil, nil); recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", path, recorder.Code)
		}
	}

	if recorder := server.do(t, http.MethodGet, "/comments/unknown/thread", "", nil, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown thread, got %d", recorder.Code)
	}
}

func TestLikeToggles(t *testing.T) {
	server := newTestServer(t, nil)
	root := server.createComment(t, "198.51.100.14", "")

	type likeResponse struct {
		Liked      bool `json:"liked"`
		LikesCount int  `json:"likes_count"`
	}
	expectations := []likeResponse{{Liked: true, LikesCount: 1}, {Liked: false, LikesCount: 0}}
	for index, expected := range expectations {
		recorder := server.do(t, http.MethodPost, "/comments/"+root.CommentID+"/like", "203.0.113.20", nil, nil)
		if recorder.Code != http.StatusOK {
			t.Fatalf("toggle %d: unexpected status %d", index, recorder.Code)
		}
		var response likeResponse
		decode(t, recorder, &response)
		if response != expected {
			t.Fatalf("toggle %d: expected %+v, got %+v", index, expected, response)
		}
	}

	if recorder := server.do(t, http.MethodPost, "/comments/unknown/like", "203.0.113.20", nil, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown comment, got %d", recorder.Code)
	}
}

func TestPreviewSanitizes(t *testing.T) {
	server := newTestServer(t, nil)

	recorder := server.do(t, http.MethodPost, "/comments/preview", "198.51.100.15", previewRequestPayload{Text: "<strong>bold</strong><script>alert(1)</script>"}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	var response struct {
		Text       string `json:"text"`
		WellFormed bool   `json:"well_formed"`
	}
	decode(t, recorder, &response)
	if strings.Contains(response.Text, "<script") || !strings.Contains(response.Text, "<strong>bold</strong>") {
		t.Fatalf("unexpected preview text: %q", response.Text)
	}
	if !response.WellFormed {
		t.Fatalf("expected balanced markup to be reported well formed")
	}
}

func TestCaptchaImage(t *testing.T) {
	server := newTestServer(t, nil)
	token, _ := server.solveCaptcha(t, "198.51.100.16")

	recorder := server.do(t, http.MethodGet, "/captcha/"+token+"/image", "", nil, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if recorder.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", recorder.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(recorder.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("expected a PNG body")
	}

	recorder = server.do(t, http.MethodGet, "/captcha/unknown/image", "", nil, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown token, got %d", recorder.Code)
	}
	if body := errorCode(t, recorder); body["kind"] != string(captcha.ResultNotFound) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestModerationRequiresAuthorizedModerator(t *testing.T) {
	server := newTestServer(t, nil)

	testCases := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{name: "missing-header", headers: nil, status: http.StatusUnauthorized},
		{name: "not-bearer", headers: map[string]string{"Authorization": "Basic abc"}, status: http.StatusUnauthorized},
		{name: "bad-token", headers: map[string]string{"Authorization": "Bearer garbage"}, status: http.StatusUnauthorized},
		{name: "unknown-moderator", headers: server.moderatorHeaders(t, "stranger"), status: http.StatusForbidden},
		{name: "registered", headers: server.moderatorHeaders(t, testModeratorID), status: http.StatusOK},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := server.do(t, http.MethodGet, "/moderation/reports", "", nil, testCase.headers)
			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d", testCase.status, recorder.Code)
			}
		})
	}

	if err := server.moderators.Deactivate(context.Background(), testModeratorID); err != nil {
		t.Fatalf("failed to deactivate moderator: %v", err)
	}
	recorder := server.do(t, http.MethodGet, "/moderation/reports", "", nil, server.moderatorHeaders(t, testModeratorID))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected deactivated moderator to be rejected, got %d", recorder.Code)
	}
}

func TestModerateHideRestoreAndDelete(t *testing.T) {
	server := newTestServer(t, nil)
	headers := server.moderatorHeaders(t, testModeratorID)
	root := server.createComment(t, "198.51.100.17", "")
	reply := server.createComment(t, "198.51.100.18", root.CommentID)

	if recorder := server.do(t, http.MethodPost, "/moderation/comments/"+reply.CommentID, "", `{}`, headers); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without hide flag, got %d", recorder.Code)
	}

	recorder := server.do(t, http.MethodPost, "/moderation/comments/"+reply.CommentID, "", `{"hide":true}`, headers)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected moderate status: %d %s", recorder.Code, recorder.Body.String())
	}
	var moderated moderatedCommentPayload
	decode(t, recorder, &moderated)
	if moderated.IsActive || !moderated.IsModerated || moderated.ModeratedBy != testModeratorID || moderated.ModeratedAt == "" {
		t.Fatalf("unexpected moderated payload: %+v", moderated)
	}

	var thread threadPayload
	decode(t, server.do(t, http.MethodGet, "/comments/"+root.CommentID+"/thread", "", nil, nil), &thread)
	if len(thread.Replies) != 0 || thread.RepliesCount != 0 {
		t.Fatalf("expected hidden reply to vanish from the thread, got %+v", thread)
	}

	recorder = server.do(t, http.MethodPost, "/moderation/comments/"+reply.CommentID, "", `{"hide":false}`, headers)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected restore status: %d", recorder.Code)
	}
	decode(t, server.do(t, http.MethodGet, "/comments/"+root.CommentID+"/thread", "", nil, nil), &thread)
	if len(thread.Replies) != 1 || thread.RepliesCount != 1 {
		t.Fatalf("expected restored reply in the thread, got %+v", thread)
	}

	if recorder := server.do(t, http.MethodDelete, "/moderation/comments/"+root.CommentID, "", nil, headers); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", recorder.Code)
	}
	if recorder := server.do(t, http.MethodGet, "/comments/"+root.CommentID+"/thread", "", nil, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected deleted root to be gone, got %d", recorder.Code)
	}
	if recorder := server.do(t, http.MethodDelete, "/moderation/comments/unknown", "", nil, headers); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting unknown comment, got %d", recorder.Code)
	}
}

func TestReportQueue(t *testing.T) {
	server := newTestServer(t, nil)
	headers := server.moderatorHeaders(t, testModeratorID)
	root := server.createComment(t, "198.51.100.19", "")

	recorder := server.do(t, http.MethodPost, "/comments/"+root.CommentID+"/report", "203.0.113.30", reportRequestPayload{
		Reason:      string(comments.ReasonSpam),
		Description: "selling things",
	}, nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected report status: %d %s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		ReportID string `json:"report_id"`
	}
	decode(t, recorder, &created)

	recorder = server.do(t, http.MethodPost, "/comments/"+root.CommentID+"/report", "203.0.113.30", reportRequestPayload{Reason: "boring"}, nil)
	if body := errorCode(t, recorder); recorder.Code != http.StatusBadRequest || body["field"] != "reason" {
		t.Fatalf("expected reason validation failure, got %d %v", recorder.Code, body)
	}

	var queue struct {
		Reports []reportPayload `json:"reports"`
	}
	decode(t, server.do(t, http.MethodGet, "/moderation/reports", "", nil, headers), &queue)
	if len(queue.Reports) != 1 || queue.Reports[0].ReportID != created.ReportID || queue.Reports[0].Reason != string(comments.ReasonSpam) {
		t.Fatalf("unexpected queue: %+v", queue.Reports)
	}

	recorder = server.do(t, http.MethodPost, "/moderation/reports/"+created.ReportID+"/resolve", "", nil, headers)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected resolve status: %d", recorder.Code)
	}
	var resolved reportPayload
	decode(t, recorder, &resolved)
	if !resolved.IsResolved || resolved.ResolvedBy != testModeratorID {
		t.Fatalf("unexpected resolved report: %+v", resolved)
	}

	decode(t, server.do(t, http.MethodGet, "/moderation/reports", "", nil, headers), &queue)
	if len(queue.Reports) != 0 {
		t.Fatalf("expected resolved reports to leave the queue, got %+v", queue.Reports)
	}
	decode(t, server.do(t, http.MethodGet, "/moderation/reports?include_resolved=true", "", nil, headers), &queue)
	if len(queue.Reports) != 1 {
		t.Fatalf("expected resolved report when requested, got %+v", queue.Reports)
	}

	if recorder := server.do(t, http.MethodPost, "/moderation/reports/unknown/resolve", "", nil, headers); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown report, got %d", recorder.Code)
	}
}

func TestSweepHidesSpam(t *testing.T) {
	server := newTestServer(t, nil)
	headers := server.moderatorHeaders(t, testModeratorID)
	server.createComment(t, "198.51.100.20", "")
	recorder := server.submit(t, "198.51.100.21", "", spamText)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected create status: %d %s", recorder.Code, recorder.Body.String())
	}
	var spam commentPayload
	decode(t, recorder, &spam)

	recorder = server.do(t, http.MethodPost, "/moderation/sweep", "", nil, headers)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected sweep status: %d", recorder.Code)
	}
	var report struct {
		Evaluated int `json:"evaluated"`
		Hidden    int `json:"hidden"`
		Failed    int `json:"failed"`
	}
	decode(t, recorder, &report)
	if report.Evaluated != 2 || report.Hidden != 1 || report.Failed != 0 {
		t.Fatalf("unexpected sweep report: %+v", report)
	}
	if recorder := server.do(t, http.MethodGet, "/comments/"+spam.CommentID+"/thread", "", nil, nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected spam to be hidden, got %d", recorder.Code)
	}
}

func TestStoreFailureMapsToServiceUnavailable(t *testing.T) {
	server := newTestServer(t, nil)
	sqlDB, err := server.db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("failed to close sql db: %v", err)
	}

	recorder := server.do(t, http.MethodGet, "/comments", "", nil, nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	if body := errorCode(t, recorder); body["error"] != "store_unavailable" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err != errMissingComments {
		t.Fatalf("expected missing comments error, got %v", err)
	}
}
