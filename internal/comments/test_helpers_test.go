package comments

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/captcha"
	"github.com/MarcoPoloResearchLab/commentary/internal/events"
	"github.com/MarcoPoloResearchLab/commentary/internal/ratelimit"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const validText = "This is a great article, thanks!"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	matched := make([]events.Event, 0, len(p.events))
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type testEnv struct {
	service   *Service
	db        *gorm.DB
	captcha   *captcha.Service
	clock     *testClock
	publisher *recordingPublisher
}

type envOption func(*ServiceConfig)

func withLogger(logger *zap.Logger) envOption {
	return func(cfg *ServiceConfig) { cfg.Logger = logger }
}

func withPolicies(policies ratelimit.Policies) envOption {
	return func(cfg *ServiceConfig) { cfg.Policies = policies }
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:comments_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Comment{}, &Like{}, &Report{}, &Attachment{}, &captcha.Token{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, options ...envOption) *testEnv {
	t.Helper()
	db := openTestDatabase(t)
	clock := &testClock{now: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)}

	captchaService, err := captcha.NewService(captcha.ServiceConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build captcha service: %v", err)
	}
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	publisher := &recordingPublisher{}

	cfg := ServiceConfig{
		Database:  db,
		Captcha:   captchaService,
		Limiter:   limiter,
		Publisher: publisher,
		Clock:     clock.Now,
	}
	for _, option := range options {
		option(&cfg)
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return &testEnv{service: service, db: db, captcha: captchaService, clock: clock, publisher: publisher}
}

func (e *testEnv) issueCaptcha(t *testing.T) (string, string) {
	t.Helper()
	challenge, err := e.captcha.Generate(context.Background(), "captcha-client")
	if err != nil {
		t.Fatalf("failed to generate captcha: %v", err)
	}
	var record captcha.Token
	if err := e.db.Where("token = ?", challenge.Token).Take(&record).Error; err != nil {
		t.Fatalf("failed to load captcha: %v", err)
	}
	return challenge.Token, record.Solution
}

func (e *testEnv) request(t *testing.T, ip, parentID string) CreateRequest {
	t.Helper()
	token, solution := e.issueCaptcha(t)
	return CreateRequest{
		AuthorName:      "Al",
		Email:           "al@example.com",
		Text:            validText,
		ParentID:        parentID,
		CaptchaToken:    token,
		CaptchaSolution: solution,
		ClientIP:        ip,
		UserAgent:       "test-agent",
	}
}

func (e *testEnv) mustCreate(t *testing.T, ip, parentID string) Comment {
	t.Helper()
	e.clock.Advance(time.Second)
	comment, err := e.service.Create(context.Background(), e.request(t, ip, parentID))
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return comment
}

func (e *testEnv) reload(t *testing.T, commentID string) Comment {
	t.Helper()
	var comment Comment
	if err := e.db.Where("comment_id = ?", commentID).Take(&comment).Error; err != nil {
		t.Fatalf("failed to reload comment %s: %v", commentID, err)
	}
	return comment
}

// assertCountersConsistent checks every stored counter against live rows.
func (e *testEnv) assertCountersConsistent(t *testing.T) {
	t.Helper()
	var all []Comment
	if err := e.db.Find(&all).Error; err != nil {
		t.Fatalf("failed to list comments: %v", err)
	}
	for _, comment := range all {
		var replies, likes int64
		e.db.Model(&Comment{}).Where("parent_id = ? AND is_active = ?", comment.CommentID, true).Count(&replies)
		e.db.Model(&Like{}).Where("comment_id = ? AND is_active = ?", comment.CommentID, true).Count(&likes)
		if int64(comment.RepliesCount) != replies {
			t.Fatalf("comment %s replies_count=%d, live=%d", comment.CommentID, comment.RepliesCount, replies)
		}
		if int64(comment.LikesCount) != likes {
			t.Fatalf("comment %s likes_count=%d, live=%d", comment.CommentID, comment.LikesCount, likes)
		}
		if comment.Depth > MaxDepth {
			t.Fatalf("comment %s depth %d exceeds %d", comment.CommentID, comment.Depth, MaxDepth)
		}
	}
}
