package comments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/captcha"
	"github.com/MarcoPoloResearchLab/commentary/internal/events"
	"github.com/MarcoPoloResearchLab/commentary/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/commentary/internal/sanitize"
	"github.com/MarcoPoloResearchLab/commentary/internal/spam"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var noOpLogger = zap.NewNop()

// CaptchaVerifier checks a challenge answer and redeems it inside a transaction.
type CaptchaVerifier interface {
	Check(ctx context.Context, token, solution string) (captcha.Result, error)
	Redeem(ctx context.Context, tx *gorm.DB, token, solution string) (captcha.Result, error)
}

// TextSanitizer turns submitted markup into its stored form.
type TextSanitizer interface {
	Sanitize(raw string) string
	StripAll(raw string) string
}

// SpamScorer computes the advisory spam score stored with each comment.
type SpamScorer interface {
	Score(submission spam.Submission) int
}

// ServiceConfig describes the collaborators of the comment store.
type ServiceConfig struct {
	Database   *gorm.DB
	Captcha    CaptchaVerifier
	Limiter    ratelimit.Limiter
	Policies   ratelimit.Policies
	Sanitizer  TextSanitizer
	Scorer     SpamScorer
	Publisher  events.Publisher
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service owns comment entities, thread structure and counters.
type Service struct {
	db         *gorm.DB
	repo       *Repository
	captcha    CaptchaVerifier
	limiter    ratelimit.Limiter
	policies   ratelimit.Policies
	sanitizer  TextSanitizer
	scorer     SpamScorer
	publisher  events.Publisher
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the comment store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, &ServiceError{code: opServiceNew + ".missing_database", err: errMissingDatabase}
	}
	if cfg.Captcha == nil {
		return nil, &ServiceError{code: opServiceNew + ".missing_captcha", err: errMissingCaptcha}
	}
	if cfg.Limiter == nil {
		return nil, &ServiceError{code: opServiceNew + ".missing_limiter", err: errMissingLimiter}
	}

	policies := cfg.Policies
	if policies == nil {
		policies = ratelimit.DefaultPolicies()
	}
	sanitizer := cfg.Sanitizer
	if sanitizer == nil {
		sanitizer = sanitize.New()
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = spam.NewScorer()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Discard
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		repo:       NewRepository(cfg.Database),
		captcha:    cfg.Captcha,
		limiter:    cfg.Limiter,
		policies:   policies,
		sanitizer:  sanitizer,
		scorer:     scorer,
		publisher:  publisher,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create runs the submission pipeline and persists a new comment or reply.
// The captcha is redeemed in the same transaction as the insert, so a rejected
// submission leaves the token usable.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Comment, error) {
	request.ClientIP = strings.TrimSpace(request.ClientIP)
	if request.ClientIP == "" {
		return Comment{}, invalid("client_ip", "is required")
	}
	if err := s.checkRate(ctx, opCreate, createKind(request), request.ClientIP); err != nil {
		return Comment{}, err
	}

	result, err := s.captcha.Check(ctx, request.CaptchaToken, request.CaptchaSolution)
	if err != nil {
		s.logError(opCreate, "captcha_check_failed", err)
		return Comment{}, newServiceError(opCreate, "captcha_check_failed", err)
	}
	if result != captcha.ResultOK {
		return Comment{}, result.Err()
	}

	input, err := s.validateSubmission(request)
	if err != nil {
		return Comment{}, err
	}

	now := s.clock().UTC()
	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Comment{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	score := s.scorer.Score(spam.Submission{
		Text:   input.text,
		Author: input.author,
		Email:  input.email,
		IP:     request.ClientIP,
	})
	comment := Comment{
		CommentID:     commentID,
		RootID:        commentID,
		AuthorName:    input.author,
		Email:         input.email,
		HomePage:      input.homePage,
		RawText:       request.Text,
		SanitizedText: s.sanitizer.Sanitize(input.text),
		SpamScore:     score,
		IsActive:      true,
		IPAddress:     request.ClientIP,
		UserAgent:     request.UserAgent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	attachments, err := s.buildAttachments(commentID, request.Attachments, now)
	if err != nil {
		return Comment{}, err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		redeemed, err := s.captcha.Redeem(ctx, tx, request.CaptchaToken, request.CaptchaSolution)
		if err != nil {
			s.logError(opCreate, "captcha_redeem_failed", err)
			return newServiceError(opCreate, "captcha_redeem_failed", err)
		}
		if redeemed != captcha.ResultOK {
			return redeemed.Err()
		}

		repo := s.repo.WithTx(tx)
		if input.parentID != "" {
			parent, err := repo.Lock(ctx, input.parentID)
			if err != nil {
				s.logError(opCreate, "parent_select_failed", err, zap.String("parent_id", input.parentID))
				return newServiceError(opCreate, "parent_select_failed", err)
			}
			if parent == nil {
				return ErrNotFound
			}
			if !parent.Repliable() {
				return ErrParentNotRepliable
			}
			parentID := parent.CommentID
			comment.ParentID = &parentID
			comment.RootID = parent.RootID
			comment.Depth = parent.Depth + 1
		}

		if err := tx.Omit(clause.Associations).Create(&comment).Error; err != nil {
			s.logError(opCreate, "insert_failed", err, zap.String("comment_id", comment.CommentID))
			return newServiceError(opCreate, "insert_failed", err)
		}
		if len(attachments) > 0 {
			if err := tx.Create(&attachments).Error; err != nil {
				s.logError(opCreate, "attachment_insert_failed", err, zap.String("comment_id", comment.CommentID))
				return newServiceError(opCreate, "attachment_insert_failed", err)
			}
		}

		if comment.ParentID != nil {
			if err := s.recomputeReplies(ctx, repo, *comment.ParentID, now); err != nil {
				s.logError(opCreate, "counter_update_failed", err, zap.String("parent_id", *comment.ParentID))
				return newServiceError(opCreate, "counter_update_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		return Comment{}, txErr
	}

	comment.Attachments = attachments
	s.publish(ctx, events.TypeCommentCreated, comment)
	return comment, nil
}

// Preview renders text the way Create would store it.
func (s *Service) Preview(ctx context.Context, clientIP, text string) (Preview, error) {
	if err := s.checkRate(ctx, opPreview, ratelimit.KindPreview, clientIP); err != nil {
		return Preview{}, err
	}
	trimmed := strings.TrimSpace(text)
	return Preview{
		SanitizedText:   s.sanitizer.Sanitize(trimmed),
		WellFormedInput: sanitize.WellFormed(trimmed),
	}, nil
}

// Find loads a visible comment.
func (s *Service) Find(ctx context.Context, commentID string) (Comment, error) {
	comment, err := s.repo.Find(ctx, commentID)
	if err != nil {
		s.logError(opFind, "query_failed", err, zap.String("comment_id", commentID))
		return Comment{}, newServiceError(opFind, "query_failed", err)
	}
	if comment == nil || !comment.IsActive {
		return Comment{}, ErrNotFound
	}
	return *comment, nil
}

// CountRecentByIP counts comments submitted from ip between since and until, both inclusive.
func (s *Service) CountRecentByIP(ctx context.Context, ip string, since, until time.Time) (int64, error) {
	count, err := s.repo.CountRecentByIP(ctx, ip, since.UTC(), until.UTC())
	if err != nil {
		s.logError(opRecentByIP, "query_failed", err, zap.String("ip", ip))
		return 0, newServiceError(opRecentByIP, "query_failed", err)
	}
	return count, nil
}

// ListUnmoderatedSince loads visible comments created at or after since that no moderator has acted on.
func (s *Service) ListUnmoderatedSince(ctx context.Context, since time.Time, limit int) ([]Comment, error) {
	comments, err := s.repo.ListUnmoderatedSince(ctx, since.UTC(), normalizeLimit(limit, 500))
	if err != nil {
		s.logError(opListUnmoderated, "query_failed", err)
		return nil, newServiceError(opListUnmoderated, "query_failed", err)
	}
	return comments, nil
}

func (s *Service) buildAttachments(commentID string, inputs []AttachmentInput, now time.Time) ([]Attachment, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	attachments := make([]Attachment, 0, len(inputs))
	for _, input := range inputs {
		attachmentID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreate, "id_generation_failed", err)
			return nil, newServiceError(opCreate, "id_generation_failed", err)
		}
		attachments = append(attachments, Attachment{
			AttachmentID: attachmentID,
			CommentID:    commentID,
			Kind:         input.Kind,
			OriginalName: input.OriginalName,
			ContentType:  input.ContentType,
			SizeBytes:    input.SizeBytes,
			StorageKey:   input.StorageKey,
			CreatedAt:    now,
		})
	}
	return attachments, nil
}

func (s *Service) recomputeReplies(ctx context.Context, repo *Repository, commentID string, now time.Time) error {
	count, err := repo.CountActiveChildren(ctx, commentID)
	if err != nil {
		return err
	}
	return repo.SetRepliesCount(ctx, commentID, count, now)
}

func (s *Service) recomputeLikes(ctx context.Context, repo *Repository, commentID string, now time.Time) error {
	count, err := repo.CountActiveLikes(ctx, commentID)
	if err != nil {
		return err
	}
	return repo.SetLikesCount(ctx, commentID, count, now)
}

func (s *Service) checkRate(ctx context.Context, operation string, kind ratelimit.Kind, clientIP string) error {
	err := ratelimit.Check(ctx, s.limiter, s.policies, kind, clientIP)
	if err == nil {
		return nil
	}
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		return err
	}
	s.logError(operation, "rate_limit_failed", err, zap.String("ip", clientIP), zap.String("kind", string(kind)))
	return newServiceError(operation, "rate_limit_failed", err)
}

func (s *Service) publish(ctx context.Context, eventType events.Type, comment Comment) {
	event := events.Event{
		Type:       eventType,
		CommentID:  comment.CommentID,
		RootID:     comment.RootID,
		IPAddress:  comment.IPAddress,
		OccurredAt: s.clock().UTC(),
	}
	if comment.ParentID != nil {
		event.ParentID = *comment.ParentID
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("comment event not delivered",
			zap.String("type", string(eventType)),
			zap.String("comment_id", comment.CommentID),
			zap.Error(err))
	}
}

func createKind(request CreateRequest) ratelimit.Kind {
	if strings.TrimSpace(request.ParentID) != "" {
		return ratelimit.KindReply
	}
	return ratelimit.KindComment
}

func normalizeLimit(limit, maximum int) int {
	if limit <= 0 || limit > maximum {
		return maximum
	}
	return limit
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("comments service error", attrs...)
}
