package captcha

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/ratelimit"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultTTL bounds how long a challenge can be answered.
	DefaultTTL = 10 * time.Minute
	// DefaultRetention bounds how long a token row is kept before Cleanup removes it.
	DefaultRetention = time.Hour
)

var (
	// ErrStoreUnavailable marks failures of the token store or the limiter.
	ErrStoreUnavailable = errors.New("captcha: store unavailable")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "captcha.service.new"
	opGenerate   = "captcha.generate"
	opCheck      = "captcha.check"
	opRedeem     = "captcha.redeem"
	opRender     = "captcha.render"
	opCleanup    = "captcha.cleanup"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: errors.Join(ErrStoreUnavailable, cause)}
}

// ServiceConfig describes the dependencies of the challenge service.
type ServiceConfig struct {
	Database  *gorm.DB
	Limiter   ratelimit.Limiter
	Policies  ratelimit.Policies
	TTL       time.Duration
	Retention time.Duration
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service issues and redeems one-shot math challenges.
type Service struct {
	db        *gorm.DB
	limiter   ratelimit.Limiter
	policies  ratelimit.Policies
	ttl       time.Duration
	retention time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the challenge service. A nil limiter disables generation limits.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, &ServiceError{code: opServiceNew + ".missing_database", err: errMissingDatabase}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	policies := cfg.Policies
	if policies == nil {
		policies = ratelimit.DefaultPolicies()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:        cfg.Database,
		limiter:   cfg.Limiter,
		policies:  policies,
		ttl:       ttl,
		retention: retention,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Generate persists a new challenge for the client at ip.
func (s *Service) Generate(ctx context.Context, ip string) (Challenge, error) {
	if s.limiter != nil {
		if err := ratelimit.Check(ctx, s.limiter, s.policies, ratelimit.KindCaptcha, ip); err != nil {
			var exceeded *ratelimit.ExceededError
			if errors.As(err, &exceeded) {
				return Challenge{}, err
			}
			s.logError(opGenerate, "rate_limit_failed", err, zap.String("ip", ip))
			return Challenge{}, newServiceError(opGenerate, "rate_limit_failed", err)
		}
	}

	text, solution := newProblem()
	record := Token{
		Token:     newToken(),
		Challenge: text,
		Solution:  solution,
		IPAddress: ip,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opGenerate, "insert_failed", err, zap.String("ip", ip))
		return Challenge{}, newServiceError(opGenerate, "insert_failed", err)
	}

	return Challenge{Token: record.Token, Text: record.Challenge}, nil
}

// Check classifies token and solution without consuming the token.
func (s *Service) Check(ctx context.Context, token, solution string) (Result, error) {
	record, err := s.find(s.db.WithContext(ctx), token)
	if err != nil {
		s.logError(opCheck, "query_failed", err)
		return "", newServiceError(opCheck, "query_failed", err)
	}
	return s.classify(record, solution), nil
}

// Redeem classifies token and solution and, on success, marks the token used
// with a conditional update so that only one caller ever observes ResultOK.
// When tx is non-nil the update joins the caller's transaction.
func (s *Service) Redeem(ctx context.Context, tx *gorm.DB, token, solution string) (Result, error) {
	db := tx
	if db == nil {
		db = s.db
	}
	db = db.WithContext(ctx)

	record, err := s.find(db, token)
	if err != nil {
		s.logError(opRedeem, "query_failed", err)
		return "", newServiceError(opRedeem, "query_failed", err)
	}
	result := s.classify(record, solution)
	if result != ResultOK {
		return result, nil
	}

	update := db.Model(&Token{}).
		Where("token = ? AND used_at IS NULL", record.Token).
		Update("used_at", s.clock().UTC())
	if update.Error != nil {
		s.logError(opRedeem, "update_failed", update.Error, zap.String("token", record.Token))
		return "", newServiceError(opRedeem, "update_failed", update.Error)
	}
	if update.RowsAffected == 0 {
		return ResultUsed, nil
	}
	return ResultOK, nil
}

// Validate redeems the token outside any caller transaction.
func (s *Service) Validate(ctx context.Context, token, solution string) (Result, error) {
	return s.Redeem(ctx, nil, token, solution)
}

// Cleanup deletes tokens created before the retention window.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.clock().UTC().Add(-s.retention)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Token{})
	if result.Error != nil {
		s.logError(opCleanup, "delete_failed", result.Error)
		return 0, newServiceError(opCleanup, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) find(db *gorm.DB, token string) (*Token, error) {
	normalized := strings.ToLower(strings.TrimSpace(token))
	if normalized == "" {
		return nil, nil
	}
	var record Token
	err := db.Where("token = ?", normalized).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) classify(record *Token, solution string) Result {
	if record == nil {
		return ResultNotFound
	}
	if s.clock().UTC().After(record.CreatedAt.UTC().Add(s.ttl)) {
		return ResultExpired
	}
	if record.UsedAt != nil {
		return ResultUsed
	}
	if strings.TrimSpace(solution) != record.Solution {
		return ResultWrong
	}
	return ResultOK
}

func newProblem() (string, string) {
	left := rand.IntN(9) + 1
	right := rand.IntN(9) + 1
	if rand.IntN(2) == 0 {
		return fmt.Sprintf("%d + %d = ?", left, right), strconv.Itoa(left + right)
	}
	if left < right {
		left, right = right, left
	}
	return fmt.Sprintf("%d - %d = ?", left, right), strconv.Itoa(left - right)
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
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
	s.logger.Error("captcha service error", attrs...)
}
