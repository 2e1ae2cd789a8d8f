package moderators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidModerator indicates a blank moderator id.
	ErrInvalidModerator = errors.New("moderators: invalid moderator")
	// ErrUnknownModerator indicates the subject is not an active moderator.
	ErrUnknownModerator = errors.New("moderators: unknown moderator")
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 30 * time.Second
)

// ServiceConfig describes the dependencies required for moderator lookups.
// CacheTTL bounds how long a revocation made by another process can go
// unnoticed.
type ServiceConfig struct {
	Database  *gorm.DB
	Clock     func() time.Time
	CacheSize int
	CacheTTL  time.Duration
}

// Service registers moderators and authorizes token subjects.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache *expirable.LRU[string, Moderator]
}

// NewService constructs the moderator service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("moderators: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: expirable.NewLRU[string, Moderator](size, nil, ttl),
	}, nil
}

// Register creates a moderator, or reactivates and renames an existing one.
func (s *Service) Register(ctx context.Context, moderatorID, displayName string) (Moderator, error) {
	moderatorID = normalize(moderatorID)
	if moderatorID == "" {
		return Moderator{}, ErrInvalidModerator
	}
	displayName = normalize(displayName)
	if displayName == "" {
		displayName = moderatorID
	}

	now := s.now().UTC()
	moderator := Moderator{
		ModeratorID: moderatorID,
		DisplayName: displayName,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "moderator_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "is_active", "updated_at"}),
		}).
		Create(&moderator).
		Error
	if err != nil {
		return Moderator{}, err
	}

	var stored Moderator
	if err := s.db.WithContext(ctx).Where("moderator_id = ?", moderatorID).Take(&stored).Error; err != nil {
		return Moderator{}, err
	}
	s.cache.Add(moderatorID, stored)
	return stored, nil
}

// Deactivate revokes a moderator. Tokens stop authorizing at once in this
// process and within the cache TTL everywhere else.
func (s *Service) Deactivate(ctx context.Context, moderatorID string) error {
	moderatorID = normalize(moderatorID)
	result := s.db.WithContext(ctx).
		Model(&Moderator{}).
		Where("moderator_id = ?", moderatorID).
		Updates(map[string]interface{}{"is_active": false, "updated_at": s.now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	s.cache.Remove(moderatorID)
	if result.RowsAffected == 0 {
		return ErrUnknownModerator
	}
	return nil
}

// Authorize resolves a token subject to an active moderator.
func (s *Service) Authorize(ctx context.Context, subject string) (Moderator, error) {
	subject = normalize(subject)
	if subject == "" {
		return Moderator{}, ErrInvalidModerator
	}
	if moderator, ok := s.cache.Get(subject); ok && moderator.IsActive {
		return moderator, nil
	}

	var moderator Moderator
	err := s.db.WithContext(ctx).
		Where("moderator_id = ?", subject).
		First(&moderator).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Moderator{}, ErrUnknownModerator
	}
	if err != nil {
		return Moderator{}, err
	}
	if !moderator.IsActive {
		return Moderator{}, ErrUnknownModerator
	}

	s.cache.Add(subject, moderator)
	return moderator, nil
}
