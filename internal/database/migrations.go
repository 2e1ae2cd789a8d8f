package database

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/comments"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRecomputeCommentCounters = "2026-10-19_recompute_comment_counters"

	recomputeBatchSize = 500
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRecomputeCommentCounters, apply: recomputeCommentCounters},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// recomputeCommentCounters rewrites likes_count and replies_count from live
// rows. Counts run per comment rather than as a correlated UPDATE because MySQL
// rejects subqueries over the table being updated.
func recomputeCommentCounters(db *gorm.DB) error {
	ctx := context.Background()
	now := time.Now().UTC()
	return db.Transaction(func(tx *gorm.DB) error {
		repo := comments.NewRepository(tx)
		lastID := ""
		for {
			ids, err := repo.ListIDsAfter(ctx, lastID, recomputeBatchSize)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return nil
			}
			for _, commentID := range ids {
				likes, err := repo.CountActiveLikes(ctx, commentID)
				if err != nil {
					return err
				}
				if err := repo.SetLikesCount(ctx, commentID, likes, now); err != nil {
					return err
				}
				replies, err := repo.CountActiveChildren(ctx, commentID)
				if err != nil {
					return err
				}
				if err := repo.SetRepliesCount(ctx, commentID, replies, now); err != nil {
					return err
				}
			}
			lastID = ids[len(ids)-1]
		}
	})
}
