package comments

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/commentary/internal/events"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const recomputeBatchSize = 200

// Moderate hides or restores a comment. An empty moderatorID records an
// automatic decision. Repeating a decision that is already in effect changes
// nothing. When visibility changes, the parent's replies_count is recomputed
// in the same transaction.
func (s *Service) Moderate(ctx context.Context, commentID, moderatorID string, hide bool) (Comment, error) {
	commentID = strings.TrimSpace(commentID)
	var (
		moderated Comment
		changed   bool
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		comment, err := repo.Lock(ctx, commentID)
		if err != nil {
			s.logError(opModerate, "comment_select_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opModerate, "comment_select_failed", err)
		}
		if comment == nil {
			return ErrNotFound
		}

		targetActive := !hide
		if comment.IsModerated && comment.IsActive == targetActive {
			moderated = *comment
			return nil
		}

		now := s.clock().UTC()
		moderatedBy := optionalString(moderatorID)
		if err := tx.Model(&Comment{}).
			Where("comment_id = ?", commentID).
			Updates(map[string]any{
				"is_active":    targetActive,
				"is_moderated": true,
				"moderated_by": moderatedBy,
				"moderated_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			s.logError(opModerate, "update_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opModerate, "update_failed", err)
		}

		if comment.IsActive != targetActive && comment.ParentID != nil {
			if err := s.refreshParent(ctx, repo, *comment.ParentID); err != nil {
				s.logError(opModerate, "counter_update_failed", err, zap.String("parent_id", *comment.ParentID))
				return newServiceError(opModerate, "counter_update_failed", err)
			}
		}

		comment.IsActive = targetActive
		comment.IsModerated = true
		comment.ModeratedBy = moderatedBy
		comment.ModeratedAt = &now
		comment.UpdatedAt = now
		moderated = *comment
		changed = true
		return nil
	})
	if txErr != nil {
		return Comment{}, txErr
	}

	if changed {
		s.publish(ctx, events.TypeCommentModerated, moderated)
	}
	return moderated, nil
}

// Delete soft-deletes a comment: the row and its replies stay, the comment
// stops being visible and no longer counts toward its parent's replies_count.
// Deleting an already hidden comment is a no-op.
func (s *Service) Delete(ctx context.Context, commentID string) error {
	commentID = strings.TrimSpace(commentID)
	var deleted *Comment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		comment, err := repo.Lock(ctx, commentID)
		if err != nil {
			s.logError(opDelete, "comment_select_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opDelete, "comment_select_failed", err)
		}
		if comment == nil {
			return ErrNotFound
		}
		if !comment.IsActive {
			return nil
		}

		now := s.clock().UTC()
		if err := tx.Model(&Comment{}).
			Where("comment_id = ?", commentID).
			Updates(map[string]any{"is_active": false, "updated_at": now}).Error; err != nil {
			s.logError(opDelete, "update_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opDelete, "update_failed", err)
		}
		if comment.ParentID != nil {
			if err := s.refreshParent(ctx, repo, *comment.ParentID); err != nil {
				s.logError(opDelete, "counter_update_failed", err, zap.String("parent_id", *comment.ParentID))
				return newServiceError(opDelete, "counter_update_failed", err)
			}
		}
		comment.IsActive = false
		comment.UpdatedAt = now
		deleted = comment
		return nil
	})
	if txErr != nil {
		return txErr
	}

	if deleted != nil {
		s.publish(ctx, events.TypeCommentDeleted, *deleted)
	}
	return nil
}

// RecomputeCounters repairs likes_count and replies_count on every comment from
// live rows. It returns how many comments had a drifted counter.
func (s *Service) RecomputeCounters(ctx context.Context) (int, error) {
	repaired := 0
	lastID := ""
	for {
		ids, err := s.repo.ListIDsAfter(ctx, lastID, recomputeBatchSize)
		if err != nil {
			s.logError(opRecomputeCounter, "query_failed", err)
			return repaired, newServiceError(opRecomputeCounter, "query_failed", err)
		}
		if len(ids) == 0 {
			return repaired, nil
		}
		for _, commentID := range ids {
			fixed, err := s.recomputeOne(ctx, commentID)
			if err != nil {
				s.logError(opRecomputeCounter, "recompute_failed", err, zap.String("comment_id", commentID))
				return repaired, newServiceError(opRecomputeCounter, "recompute_failed", err)
			}
			if fixed {
				repaired++
			}
		}
		lastID = ids[len(ids)-1]
	}
}

func (s *Service) recomputeOne(ctx context.Context, commentID string) (bool, error) {
	fixed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		comment, err := repo.Lock(ctx, commentID)
		if err != nil || comment == nil {
			return err
		}
		likes, err := repo.CountActiveLikes(ctx, commentID)
		if err != nil {
			return err
		}
		replies, err := repo.CountActiveChildren(ctx, commentID)
		if err != nil {
			return err
		}
		if int64(comment.LikesCount) == likes && int64(comment.RepliesCount) == replies {
			return nil
		}
		fixed = true
		return tx.Model(&Comment{}).
			Where("comment_id = ?", commentID).
			Updates(map[string]any{
				"likes_count":   likes,
				"replies_count": replies,
				"updated_at":    s.clock().UTC(),
			}).Error
	})
	return fixed, err
}

// refreshParent locks the parent row and recomputes its reply counter.
func (s *Service) refreshParent(ctx context.Context, repo *Repository, parentID string) error {
	if _, err := repo.Lock(ctx, parentID); err != nil {
		return err
	}
	return s.recomputeReplies(ctx, repo, parentID, s.clock().UTC())
}
