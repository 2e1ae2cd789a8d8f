package comments

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/commentary/internal/events"
	"github.com/MarcoPoloResearchLab/commentary/internal/ratelimit"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ToggleLike flips the like of clientIP on a visible comment: the first call
// likes, the next one unlikes, and so on. The comment's likes_count is
// recomputed from active likes in the same transaction.
func (s *Service) ToggleLike(ctx context.Context, commentID, clientIP, userAgent string) (LikeResult, error) {
	commentID = strings.TrimSpace(commentID)
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		return LikeResult{}, invalid("client_ip", "is required")
	}
	if err := s.checkRate(ctx, opToggleLike, ratelimit.KindLike, clientIP); err != nil {
		return LikeResult{}, err
	}

	var result LikeResult
	err := retryStore(ctx, func() error {
		toggled, err := s.toggleLikeOnce(ctx, commentID, clientIP, userAgent)
		if err != nil {
			return err
		}
		result = toggled
		return nil
	})
	if err != nil {
		return LikeResult{}, err
	}

	s.publish(ctx, events.TypeCommentLiked, result.Comment)
	return result, nil
}

func (s *Service) toggleLikeOnce(ctx context.Context, commentID, clientIP, userAgent string) (LikeResult, error) {
	var result LikeResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		comment, err := repo.Lock(ctx, commentID)
		if err != nil {
			s.logError(opToggleLike, "comment_select_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opToggleLike, "comment_select_failed", err)
		}
		if comment == nil || !comment.IsActive {
			return ErrNotFound
		}

		now := s.clock().UTC()
		liked, err := repo.InsertLike(ctx, &Like{
			CommentID: commentID,
			IPAddress: clientIP,
			UserAgent: userAgent,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			s.logError(opToggleLike, "like_insert_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opToggleLike, "like_insert_failed", err)
		}
		if !liked {
			liked, err = repo.FlipLike(ctx, commentID, clientIP, now)
			if err != nil {
				s.logError(opToggleLike, "like_flip_failed", err, zap.String("comment_id", commentID))
				return newServiceError(opToggleLike, "like_flip_failed", err)
			}
		}

		if err := s.recomputeLikes(ctx, repo, commentID, now); err != nil {
			s.logError(opToggleLike, "counter_update_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opToggleLike, "counter_update_failed", err)
		}

		updated, err := repo.Find(ctx, commentID)
		if err != nil || updated == nil {
			s.logError(opToggleLike, "comment_reload_failed", err, zap.String("comment_id", commentID))
			return newServiceError(opToggleLike, "comment_reload_failed", err)
		}
		result = LikeResult{Comment: *updated, Liked: liked}
		return nil
	})
	if txErr != nil {
		return LikeResult{}, txErr
	}
	return result, nil
}
