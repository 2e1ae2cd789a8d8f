package comments

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var listOrderings = map[Ordering]string{
	OrderCreatedAsc:  "created_at ASC, comment_id ASC",
	OrderCreatedDesc: "created_at DESC, comment_id DESC",
	OrderLikesAsc:    "likes_count ASC, created_at ASC, comment_id ASC",
	OrderLikesDesc:   "likes_count DESC, created_at DESC, comment_id DESC",
	OrderAuthor:      "author_name ASC, created_at ASC, comment_id ASC",
}

// Repository holds the typed queries over the comment tables.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the queries to db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository whose queries run inside tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// Find loads a comment in any state. It returns nil when the id is unknown.
func (r *Repository) Find(ctx context.Context, commentID string) (*Comment, error) {
	return r.take(r.db.WithContext(ctx), commentID)
}

// Lock loads a comment and holds a row lock on it until the transaction ends.
func (r *Repository) Lock(ctx context.Context, commentID string) (*Comment, error) {
	return r.take(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), commentID)
}

func (r *Repository) take(db *gorm.DB, commentID string) (*Comment, error) {
	var comment Comment
	err := db.Where("comment_id = ?", commentID).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// FindRoot loads the root of the thread containing commentID.
func (r *Repository) FindRoot(ctx context.Context, commentID string) (*Comment, error) {
	comment, err := r.Find(ctx, commentID)
	if err != nil || comment == nil {
		return nil, err
	}
	if comment.IsRoot() {
		return comment, nil
	}
	return r.Find(ctx, comment.RootID)
}

// CountActiveChildren counts visible direct replies of commentID.
func (r *Repository) CountActiveChildren(ctx context.Context, commentID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Comment{}).
		Where("parent_id = ? AND is_active = ?", commentID, true).
		Count(&count).Error
	return count, err
}

// CountActiveLikes counts active likes of commentID.
func (r *Repository) CountActiveLikes(ctx context.Context, commentID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Like{}).
		Where("comment_id = ? AND is_active = ?", commentID, true).
		Count(&count).Error
	return count, err
}

// SetRepliesCount stores a recomputed reply counter.
func (r *Repository) SetRepliesCount(ctx context.Context, commentID string, count int64, now time.Time) error {
	return r.db.WithContext(ctx).Model(&Comment{}).
		Where("comment_id = ?", commentID).
		Updates(map[string]any{"replies_count": count, "updated_at": now}).Error
}

// SetLikesCount stores a recomputed like counter.
func (r *Repository) SetLikesCount(ctx context.Context, commentID string, count int64, now time.Time) error {
	return r.db.WithContext(ctx).Model(&Comment{}).
		Where("comment_id = ?", commentID).
		Updates(map[string]any{"likes_count": count, "updated_at": now}).Error
}

// InsertLike adds an active like unless one exists for the pair. It reports
// whether a row was inserted.
func (r *Repository) InsertLike(ctx context.Context, like *Like) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(like)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FlipLike inverts an existing like in one statement and returns the new state.
func (r *Repository) FlipLike(ctx context.Context, commentID, ip string, now time.Time) (bool, error) {
	db := r.db.WithContext(ctx)
	if err := db.Model(&Like{}).
		Where("comment_id = ? AND ip_address = ?", commentID, ip).
		Updates(map[string]any{"is_active": gorm.Expr("NOT is_active"), "updated_at": now}).Error; err != nil {
		return false, err
	}
	var like Like
	if err := db.Where("comment_id = ? AND ip_address = ?", commentID, ip).Take(&like).Error; err != nil {
		return false, err
	}
	return like.IsActive, nil
}

// ListThread loads the visible comments of a thread in display order.
func (r *Repository) ListThread(ctx context.Context, rootID string) ([]Comment, error) {
	var comments []Comment
	err := r.db.WithContext(ctx).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, attachment_id ASC") }).
		Where("root_id = ? AND is_active = ?", rootID, true).
		Order("created_at ASC, comment_id ASC").
		Find(&comments).Error
	return comments, err
}

// ListRoots pages through visible root comments.
func (r *Repository) ListRoots(ctx context.Context, query ListQuery) ([]Comment, int64, error) {
	order, ok := listOrderings[query.Ordering]
	if !ok {
		order = listOrderings[OrderCreatedDesc]
	}
	base := applyListFilters(r.db.WithContext(ctx).Model(&Comment{}).Where("parent_id IS NULL AND is_active = ?", true), query)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var comments []Comment
	err := base.Session(&gorm.Session{}).
		Order(order).
		Limit(query.Limit).
		Offset(query.Offset).
		Find(&comments).Error
	return comments, total, err
}

func applyListFilters(db *gorm.DB, query ListQuery) *gorm.DB {
	if search := strings.TrimSpace(query.Search); search != "" {
		db = db.Where("LOWER(sanitized_text) LIKE ? ESCAPE '!'", containsPattern(search))
	}
	if author := strings.TrimSpace(query.Author); author != "" {
		db = db.Where("LOWER(author_name) LIKE ? ESCAPE '!'", containsPattern(author))
	}
	if !query.CreatedAfter.IsZero() {
		db = db.Where("created_at >= ?", query.CreatedAfter.UTC())
	}
	if !query.CreatedBefore.IsZero() {
		db = db.Where("created_at <= ?", query.CreatedBefore.UTC())
	}
	if query.MinLikes > 0 {
		db = db.Where("likes_count >= ?", query.MinLikes)
	}
	if query.HasReplies != nil {
		if *query.HasReplies {
			db = db.Where("replies_count > 0")
		} else {
			db = db.Where("replies_count = 0")
		}
	}
	return db
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func containsPattern(value string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(value)) + "%"
}

// CountRecentByIP counts comments submitted from ip within [since, until].
func (r *Repository) CountRecentByIP(ctx context.Context, ip string, since, until time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Comment{}).
		Where("ip_address = ? AND created_at >= ? AND created_at <= ?", ip, since, until).
		Count(&count).Error
	return count, err
}

// ListUnmoderatedSince loads visible comments no moderator has acted on yet.
func (r *Repository) ListUnmoderatedSince(ctx context.Context, since time.Time, limit int) ([]Comment, error) {
	var comments []Comment
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND is_moderated = ? AND created_at >= ?", true, false, since).
		Order("created_at ASC, comment_id ASC").
		Limit(limit).
		Find(&comments).Error
	return comments, err
}

// ListIDsAfter pages through every comment id in key order.
func (r *Repository) ListIDsAfter(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Comment{}).
		Where("comment_id > ?", afterID).
		Order("comment_id ASC").
		Limit(limit).
		Pluck("comment_id", &ids).Error
	return ids, err
}
