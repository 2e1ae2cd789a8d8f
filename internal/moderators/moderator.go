package moderators

import (
	"strings"
	"time"
)

// Moderator is a person allowed to hide, restore and delete comments and to
// work the report queue. Tokens carry the moderator id as their subject.
type Moderator struct {
	ModeratorID string    `gorm:"column:moderator_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320;not null"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName exposes the table backing moderators.
func (Moderator) TableName() string {
	return "moderators"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
