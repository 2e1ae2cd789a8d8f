package events

import (
	"context"
	"time"
)

// Type names a committed comment mutation.
type Type string

const (
	TypeCommentCreated   Type = "comment.created"
	TypeCommentLiked     Type = "comment.liked"
	TypeCommentReported  Type = "comment.reported"
	TypeCommentModerated Type = "comment.moderated"
	TypeCommentDeleted   Type = "comment.deleted"
)

// Event describes a mutation after its transaction has committed.
type Event struct {
	Type       Type      `json:"type"`
	CommentID  string    `json:"comment_id"`
	RootID     string    `json:"root_id"`
	ParentID   string    `json:"parent_id,omitempty"`
	IPAddress  string    `json:"-"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher receives committed events. Implementations must not block for long;
// callers treat delivery as best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }
