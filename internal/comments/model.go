package comments

import "time"

// MaxDepth is the deepest level a comment may occupy; roots are depth 0.
const MaxDepth = 3

// Comment is a persisted comment. RootID and Depth are derived from the parent
// at creation and never change. LikesCount and RepliesCount are recomputed
// from live rows on every mutation that can affect them.
type Comment struct {
	CommentID     string       `gorm:"column:comment_id;primaryKey;size:36;not null"`
	RootID        string       `gorm:"column:root_id;size:36;not null;index:idx_comments_root_created,priority:1"`
	ParentID      *string      `gorm:"column:parent_id;size:36;index:idx_comments_parent_active,priority:1"`
	Depth         int          `gorm:"column:depth;not null"`
	AuthorName    string       `gorm:"column:author_name;size:100;not null"`
	Email         string       `gorm:"column:email;size:320;not null"`
	HomePage      string       `gorm:"column:home_page;size:512;not null"`
	RawText       string       `gorm:"column:raw_text;type:text;not null"`
	SanitizedText string       `gorm:"column:sanitized_text;type:text;not null"`
	SpamScore     int          `gorm:"column:spam_score;not null"`
	IsActive      bool         `gorm:"column:is_active;not null;index:idx_comments_parent_active,priority:2"`
	IsModerated   bool         `gorm:"column:is_moderated;not null"`
	ModeratedBy   *string      `gorm:"column:moderated_by;size:190"`
	ModeratedAt   *time.Time   `gorm:"column:moderated_at"`
	LikesCount    int          `gorm:"column:likes_count;not null"`
	RepliesCount  int          `gorm:"column:replies_count;not null"`
	IPAddress     string       `gorm:"column:ip_address;size:64;not null;index:idx_comments_ip_created,priority:1"`
	UserAgent     string       `gorm:"column:user_agent;size:512;not null"`
	CreatedAt     time.Time    `gorm:"column:created_at;not null;autoCreateTime:false;index:idx_comments_root_created,priority:2;index:idx_comments_ip_created,priority:2"`
	UpdatedAt     time.Time    `gorm:"column:updated_at;not null;autoUpdateTime:false"`
	Attachments   []Attachment `gorm:"foreignKey:CommentID;references:CommentID"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// IsRoot reports whether the comment starts a thread.
func (c Comment) IsRoot() bool {
	return c.ParentID == nil
}

// Repliable reports whether the comment may accept a reply.
func (c Comment) Repliable() bool {
	return c.IsActive && c.Depth < MaxDepth
}

// Like records one client's like of a comment. The (comment, ip) key allows at
// most one row per client; IsActive flips on every toggle.
type Like struct {
	CommentID string    `gorm:"column:comment_id;primaryKey;size:36;not null"`
	IPAddress string    `gorm:"column:ip_address;primaryKey;size:64;not null"`
	UserAgent string    `gorm:"column:user_agent;size:512;not null"`
	IsActive  bool      `gorm:"column:is_active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Like) TableName() string {
	return "comment_likes"
}

// ReportReason enumerates why a comment was reported.
type ReportReason string

const (
	ReasonSpam          ReportReason = "spam"
	ReasonOffensive     ReportReason = "offensive"
	ReasonInappropriate ReportReason = "inappropriate"
	ReasonOffTopic      ReportReason = "off_topic"
	ReasonOther         ReportReason = "other"
)

// Valid reports whether the reason is one of the known values.
func (r ReportReason) Valid() bool {
	switch r {
	case ReasonSpam, ReasonOffensive, ReasonInappropriate, ReasonOffTopic, ReasonOther:
		return true
	default:
		return false
	}
}

// Report is a reader complaint about a comment. Reports are never deduplicated.
type Report struct {
	ReportID        string     `gorm:"column:report_id;primaryKey;size:36;not null"`
	CommentID       string     `gorm:"column:comment_id;size:36;not null;index"`
	Reason          string     `gorm:"column:reason;size:32;not null"`
	Description     string     `gorm:"column:description;size:500;not null"`
	ReporterContact string     `gorm:"column:reporter_contact;size:320;not null"`
	ReporterIP      string     `gorm:"column:reporter_ip;size:64;not null"`
	IsResolved      bool       `gorm:"column:is_resolved;not null;index"`
	ResolvedBy      *string    `gorm:"column:resolved_by;size:190"`
	ResolvedAt      *time.Time `gorm:"column:resolved_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Report) TableName() string {
	return "comment_reports"
}

// AttachmentKind distinguishes the accepted upload families.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentText  AttachmentKind = "text"
)

// Attachment is metadata for a file kept in the blob store under StorageKey.
type Attachment struct {
	AttachmentID string         `gorm:"column:attachment_id;primaryKey;size:36;not null"`
	CommentID    string         `gorm:"column:comment_id;size:36;not null;index"`
	Kind         AttachmentKind `gorm:"column:kind;size:16;not null"`
	OriginalName string         `gorm:"column:original_name;size:255;not null"`
	ContentType  string         `gorm:"column:content_type;size:128;not null"`
	SizeBytes    int64          `gorm:"column:size_bytes;not null"`
	StorageKey   string         `gorm:"column:storage_key;size:512;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;autoCreateTime:false"`
}

// TableName provides the explicit table binding for GORM.
func (Attachment) TableName() string {
	return "comment_attachments"
}

// AttachmentInput describes an already uploaded file to bind to a new comment.
type AttachmentInput struct {
	Kind         AttachmentKind
	OriginalName string
	ContentType  string
	SizeBytes    int64
	StorageKey   string
}

// CreateRequest carries a comment submission.
type CreateRequest struct {
	AuthorName      string
	Email           string
	HomePage        string
	Text            string
	ParentID        string
	CaptchaToken    string
	CaptchaSolution string
	ClientIP        string
	UserAgent       string
	Attachments     []AttachmentInput
}

// ReportRequest carries a report submission.
type ReportRequest struct {
	CommentID       string
	Reason          ReportReason
	Description     string
	ReporterContact string
	ReporterIP      string
}

// LikeResult is the outcome of a toggle.
type LikeResult struct {
	Comment Comment
	Liked   bool
}

// ThreadNode is a comment with its visible replies in creation order.
type ThreadNode struct {
	Comment Comment
	Replies []*ThreadNode
}

// Contains reports whether commentID appears in the subtree rooted at n.
func (n *ThreadNode) Contains(commentID string) bool {
	if n == nil {
		return false
	}
	if n.Comment.CommentID == commentID {
		return true
	}
	for _, reply := range n.Replies {
		if reply.Contains(commentID) {
			return true
		}
	}
	return false
}

// Size counts the comments in the subtree rooted at n.
func (n *ThreadNode) Size() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, reply := range n.Replies {
		total += reply.Size()
	}
	return total
}

// Ordering names a root listing order.
type Ordering string

const (
	OrderCreatedAsc  Ordering = "created_at"
	OrderCreatedDesc Ordering = "-created_at"
	OrderLikesAsc    Ordering = "likes_count"
	OrderLikesDesc   Ordering = "-likes_count"
	OrderAuthor      Ordering = "author_name"
)

// ListQuery pages through active root comments. Zero-valued filters are off.
type ListQuery struct {
	Ordering Ordering
	Limit    int
	Offset   int

	// Search and Author match case-insensitive substrings of the sanitized
	// text and the author name.
	Search        string
	Author        string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	MinLikes      int
	HasReplies    *bool
}

// RootPage is one page of root comments.
type RootPage struct {
	Comments []Comment
	Total    int64
}

// ReportQuery filters the report queue.
type ReportQuery struct {
	IncludeResolved bool
	Limit           int
	Offset          int
}

// Preview is the rendering a submission would receive.
type Preview struct {
	SanitizedText   string
	WellFormedInput bool
}
