package comments

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced comment does not exist or is hidden.
	ErrNotFound = errors.New("comments: not found")
	// ErrParentNotRepliable indicates the parent is hidden or already at MaxDepth.
	ErrParentNotRepliable = errors.New("comments: parent not repliable")
	// ErrStoreUnavailable marks data store failures; only these are retried.
	ErrStoreUnavailable = errors.New("comments: store unavailable")
	// ErrReportNotFound indicates the referenced report does not exist.
	ErrReportNotFound = errors.New("comments: report not found")

	errMissingDatabase = errors.New("database handle is required")
	errMissingCaptcha  = errors.New("captcha verifier is required")
	errMissingLimiter  = errors.New("rate limiter is required")
)

// ValidationError reports a malformed submission field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("comments: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

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
	opServiceNew       = "comments.service.new"
	opCreate           = "comments.create"
	opPreview          = "comments.preview"
	opToggleLike       = "comments.toggle_like"
	opReport           = "comments.report"
	opListReports      = "comments.list_reports"
	opResolveReport    = "comments.resolve_report"
	opModerate         = "comments.moderate"
	opDelete           = "comments.delete"
	opThread           = "comments.thread"
	opListRoots        = "comments.list_roots"
	opFind             = "comments.find"
	opRecentByIP       = "comments.count_recent_by_ip"
	opListUnmoderated  = "comments.list_unmoderated"
	opRecomputeCounter = "comments.recompute_counters"
)

// newServiceError marks cause as a store failure.
func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: errors.Join(ErrStoreUnavailable, cause)}
}
