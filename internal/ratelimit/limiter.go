package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind names an operation class that carries its own limit.
type Kind string

const (
	KindComment Kind = "comment"
	KindReply   Kind = "reply"
	KindLike    Kind = "like"
	KindCaptcha Kind = "captcha"
	KindPreview Kind = "preview"
)

// Kinds lists every known operation class.
var Kinds = []Kind{KindComment, KindReply, KindLike, KindCaptcha, KindPreview}

var (
	// ErrUnavailable indicates the counter store could not be reached.
	ErrUnavailable = errors.New("ratelimit: counter store unavailable")
	// ErrUnknownKind indicates no policy is configured for the requested kind.
	ErrUnknownKind = errors.New("ratelimit: unknown kind")
	// ErrInvalidPolicy indicates a policy with a non-positive limit or window.
	ErrInvalidPolicy = errors.New("ratelimit: invalid policy")
)

// Policy is a fixed-window allowance: at most Limit hits per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Validate reports whether the policy can be enforced.
func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", ErrInvalidPolicy)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidPolicy)
	}
	return nil
}

// Decision is the outcome of a single counted hit.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter atomically counts a hit against key and decides whether it fits policy.
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy) (Decision, error)
}

// Policies maps each operation class to its allowance.
type Policies map[Kind]Policy

// DefaultPolicies returns the canonical allowances.
func DefaultPolicies() Policies {
	return Policies{
		KindComment: {Limit: 10, Window: time.Hour},
		KindReply:   {Limit: 20, Window: time.Minute},
		KindLike:    {Limit: 30, Window: time.Minute},
		KindCaptcha: {Limit: 20, Window: time.Minute},
		KindPreview: {Limit: 30, Window: time.Minute},
	}
}

// Validate checks every configured policy.
func (p Policies) Validate() error {
	for kind, policy := range p {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	return nil
}

// ExceededError is returned when a caller has used up its allowance.
type ExceededError struct {
	Kind       Kind
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("ratelimit: %s limit exceeded, retry after %ds", e.Kind, e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func (e *ExceededError) RetryAfterSeconds() int {
	seconds := int(math.Ceil(e.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Key builds the counter key for an operation class and subject.
func Key(kind Kind, subject string) string {
	return string(kind) + ":" + subject
}

// Check counts one hit of kind for subject. It returns *ExceededError when the
// allowance is used up and an error wrapping ErrUnavailable when the limiter fails.
func Check(ctx context.Context, limiter Limiter, policies Policies, kind Kind, subject string) error {
	policy, ok := policies[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	decision, err := limiter.Allow(ctx, Key(kind, subject), policy)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	if !decision.Allowed {
		return &ExceededError{Kind: kind, RetryAfter: decision.RetryAfter}
	}
	return nil
}
