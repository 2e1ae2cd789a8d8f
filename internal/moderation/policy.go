package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/comments"
	"github.com/MarcoPoloResearchLab/commentary/internal/spam"
	"go.uber.org/zap"
)

const (
	// DefaultThreshold is the score above which a comment is hidden automatically.
	DefaultThreshold = 80
	// VelocityPenalty is added when an IP posts more than the velocity limit
	// within the velocity window.
	VelocityPenalty = 20

	defaultVelocityWindow = 10 * time.Minute
	defaultVelocityLimit  = 3
	defaultLookback       = time.Hour
	defaultBatchSize      = 200
)

var (
	errMissingStore     = errors.New("comment store is required")
	errInvalidThreshold = errors.New("threshold must be between 0 and 100")
)

// Action is the outcome of an evaluation.
type Action string

const (
	ActionNone     Action = "none"
	ActionAutoHide Action = "auto_hide"
)

// Decision reports what Evaluate did and the score it was based on.
type Decision struct {
	Action Action
	Score  int
}

// CommentStore is the slice of the comment service the policy acts on.
type CommentStore interface {
	Find(ctx context.Context, commentID string) (comments.Comment, error)
	Moderate(ctx context.Context, commentID, moderatorID string, hide bool) (comments.Comment, error)
	CountRecentByIP(ctx context.Context, ip string, since, until time.Time) (int64, error)
	ListUnmoderatedSince(ctx context.Context, since time.Time, limit int) ([]comments.Comment, error)
}

// PolicyConfig describes the auto-moderation policy.
type PolicyConfig struct {
	Store          CommentStore
	Scorer         comments.SpamScorer
	Threshold      int
	VelocityWindow time.Duration
	VelocityLimit  int64
	Lookback       time.Duration
	BatchSize      int
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Policy hides comments whose spam score crosses the threshold. Every decision
// goes through CommentStore.Moderate, which is idempotent, so evaluating the
// same comment more than once is harmless.
type Policy struct {
	store          CommentStore
	scorer         comments.SpamScorer
	threshold      int
	velocityWindow time.Duration
	velocityLimit  int64
	lookback       time.Duration
	batchSize      int
	clock          func() time.Time
	logger         *zap.Logger
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Evaluated int
	Hidden    int
	Failed    int
}

// NewPolicy validates cfg and applies defaults.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Threshold < 0 || cfg.Threshold > spam.MaxScore {
		return nil, errInvalidThreshold
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = spam.NewScorer()
	}
	velocityWindow := cfg.VelocityWindow
	if velocityWindow <= 0 {
		velocityWindow = defaultVelocityWindow
	}
	velocityLimit := cfg.VelocityLimit
	if velocityLimit <= 0 {
		velocityLimit = defaultVelocityLimit
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		store:          cfg.Store,
		scorer:         scorer,
		threshold:      threshold,
		velocityWindow: velocityWindow,
		velocityLimit:  velocityLimit,
		lookback:       lookback,
		batchSize:      batchSize,
		clock:          clock,
		logger:         logger,
	}, nil
}

// Evaluate scores a comment and hides it when the score is above the
// threshold. Hidden or already moderated comments are left alone: a
// moderator's decision is never overridden.
func (p *Policy) Evaluate(ctx context.Context, comment comments.Comment) (Decision, error) {
	if !comment.IsActive || comment.IsModerated {
		return Decision{Action: ActionNone}, nil
	}

	score, err := p.score(ctx, comment)
	if err != nil {
		return Decision{}, err
	}
	if score <= p.threshold {
		return Decision{Action: ActionNone, Score: score}, nil
	}

	if _, err := p.store.Moderate(ctx, comment.CommentID, "", true); err != nil {
		return Decision{}, fmt.Errorf("moderation: hide %s: %w", comment.CommentID, err)
	}
	p.logger.Info("comment auto-hidden",
		zap.String("comment_id", comment.CommentID),
		zap.Int("score", score),
		zap.Int("threshold", p.threshold))
	return Decision{Action: ActionAutoHide, Score: score}, nil
}

// EvaluateID loads a comment and evaluates it. A comment that is gone or
// already hidden yields ActionNone.
func (p *Policy) EvaluateID(ctx context.Context, commentID string) (Decision, error) {
	comment, err := p.store.Find(ctx, commentID)
	if errors.Is(err, comments.ErrNotFound) {
		return Decision{Action: ActionNone}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("moderation: load %s: %w", commentID, err)
	}
	return p.Evaluate(ctx, comment)
}

// Sweep evaluates every unmoderated visible comment created within the
// lookback window. Failures on single comments are logged and skipped; only a
// failure to list candidates aborts the sweep.
func (p *Policy) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	since := p.clock().Add(-p.lookback)
	seen := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch, err := p.store.ListUnmoderatedSince(ctx, since, p.batchSize)
		if err != nil {
			p.logger.Error("moderation sweep failed", zap.Error(err))
			return report, fmt.Errorf("moderation: list candidates: %w", err)
		}

		fresh := 0
		for _, comment := range batch {
			if _, ok := seen[comment.CommentID]; ok {
				continue
			}
			seen[comment.CommentID] = struct{}{}
			fresh++

			decision, err := p.Evaluate(ctx, comment)
			report.Evaluated++
			if err != nil {
				report.Failed++
				p.logger.Warn("moderation sweep item failed",
					zap.String("comment_id", comment.CommentID),
					zap.Error(err))
				continue
			}
			if decision.Action == ActionAutoHide {
				report.Hidden++
			}
		}

		if fresh == 0 || len(batch) < p.batchSize {
			break
		}
		since = batch[len(batch)-1].CreatedAt
	}

	p.logger.Info("moderation sweep finished",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("hidden", report.Hidden),
		zap.Int("failed", report.Failed))
	return report, nil
}

// RunSweeps calls Sweep every interval until ctx is done.
func (p *Policy) RunSweeps(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.Sweep(ctx)
		}
	}
}

func (p *Policy) score(ctx context.Context, comment comments.Comment) (int, error) {
	score := p.scorer.Score(spam.Submission{
		Text:   strings.TrimSpace(comment.RawText),
		Author: comment.AuthorName,
		Email:  comment.Email,
		IP:     comment.IPAddress,
	})
	if comment.IPAddress == "" {
		return score, nil
	}

	// the window closes at creation so later posts never count against an older comment.
	recent, err := p.store.CountRecentByIP(ctx, comment.IPAddress, comment.CreatedAt.Add(-p.velocityWindow), comment.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("moderation: velocity for %s: %w", comment.CommentID, err)
	}
	if recent > p.velocityLimit {
		score += VelocityPenalty
	}
	return spam.Clamp(score), nil
}
