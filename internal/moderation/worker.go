package moderation

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/commentary/internal/events"
	"go.uber.org/zap"
)

const defaultWorkers = 2

var (
	errMissingSource    = errors.New("event source is required")
	errMissingEvaluator = errors.New("evaluator is required")
)

// EventSource delivers committed comment events.
type EventSource interface {
	Subscribe(ctx context.Context, eventTypes ...events.Type) (<-chan events.Event, func())
}

// Evaluator decides on a single comment.
type Evaluator interface {
	EvaluateID(ctx context.Context, commentID string) (Decision, error)
}

// WorkerConfig describes the asynchronous moderation worker.
type WorkerConfig struct {
	Source    EventSource
	Evaluator Evaluator
	Workers   int
	Logger    *zap.Logger
}

// Worker evaluates newly created comments off the request path. Events that
// arrive while the subscription buffer is full are lost; the periodic sweep
// picks those comments up later.
type Worker struct {
	source    EventSource
	evaluator Evaluator
	workers   int
	logger    *zap.Logger
}

// NewWorker validates cfg.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.Evaluator == nil {
		return nil, errMissingEvaluator
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{source: cfg.Source, evaluator: cfg.Evaluator, workers: workers, logger: logger}, nil
}

// Run consumes comment.created events until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	stream, cleanup := w.source.Subscribe(ctx, events.TypeCommentCreated)
	defer cleanup()

	var wg sync.WaitGroup
	for index := 0; index < w.workers; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx, stream)
		}()
	}
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context, stream <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			if _, err := w.evaluator.EvaluateID(ctx, event.CommentID); err != nil {
				w.logger.Warn("moderation evaluation failed",
					zap.String("comment_id", event.CommentID),
					zap.Error(err))
			}
		}
	}
}
