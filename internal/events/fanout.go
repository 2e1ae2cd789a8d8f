package events

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Fanout publishes every event to each of its publishers in order. A failing
// publisher is logged and does not stop delivery to the rest.
type Fanout struct {
	publishers []Publisher
	logger     *zap.Logger
}

// NewFanout combines publishers. Nil entries are skipped.
func NewFanout(logger *zap.Logger, publishers ...Publisher) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Publisher, 0, len(publishers))
	for _, publisher := range publishers {
		if publisher != nil {
			kept = append(kept, publisher)
		}
	}
	return &Fanout{publishers: kept, logger: logger}
}

// Publish implements Publisher and joins the failures of every publisher.
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	var failures []error
	for _, publisher := range f.publishers {
		if err := publisher.Publish(ctx, event); err != nil {
			f.logger.Warn("event publish failed",
				zap.String("type", string(event.Type)),
				zap.String("comment_id", event.CommentID),
				zap.Error(err))
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}
