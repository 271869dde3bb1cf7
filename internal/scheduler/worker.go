package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postpilot/internal/publisher"
)

// Worker consumes publish jobs from the queue and runs the fan-out publisher.
type Worker struct {
	pub *publisher.Publisher
}

func NewWorker(pub *publisher.Publisher) *Worker {
	return &Worker{pub: pub}
}

// HandlePublishTask decides whether the attempt should be retried. Permanent
// target failures are terminal state, already persisted; only transient
// failures bubble up so asynq re-runs the job with backoff.
func (w *Worker) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid publish payload: %v: %w", err, asynq.SkipRetry)
	}

	results, err := w.pub.Publish(ctx, payload.PostID)
	if err != nil {
		if errors.Is(err, publisher.ErrAlreadyPublished) || errors.Is(err, publisher.ErrAlreadyClaimed) {
			slog.Info(fmt.Sprintf("publish job for post %d: %v", payload.PostID, err))
			return nil
		}
		if errors.Is(err, publisher.ErrPostNotFound) {
			return fmt.Errorf("post %d: %v: %w", payload.PostID, err, asynq.SkipRetry)
		}
		return err
	}

	for _, r := range results {
		if !r.OK && r.Transient {
			if lastAttempt(ctx) {
				if err := w.pub.Abandon(ctx, payload.PostID); err != nil {
					slog.Info(err.Error())
				}
			}
			return fmt.Errorf("post %d: transient failure on %s: %s", payload.PostID, r.Platform, r.Error)
		}
	}

	return nil
}

// lastAttempt reports whether this delivery has no retries left. The
// publisher leaves transiently failed posts claimable, so the final attempt
// must mark them failed before asynq archives the task.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}
