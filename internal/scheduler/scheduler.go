package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePublishPost = "publish:post"
	publishQueue        = "default"
	// Three attempts total: the first run plus two retries.
	publishMaxRetry = 2
)

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}

// Scheduler owns the single pending delayed job per post. Both methods are
// idempotent with respect to the post id.
type Scheduler interface {
	Schedule(ctx context.Context, postID int64, dueAt time.Time) error
	Cancel(ctx context.Context, postID int64) error
}

type asynqScheduler struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewScheduler(client *asynq.Client, inspector *asynq.Inspector) Scheduler {
	return &asynqScheduler{client: client, inspector: inspector}
}

func taskID(postID int64) string {
	return fmt.Sprintf("post:%d", postID)
}

// Schedule replaces any pending job for the post and enqueues a new one for
// dueAt. The task id keyed on the post id is what guarantees at most one
// pending job per post.
func (s *asynqScheduler) Schedule(ctx context.Context, postID int64, dueAt time.Time) error {
	if err := s.Cancel(ctx, postID); err != nil {
		return err
	}

	payload, err := json.Marshal(PublishPostPayload{PostID: postID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishPost, payload)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.TaskID(taskID(postID)),
		asynq.ProcessAt(dueAt),
		asynq.MaxRetry(publishMaxRetry),
		asynq.Queue(publishQueue),
	)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	slog.Info(fmt.Sprintf("publish job scheduled for post %d at %s", postID, dueAt.Format(time.RFC3339)))
	return nil
}

// Cancel removes a pending job if present; a job that already ran or never
// existed is a no-op.
func (s *asynqScheduler) Cancel(ctx context.Context, postID int64) error {
	err := s.inspector.DeleteTask(publishQueue, taskID(postID))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil
		}
		slog.Info(err.Error())
		return err
	}
	return nil
}

// RetryDelay implements the backoff contract: first retry after one minute,
// doubling each time.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := time.Minute
	for i := 1; i < n; i++ {
		delay *= 2
	}
	return delay
}
