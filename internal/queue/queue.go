package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// QueueBatchJobs carries wake-up nudges from batch intake to the worker.
// The job record itself lives in postgres; the queue entry only cuts the
// latency until the next worker pass.
const QueueBatchJobs = "queue:batch_jobs"

// NewClient connects to redis and verifies the connection. The same client
// is shared by the nudge queue and the session store.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// NudgeBatch signals the worker that a new batch job was enqueued.
func (q *Queue) NudgeBatch(ctx context.Context, jobID uuid.UUID) error {
	return q.client.RPush(ctx, QueueBatchJobs, jobID.String()).Err()
}

// WaitBatchNudge blocks up to timeout for a nudge. Returns the nudging job
// id, or "" when the timeout elapsed with no nudge.
func (q *Queue) WaitBatchNudge(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueBatchJobs).Result()
	if err == redis.Nil {
		return "", nil // nothing queued
	}
	if err != nil {
		return "", fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return "", fmt.Errorf("unexpected redis response")
	}

	return result[1], nil
}

// Length reports how many nudges are pending.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueBatchJobs).Result()
}
