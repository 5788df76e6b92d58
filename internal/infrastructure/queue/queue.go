package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis keys backing the durable lead queue.
const (
	keyHigh       = "leads:high"
	keyNormal     = "leads:normal"
	keyDeadLetter = "leads:failed"
)

// Priority classes for queued leads.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Job is one queued lead awaiting its auction run. Delivery is
// at-least-once; the auction engine's claim step deduplicates side effects.
type Job struct {
	ID         uuid.UUID  `json:"id"`
	LeadID     uuid.UUID  `json:"lead_id"`
	Priority   Priority   `json:"priority"`
	Attempts   int        `json:"attempts"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// ErrEmpty reports that no job was available within the poll window.
var ErrEmpty = errors.New("queue is empty")

// LeadQueue is a durable FIFO queue of lead IDs with two priority classes.
type LeadQueue struct {
	client        *redis.Client
	logger        *zap.Logger
	pollTimeout   time.Duration
	maxAttempts   int
	deadletterCap int64
}

// NewLeadQueue creates the queue over an existing redis client.
func NewLeadQueue(client *redis.Client, logger *zap.Logger, pollTimeout time.Duration, maxAttempts, deadletterCap int) *LeadQueue {
	return &LeadQueue{
		client:        client,
		logger:        logger,
		pollTimeout:   pollTimeout,
		maxAttempts:   maxAttempts,
		deadletterCap: int64(deadletterCap),
	}
}

// Enqueue appends a lead to its priority class.
func (q *LeadQueue) Enqueue(ctx context.Context, leadID uuid.UUID, priority Priority) (*Job, error) {
	job := &Job{
		ID:         uuid.New(),
		LeadID:     leadID,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, job); err != nil {
		return nil, err
	}

	q.logger.Debug("lead enqueued",
		zap.String("lead_id", leadID.String()),
		zap.String("priority", string(priority)))
	return job, nil
}

func (q *LeadQueue) push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := keyNormal
	if job.Priority == PriorityHigh {
		key = keyHigh
	}
	if err := q.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue lead: %w", err)
	}
	return nil
}

// Dequeue blocks up to the poll timeout for the next job, preferring the
// high-priority list. Returns ErrEmpty when the window elapses.
func (q *LeadQueue) Dequeue(ctx context.Context) (*Job, error) {
	// BRPOP checks keys in argument order, so high drains first.
	result, err := q.client.BRPop(ctx, q.pollTimeout, keyHigh, keyNormal).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("failed to dequeue lead: %w", err)
	}

	// result is [key, value]
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Retry re-enqueues a failed job after an exponential backoff, or moves it
// to the dead-letter list once attempts are exhausted. The backoff sleep
// respects context cancellation.
func (q *LeadQueue) Retry(ctx context.Context, job *Job, cause error) error {
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}

	if job.Attempts >= q.maxAttempts {
		return q.deadLetter(ctx, job)
	}

	backoff := time.Duration(1<<uint(job.Attempts-1)) * time.Second
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return ctx.Err()
	}

	q.logger.Warn("requeueing failed lead job",
		zap.String("lead_id", job.LeadID.String()),
		zap.Int("attempt", job.Attempts),
		zap.Duration("backoff", backoff))
	return q.push(ctx, job)
}

func (q *LeadQueue) deadLetter(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.FailedAt = &now

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, keyDeadLetter, data)
	pipe.LTrim(ctx, keyDeadLetter, 0, q.deadletterCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}

	q.logger.Error("lead job dead-lettered",
		zap.String("lead_id", job.LeadID.String()),
		zap.Int("attempts", job.Attempts),
		zap.String("last_error", job.LastError))
	return nil
}

// DeadLetters returns up to limit most recently failed jobs.
func (q *LeadQueue) DeadLetters(ctx context.Context, limit int64) ([]*Job, error) {
	raw, err := q.client.LRange(ctx, keyDeadLetter, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead-letter list: %w", err)
	}

	jobs := make([]*Job, 0, len(raw))
	for _, item := range raw {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			q.logger.Warn("skipping malformed dead-letter entry", zap.Error(err))
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Depth returns the combined length of both priority lists; upstream uses it
// against the high-water mark to shed load.
func (q *LeadQueue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	high := pipe.LLen(ctx, keyHigh)
	normal := pipe.LLen(ctx, keyNormal)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return high.Val() + normal.Val(), nil
}
