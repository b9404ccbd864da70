// Package queue implements the Postgres-backed work queue from spec §6:
// Postgres owns the durable record of what work exists and its delivery
// state, claimed with SKIP LOCKED for at-least-once delivery across
// concurrently polling workers; Redis pub/sub is layered on top purely as
// a wake signal so a waiting worker doesn't have to poll at full interval
// when something new lands, mirroring the escalation engine's
// poll-plus-pubsub pattern.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Stage identifies one of the four pipeline work queues.
type Stage string

const (
	StageCollect        Stage = "collect"
	StageProcess        Stage = "process"
	StagePublish        Stage = "publish"
	StageTakedownStage2 Stage = "takedown_stage2"
)

func wakeChannel(stage Stage) string {
	return "forumblog:queue:" + string(stage)
}

// Item is a single unit of work claimed from a stage's queue.
type Item struct {
	ID        uuid.UUID
	Stage     Stage
	PostID    uuid.UUID
	Attempt   int
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Queue is a Postgres-backed FIFO-per-stage work queue with a Redis
// pub/sub wake signal.
type Queue struct {
	pool   *pgxpool.Pool
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a Queue backed by pool and rdb.
func New(pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{pool: pool, rdb: rdb, logger: logger}
}

// Enqueue schedules a new work item for stage, optionally delayed until
// scheduledAt (zero value means "now"). It publishes a wake notification
// so an idle worker picks it up without waiting for its next poll tick.
func (q *Queue) Enqueue(ctx context.Context, stage Stage, postID uuid.UUID, payload any, scheduledAt time.Time) (uuid.UUID, error) {
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshalling work item payload: %w", err)
	}

	var id uuid.UUID
	err = q.pool.QueryRow(ctx, `
		INSERT INTO work_items (stage, post_id, payload, scheduled_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		stage, postID, body, scheduledAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueueing %s work item: %w", stage, err)
	}

	if q.rdb != nil {
		if err := q.rdb.Publish(ctx, wakeChannel(stage), id.String()).Err(); err != nil {
			q.logger.Warn("publishing queue wake signal", "stage", stage, "error", err)
		}
	}
	return id, nil
}

// Claim atomically claims up to one pending, due work item for stage,
// using SKIP LOCKED so concurrent workers never double-claim the same
// row. claimedBy identifies the claiming worker for observability.
func (q *Queue) Claim(ctx context.Context, stage Stage, claimedBy string) (*Item, error) {
	row := q.pool.QueryRow(ctx, `
		UPDATE work_items SET claimed_at = now(), claimed_by = $2, attempt = attempt + 1
		WHERE id = (
			SELECT id FROM work_items
			WHERE stage = $1 AND status = 'pending' AND scheduled_at <= now()
			ORDER BY scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, stage, post_id, attempt, payload, created_at`,
		stage, claimedBy,
	)

	var item Item
	err := row.Scan(&item.ID, &item.Stage, &item.PostID, &item.Attempt, &item.Payload, &item.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming %s work item: %w", stage, err)
	}
	return &item, nil
}

// Complete marks a claimed item done.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.pool.Exec(ctx, `UPDATE work_items SET status = 'done' WHERE id = $1`, id)
	return err
}

// Fail marks a claimed item failed outright (no further attempts).
func (q *Queue) Fail(ctx context.Context, id uuid.UUID) error {
	_, err := q.pool.Exec(ctx, `UPDATE work_items SET status = 'failed' WHERE id = $1`, id)
	return err
}

// Retry releases a claimed item back to pending, rescheduled for
// retryAt, so the delay chosen by the caller determines when it becomes
// claimable again.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID, retryAt time.Time) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE work_items SET status = 'pending', scheduled_at = $2, claimed_at = NULL, claimed_by = NULL
		WHERE id = $1`, id, retryAt)
	return err
}

// Depth returns the number of pending, due items for stage, used by the
// SLA/queue-depth alerting scan.
func (q *Queue) Depth(ctx context.Context, stage Stage) (int, error) {
	var depth int
	err := q.pool.QueryRow(ctx, `
		SELECT count(*) FROM work_items WHERE stage = $1 AND status = 'pending' AND scheduled_at <= now()`,
		stage,
	).Scan(&depth)
	return depth, err
}

// Wait blocks until either a wake notification arrives for stage, the
// poll interval elapses, or ctx is cancelled. Workers call Claim
// regardless of which branch fired; Wait only avoids busy-polling.
func (q *Queue) Wait(ctx context.Context, stage Stage, pollInterval time.Duration) {
	if q.rdb == nil {
		select {
		case <-ctx.Done():
		case <-time.After(pollInterval):
		}
		return
	}

	pubsub := q.rdb.Subscribe(ctx, wakeChannel(stage))
	defer pubsub.Close()

	select {
	case <-ctx.Done():
	case <-pubsub.Channel():
	case <-time.After(pollInterval):
	}
}
