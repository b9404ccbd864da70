// Package scheduler wires the three queue-consuming worker pools (process,
// publish, takedown_stage2), the periodic collection tick, the queue-depth
// alerting loop, and the takedown SLA scan into the single long-running
// process described by spec §5: one scheduler dequeues and dispatches to
// per-stage pools, work within a pool runs concurrently, and pools never
// block each other.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devco/forumblog-pipeline/internal/alerting"
	"github.com/devco/forumblog-pipeline/internal/telemetry"
	"github.com/devco/forumblog-pipeline/pkg/collector"
	"github.com/devco/forumblog-pipeline/pkg/processor"
	"github.com/devco/forumblog-pipeline/pkg/publisher"
	"github.com/devco/forumblog-pipeline/pkg/queue"
	"github.com/devco/forumblog-pipeline/pkg/takedown"
)

// Deps bundles every long-lived handle and stage the scheduler dispatches
// to. It's built once in cmd/pipeline/main.go and passed to Run.
type Deps struct {
	Queue     *queue.Queue
	Collector *collector.Collector
	Processor *processor.Processor
	Publisher *publisher.Publisher
	Takedown  *takedown.Coordinator
	Alerts    *alerting.Notifier
	Logger    *slog.Logger

	CollectPolicy      collector.Policy
	CollectInterval    time.Duration
	CollectConcurrency int
	ProcessConcurrency int
	PublishConcurrency int
	SLAScanInterval    time.Duration

	// QueueDepthAlertThreshold and QueueDepthAlertWindow implement the
	// "scaling alerts" requirement: a pool's pending depth must exceed
	// the threshold continuously for the window before it alerts, so a
	// brief burst doesn't page anyone.
	QueueDepthAlertThreshold int
	QueueDepthAlertWindow    time.Duration
}

const (
	pollInterval       = 5 * time.Second
	takedownPoolWidth  = 1
	defaultSLAInterval = 15 * time.Minute
)

// Run blocks, running every worker pool and periodic loop until ctx is
// cancelled or one of them returns an unrecoverable error.
func Run(ctx context.Context, d Deps) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return collectLoop(ctx, d) })

	g.Go(func() error {
		return workerPool(ctx, d.Queue, queue.StageProcess, d.ProcessConcurrency, d.Logger, func(ctx context.Context, item *queue.Item) error {
			return d.Processor.Process(ctx, item.PostID)
		})
	})

	g.Go(func() error {
		return workerPool(ctx, d.Queue, queue.StagePublish, d.PublishConcurrency, d.Logger, func(ctx context.Context, item *queue.Item) error {
			return d.Publisher.Publish(ctx, item.PostID)
		})
	})

	g.Go(func() error {
		return workerPool(ctx, d.Queue, queue.StageTakedownStage2, takedownPoolWidth, d.Logger, func(ctx context.Context, item *queue.Item) error {
			return d.Takedown.DeleteWithRetry(ctx, item.PostID)
		})
	})

	g.Go(func() error { return slaScanLoop(ctx, d) })
	g.Go(func() error { return queueDepthLoop(ctx, d) })

	return g.Wait()
}

// queueDepthLoop polls each stage's pending depth, keeps the Prometheus
// gauge current, and alerts once per sustained breach (depth above
// threshold continuously for the configured window) rather than once per
// poll tick.
func queueDepthLoop(ctx context.Context, d Deps) error {
	threshold := d.QueueDepthAlertThreshold
	window := d.QueueDepthAlertWindow
	if threshold <= 0 || window <= 0 {
		threshold, window = 0, 0
	}

	// StageCollect is intentionally excluded: the Collector runs on its own
	// timer (spec §4.1 "periodically pull"), never dequeuing work_items, so
	// its depth is always zero.
	stages := []queue.Stage{queue.StageProcess, queue.StagePublish, queue.StageTakedownStage2}
	breachSince := make(map[queue.Stage]time.Time, len(stages))
	alerted := make(map[queue.Stage]bool, len(stages))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			for _, stage := range stages {
				depth, err := d.Queue.Depth(ctx, stage)
				if err != nil {
					d.Logger.Error("reading queue depth", "stage", stage, "error", err)
					continue
				}
				telemetry.QueueDepth.WithLabelValues(string(stage)).Set(float64(depth))

				if threshold == 0 {
					continue
				}
				if depth <= threshold {
					delete(breachSince, stage)
					alerted[stage] = false
					continue
				}
				since, breaching := breachSince[stage]
				if !breaching {
					breachSince[stage] = now
					continue
				}
				if !alerted[stage] && now.Sub(since) >= window {
					alerted[stage] = true
					if d.Alerts != nil {
						if err := d.Alerts.QueueDepth(ctx, string(stage), depth); err != nil {
							d.Logger.Warn("posting queue depth alert", "stage", stage, "error", err)
						}
					}
				}
			}
		}
	}
}

// collectLoop runs the Collector on a fixed interval. Unlike the other
// stages it isn't itself a queue consumer — it's what seeds the process
// queue in the first place.
func collectLoop(ctx context.Context, d Deps) error {
	interval := d.CollectInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := d.Collector.Run(ctx, d.CollectPolicy); err != nil {
			d.Logger.Error("collection cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func slaScanLoop(ctx context.Context, d Deps) error {
	interval := d.SLAScanInterval
	if interval <= 0 {
		interval = defaultSLAInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Takedown.ScanSLA(ctx); err != nil {
				d.Logger.Error("takedown SLA scan failed", "error", err)
			}
		}
	}
}

// workerPool runs concurrency workers claiming from stage, each handling
// one item at a time via handle. Only the handler function and
// concurrency vary across the three stage pools; the claim/wait/complete
// bookkeeping is identical.
func workerPool(ctx context.Context, q *queue.Queue, stage queue.Stage, concurrency int, logger *slog.Logger, handle func(ctx context.Context, item *queue.Item) error) error {
	if concurrency < 1 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		workerID := i
		g.Go(func() error {
			return worker(ctx, q, stage, workerID, logger, handle)
		})
	}
	return g.Wait()
}

func worker(ctx context.Context, q *queue.Queue, stage queue.Stage, workerID int, logger *slog.Logger, handle func(ctx context.Context, item *queue.Item) error) error {
	claimedBy := workerName(stage, workerID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := q.Claim(ctx, stage, claimedBy)
		if err != nil {
			logger.Error("claiming work item", "stage", stage, "worker", claimedBy, "error", err)
			q.Wait(ctx, stage, pollInterval)
			continue
		}
		if item == nil {
			q.Wait(ctx, stage, pollInterval)
			continue
		}

		if err := handle(ctx, item); err != nil {
			logger.Error("handling work item", "stage", stage, "worker", claimedBy, "item_id", item.ID, "error", err)
			if err := q.Retry(ctx, item.ID, time.Now().Add(pollInterval)); err != nil {
				logger.Error("retrying work item", "item_id", item.ID, "error", err)
			}
			continue
		}

		if err := q.Complete(ctx, item.ID); err != nil {
			logger.Error("completing work item", "item_id", item.ID, "error", err)
		}
	}
}

func workerName(stage queue.Stage, workerID int) string {
	return string(stage) + "-worker-" + strconv.Itoa(workerID)
}
