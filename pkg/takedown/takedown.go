// Package takedown implements the 2-stage, 72-hour-SLA takedown
// coordinator from spec §4.4: initiation unpublishes and schedules
// deletion, deletion runs best-effort with its own retry schedule, and a
// periodic scan flags posts approaching or past their deadline.
package takedown

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/devco/forumblog-pipeline/internal/alerting"
	"github.com/devco/forumblog-pipeline/internal/audit"
	"github.com/devco/forumblog-pipeline/internal/errs"
	"github.com/devco/forumblog-pipeline/internal/retry"
	"github.com/devco/forumblog-pipeline/internal/telemetry"
	"github.com/devco/forumblog-pipeline/pkg/blog"
	"github.com/devco/forumblog-pipeline/pkg/post"
	"github.com/devco/forumblog-pipeline/pkg/queue"
	"github.com/devco/forumblog-pipeline/pkg/store"
)

const (
	sla         = 72 * time.Hour
	slaWarning  = 6 * time.Hour
	stage2Limit = 5
)

var stage2Backoff = retry.Backoff{Base: 2, Min: 5 * time.Minute, Max: 80 * time.Minute}

// Coordinator executes takedown initiation, deletion, cancellation, and
// SLA monitoring.
type Coordinator struct {
	blog   *blog.Client
	store  *store.Store
	queue  *queue.Queue
	audit  *audit.Writer
	alerts *alerting.Notifier
	logger *slog.Logger
}

// New creates a Coordinator.
func New(blogClient *blog.Client, s *store.Store, q *queue.Queue, auditWriter *audit.Writer, alerts *alerting.Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{blog: blogClient, store: s, queue: q, audit: auditWriter, alerts: alerts, logger: logger}
}

// Initiate begins stage 1: unpublish (best effort), mark the post
// takedown_pending, and schedule stage 2 at now+72h.
func (c *Coordinator) Initiate(ctx context.Context, postID uuid.UUID) error {
	current, err := c.store.Get(ctx, postID)
	if err != nil {
		return fmt.Errorf("loading post %s: %w", postID, err)
	}
	if current.TakedownStatus != post.TakedownActive {
		return errs.Newf(errs.KindValidation, "post %s is not active (status=%s)", postID, current.TakedownStatus)
	}

	var unpublishErr error
	if current.BlogPostID != "" {
		_, unpublishErr = c.blog.UnpublishPost(ctx, current.BlogPostID)
		if unpublishErr != nil {
			c.logger.Warn("unpublish call failed during takedown initiation, proceeding anyway", "post_id", postID, "error", unpublishErr)
		}
	}

	deadline := time.Now().UTC().Add(sla)
	if _, err := c.store.TransitionTakedown(ctx, postID, post.TakedownPending, &deadline); err != nil {
		return fmt.Errorf("marking post %s takedown_pending: %w", postID, err)
	}

	if _, err := c.queue.Enqueue(ctx, queue.StageTakedownStage2, postID, map[string]string{"post_id": postID.String()}, deadline); err != nil {
		return fmt.Errorf("scheduling takedown stage 2 for %s: %w", postID, err)
	}

	metadata := fmt.Sprintf(`{"deadline":%q}`, deadline.Format(time.RFC3339))
	status := "success"
	errMsg := ""
	if unpublishErr != nil {
		status = "unpublish_failed"
		errMsg = unpublishErr.Error()
	}
	c.audit.Log(audit.Entry{
		PostID:       postID,
		ServiceName:  "takedown",
		Status:       status,
		ErrorMessage: errMsg,
		Metadata:     []byte(metadata),
	})
	return nil
}

// Delete runs stage 2: best-effort blog-post deletion, then marks the
// post removed. If the post was cancelled back to active in the
// meantime, Delete is a no-op. DeleteWithRetry wraps it in the
// stage2Backoff retry schedule.
func (c *Coordinator) Delete(ctx context.Context, postID uuid.UUID) error {
	current, err := c.store.Get(ctx, postID)
	if err != nil {
		return fmt.Errorf("loading post %s: %w", postID, err)
	}
	if current.TakedownStatus != post.TakedownPending {
		c.logger.Debug("takedown cancelled before stage 2 ran, skipping", "post_id", postID, "status", current.TakedownStatus)
		return nil
	}

	if current.BlogPostID != "" {
		if err := c.blog.DeletePost(ctx, current.BlogPostID); err != nil {
			c.logger.Warn("best-effort blog post deletion failed", "post_id", postID, "error", err)
		}
	}

	if _, err := c.store.TransitionTakedown(ctx, postID, post.TakedownRemoved, nil); err != nil {
		return fmt.Errorf("marking post %s removed: %w", postID, err)
	}

	c.audit.Log(audit.Entry{PostID: postID, ServiceName: "takedown", Status: "success"})
	return nil
}

// DeleteWithRetry runs Delete through the stage-2 retry schedule
// (5 attempts, waiting 5/10/20/40 minutes between them), flagging the post for
// manual intervention on exhaustion rather than leaving it silently
// stuck in takedown_pending.
func (c *Coordinator) DeleteWithRetry(ctx context.Context, postID uuid.UUID) error {
	err := retry.Do(ctx, stage2Limit, stage2Backoff, isRetryable, func(ctx context.Context, attempt int) error {
		return c.Delete(ctx, postID)
	})
	if err != nil {
		if flagErr := c.store.FlagManualIntervention(ctx, postID); flagErr != nil {
			c.logger.Error("flagging post for manual intervention", "post_id", postID, "error", flagErr)
		}
		c.audit.Log(audit.Entry{
			PostID:       postID,
			ServiceName:  "takedown",
			Status:       "requires_manual_intervention",
			ErrorMessage: err.Error(),
		})
	}
	return err
}

func isRetryable(err error) bool {
	return !errs.Is(err, errs.KindValidation)
}

// Cancel reverts a takedown_pending post back to active.
func (c *Coordinator) Cancel(ctx context.Context, postID uuid.UUID) error {
	if _, err := c.store.TransitionTakedown(ctx, postID, post.TakedownActive, nil); err != nil {
		return fmt.Errorf("cancelling takedown for %s: %w", postID, err)
	}
	c.audit.Log(audit.Entry{PostID: postID, ServiceName: "takedown", Status: "cancelled"})
	return nil
}

// SLAStatus classifies a takedown_pending post's position relative to its
// deadline.
type SLAStatus string

const (
	SLAOnTrack  SLAStatus = "on_track"
	SLAWarning  SLAStatus = "warning"
	SLAViolated SLAStatus = "violated"
)

func classifySLA(now time.Time, deadline time.Time) SLAStatus {
	switch {
	case now.After(deadline):
		return SLAViolated
	case deadline.Sub(now) <= slaWarning:
		return SLAWarning
	default:
		return SLAOnTrack
	}
}

// ScanSLA lists every takedown_pending post and alerts on those within
// the warning window or past their deadline.
func (c *Coordinator) ScanSLA(ctx context.Context) error {
	pending, err := c.store.ListTakedownPending(ctx)
	if err != nil {
		return fmt.Errorf("listing takedown-pending posts: %w", err)
	}

	now := time.Now().UTC()
	for _, p := range pending {
		if p.TakedownDeadline == nil {
			continue
		}
		switch classifySLA(now, *p.TakedownDeadline) {
		case SLAViolated:
			telemetry.TakedownSLAViolationsTotal.Inc()
			if c.alerts != nil {
				if err := c.alerts.Post(ctx, alerting.Payload{
					Kind:    "takedown_sla_violation",
					Service: "takedown",
					Message: fmt.Sprintf("post %s missed its takedown deadline", p.ID),
				}); err != nil {
					c.logger.Warn("posting SLA violation alert", "post_id", p.ID, "error", err)
				}
			}
		case SLAWarning:
			if c.alerts != nil {
				if err := c.alerts.Post(ctx, alerting.Payload{
					Kind:    "takedown_sla_warning",
					Service: "takedown",
					Message: fmt.Sprintf("post %s is within 6h of its takedown deadline", p.ID),
				}); err != nil {
					c.logger.Warn("posting SLA warning alert", "post_id", p.ID, "error", err)
				}
			}
		}
	}
	return nil
}
