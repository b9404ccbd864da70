// Package processor implements the Processor stage from spec §4.2: turn a
// collected post into a processed one by calling the LLM client for a
// translated summary, topic tags, and the pain-points/product-ideas
// artifacts, gated by the daily token budget.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/devco/forumblog-pipeline/internal/alerting"
	"github.com/devco/forumblog-pipeline/internal/audit"
	"github.com/devco/forumblog-pipeline/internal/errs"
	"github.com/devco/forumblog-pipeline/internal/telemetry"
	"github.com/devco/forumblog-pipeline/pkg/llm"
	"github.com/devco/forumblog-pipeline/pkg/post"
	"github.com/devco/forumblog-pipeline/pkg/queue"
	"github.com/devco/forumblog-pipeline/pkg/quota"
	"github.com/devco/forumblog-pipeline/pkg/store"
)

const metaVersion = "v1"

// Processor turns collected posts into processed ones.
type Processor struct {
	llm    *llm.Client
	store  *store.Store
	queue  *queue.Queue
	quota  *quota.Ledger
	audit  *audit.Writer
	alerts *alerting.Notifier
	logger *slog.Logger
}

// New creates a Processor.
func New(llmClient *llm.Client, s *store.Store, q *queue.Queue, ledger *quota.Ledger, auditWriter *audit.Writer, alerts *alerting.Notifier, logger *slog.Logger) *Processor {
	return &Processor{llm: llmClient, store: s, queue: q, quota: ledger, audit: auditWriter, alerts: alerts, logger: logger}
}

// Process handles a single collected post by ID. Budget exhaustion leaves
// the post in status=collected for retry on a future day, rather than
// marking it failed.
func (p *Processor) Process(ctx context.Context, postID uuid.UUID) error {
	start := time.Now()

	current, err := p.store.Get(ctx, postID)
	if err != nil {
		return fmt.Errorf("loading post %s: %w", postID, err)
	}
	if current.Status != post.StatusCollected {
		p.logger.Debug("post not in collected status, skipping", "post_id", postID, "status", current.Status)
		return nil
	}

	estimate := llm.EstimateTokens(current.Title, current.Body)
	crossing, err := p.quota.Reserve(ctx, quota.ServiceLLM, estimate)
	if err != nil {
		if errs.Is(err, errs.KindBudget) {
			p.notifyCrossing(ctx, crossing)
			p.logger.Warn("llm token budget exhausted, deferring post", "post_id", postID)
			now := time.Now().UTC()
			nextDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
			if _, err := p.queue.Enqueue(ctx, queue.StageProcess, postID, map[string]string{"post_id": postID.String()}, nextDay); err != nil {
				return fmt.Errorf("re-enqueueing budget-deferred post %s: %w", postID, err)
			}
			return nil
		}
		return fmt.Errorf("reserving llm token budget: %w", err)
	}
	p.notifyCrossing(ctx, crossing)

	artifacts, err := p.llm.Summarize(ctx, current.Title, current.Body)
	if err != nil {
		p.audit.Log(audit.Entry{
			PostID:           postID,
			ServiceName:      "processor",
			Status:           "failed",
			ErrorMessage:     err.Error(),
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		})
		telemetry.ProcessorFailedTotal.Inc()
		if markErr := p.store.MarkFailed(ctx, postID); markErr != nil {
			return fmt.Errorf("summarizing post %s: %w (and marking failed: %v)", postID, err, markErr)
		}
		return nil
	}
	if artifacts.ModelUsed == llm.ModelFallback {
		telemetry.ProcessorFallbackTotal.Inc()
	}

	updated, err := p.store.MarkProcessed(ctx, postID, store.ProcessedUpdate{
		SummaryKO:    artifacts.SummaryKO,
		Tags:         artifacts.Tags,
		PainPoints:   artifacts.PainPoints,
		ProductIdeas: artifacts.ProductIdeas,
		MetaVersion:  metaVersion,
	})
	if err != nil {
		return fmt.Errorf("marking post %s processed: %w", postID, err)
	}

	p.audit.Log(audit.Entry{
		PostID:           postID,
		ServiceName:      "processor",
		Status:           "success",
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	})

	if _, err := p.queue.Enqueue(ctx, queue.StagePublish, updated.ID, map[string]string{"post_id": updated.ID.String()}, time.Time{}); err != nil {
		return fmt.Errorf("enqueueing publish work item: %w", err)
	}
	return nil
}

func (p *Processor) notifyCrossing(ctx context.Context, crossing quota.ThresholdCrossing) {
	if !crossing.Crossed || p.alerts == nil {
		return
	}
	if err := p.alerts.BudgetCrossing(ctx, crossing.Service, crossing.Ratio); err != nil {
		p.logger.Warn("posting budget alert", "error", err)
	}
}
