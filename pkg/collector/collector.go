// Package collector implements the Collector stage from spec §4.1: quota-
// gated fetch from each configured community, NSFW/score/comment
// filtering, duplicate absorption, and enqueueing accepted posts for
// processing.
package collector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devco/forumblog-pipeline/internal/alerting"
	"github.com/devco/forumblog-pipeline/internal/errs"
	"github.com/devco/forumblog-pipeline/internal/telemetry"
	"github.com/devco/forumblog-pipeline/pkg/forum"
	"github.com/devco/forumblog-pipeline/pkg/post"
	"github.com/devco/forumblog-pipeline/pkg/queue"
	"github.com/devco/forumblog-pipeline/pkg/quota"
	"github.com/devco/forumblog-pipeline/pkg/store"
)

// Policy is the collection policy: which communities to poll and how.
type Policy struct {
	Communities []string
	Sort        forum.Sort
	TimeFilter  string
	BatchSize   int
	MinScore    int
	MinComments int
}

// Collector runs one collection cycle across all configured communities.
type Collector struct {
	forum  *forum.Client
	store  *store.Store
	queue  *queue.Queue
	quota  *quota.Ledger
	alerts *alerting.Notifier
	logger *slog.Logger
}

// New creates a Collector.
func New(forumClient *forum.Client, s *store.Store, q *queue.Queue, ledger *quota.Ledger, alerts *alerting.Notifier, logger *slog.Logger) *Collector {
	return &Collector{forum: forumClient, store: s, queue: q, quota: ledger, alerts: alerts, logger: logger}
}

// Run executes one collection cycle over every community in policy, in
// order. Budget exhaustion halts the remainder of the cycle cleanly;
// already-collected communities are unaffected.
func (c *Collector) Run(ctx context.Context, policy Policy) error {
	for _, community := range policy.Communities {
		if err := c.collectCommunity(ctx, policy, community); err != nil {
			if errs.Is(err, errs.KindBudget) {
				c.logger.Warn("forum quota exhausted, halting collection cycle", "error", err)
				return nil
			}
			c.logger.Error("collecting community", "community", community, "error", err)
		}
	}
	return nil
}

func (c *Collector) collectCommunity(ctx context.Context, policy Policy, community string) error {
	crossing, err := c.quota.Reserve(ctx, quota.ServiceForum, 1)
	if err != nil {
		if crossErr := c.notifyCrossing(ctx, crossing); crossErr != nil {
			c.logger.Warn("posting budget alert", "error", crossErr)
		}
		return fmt.Errorf("reserving forum quota: %w", err)
	}
	if err := c.notifyCrossing(ctx, crossing); err != nil {
		c.logger.Warn("posting budget alert", "error", err)
	}

	posts, err := c.forum.FetchTopPosts(ctx, forum.ListingOptions{
		Community:   community,
		Sort:        policy.Sort,
		TimeFilter:  policy.TimeFilter,
		Limit:       policy.BatchSize,
		MinScore:    policy.MinScore,
		MinComments: policy.MinComments,
	})
	if err != nil {
		return fmt.Errorf("fetching r/%s: %w", community, err)
	}

	telemetry.PostsCollectedTotal.WithLabelValues(community).Add(float64(len(posts)))

	for _, p := range posts {
		if err := c.ingest(ctx, community, p, policy); err != nil {
			c.logger.Error("ingesting post", "community", community, "source_post_id", p.ID, "error", err)
		}
	}
	return nil
}

func (c *Collector) notifyCrossing(ctx context.Context, crossing quota.ThresholdCrossing) error {
	if !crossing.Crossed || c.alerts == nil {
		return nil
	}
	return c.alerts.BudgetCrossing(ctx, crossing.Service, crossing.Ratio)
}

func (c *Collector) ingest(ctx context.Context, community string, p forum.Post, policy Policy) error {
	if reason, drop := shouldDrop(p, policy); drop {
		telemetry.PostsFilteredTotal.WithLabelValues(reason).Inc()
		return nil
	}

	domainPost := post.Post{
		SourcePostID: p.ID,
		Subreddit:    community,
		Title:        p.Title,
		Body:         p.SelfText,
		Author:       p.Author,
		Score:        p.Score,
		NumComments:  p.NumComments,
		Over18:       p.Over18,
		MediaURLs:    p.MediaURLs,
	}
	domainPost.ContentHash = post.ContentHash(domainPost.Title, domainPost.Body, domainPost.MediaURLs)

	created, err := c.store.CreateCollected(ctx, domainPost)
	if err != nil {
		if errs.Is(err, errs.KindIntegrity) {
			c.logger.Debug("post already collected, absorbing duplicate", "source_post_id", p.ID)
			return nil
		}
		return err
	}

	if _, err := c.queue.Enqueue(ctx, queue.StageProcess, created.ID, map[string]string{"post_id": created.ID.String()}, created.CreatedAt); err != nil {
		return fmt.Errorf("enqueueing process work item: %w", err)
	}
	return nil
}

// shouldDrop applies the NSFW/score/comment policy filters, returning the
// metric label for why a post was dropped.
func shouldDrop(p forum.Post, policy Policy) (reason string, drop bool) {
	switch {
	case p.Over18:
		return "nsfw", true
	case p.Score < policy.MinScore:
		return "below_min_score", true
	case p.NumComments < policy.MinComments:
		return "below_min_comments", true
	default:
		return "", false
	}
}
