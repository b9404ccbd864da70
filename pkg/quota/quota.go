// Package quota implements the daily call/token budget ledger from spec
// §4.6: Redis INCR+EXPIRE is the hot-path source of truth (same idiom as
// a login rate limiter), reaffirmed with a TTL to next UTC midnight on
// every increment; Postgres's daily_quota table is a best-effort durable
// mirror used for reporting, never consulted on the hot path.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/devco/forumblog-pipeline/internal/errs"
)

// Service names used as Redis/Postgres keys.
const (
	ServiceForum = "forum"
	ServiceLLM   = "llm"
)

const keyPrefix = "forumblog:quota:"

// Ledger tracks daily usage against a per-service limit.
type Ledger struct {
	rdb    *redis.Client
	pool   *pgxpool.Pool
	logger *slog.Logger

	limits map[string]int64

	// alerted tracks which (service, utc_date, threshold) triples have
	// already fired, so each threshold alerts at most once per day.
	alerted map[string]bool
}

// NewLedger creates a quota Ledger with the given per-service daily limits.
func NewLedger(rdb *redis.Client, pool *pgxpool.Pool, logger *slog.Logger, limits map[string]int64) *Ledger {
	return &Ledger{rdb: rdb, pool: pool, logger: logger, limits: limits, alerted: make(map[string]bool)}
}

func redisKey(service string, day time.Time) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, service, day.Format("2006-01-02"))
}

func ttlToMidnight(now time.Time) time.Duration {
	tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return tomorrow.Sub(now)
}

// Reserve atomically increments the service's usage counter by n and
// reports whether doing so stays within the configured daily limit. If
// the limit would be exceeded, the counter is rolled back and a
// KindBudget error is returned so call sites never have to increment and
// then separately check. The returned crossing still reports the 100%
// threshold on this refusal path, since a multi-unit increment (e.g. an
// LLM token estimate) can jump straight past the cap without ever landing
// on a successful call that lands exactly at the limit.
func (l *Ledger) Reserve(ctx context.Context, service string, n int64) (ThresholdCrossing, error) {
	limit, ok := l.limits[service]
	if !ok || limit <= 0 {
		return ThresholdCrossing{}, nil
	}

	now := time.Now().UTC()
	key := redisKey(service, now)

	used, err := l.rdb.IncrBy(ctx, key, n).Result()
	if err != nil {
		return ThresholdCrossing{}, errs.New(errs.KindTransient, fmt.Errorf("incrementing quota %s: %w", service, err))
	}
	// Only the first write of the day needs to set the expiry; re-arming
	// it every call is harmless and covers clock drift across instances.
	l.rdb.Expire(ctx, key, ttlToMidnight(now))

	if used > limit {
		crossing := l.checkThreshold(service, now, used, limit)
		l.rdb.DecrBy(ctx, key, n)
		return crossing, errs.Newf(errs.KindBudget, "%s daily quota exceeded: %d/%d", service, used-n, limit)
	}

	l.persistBestEffort(ctx, service, now, used, limit)

	return l.checkThreshold(service, now, used, limit), nil
}

// ThresholdCrossing describes a budget threshold crossed by a Reserve
// call, for the caller to forward to internal/alerting.
type ThresholdCrossing struct {
	Crossed bool
	Service string
	Ratio   float64
	Used    int64
	Limit   int64
}

func (l *Ledger) checkThreshold(service string, now time.Time, used, limit int64) ThresholdCrossing {
	ratio := float64(used) / float64(limit)
	var threshold float64
	switch {
	case ratio >= 1.0:
		threshold = 1.0
	case ratio >= 0.8:
		threshold = 0.8
	default:
		return ThresholdCrossing{}
	}

	alertKey := fmt.Sprintf("%s:%s:%.1f", service, now.Format("2006-01-02"), threshold)
	if l.alerted[alertKey] {
		return ThresholdCrossing{}
	}
	l.alerted[alertKey] = true

	return ThresholdCrossing{Crossed: true, Service: service, Ratio: ratio, Used: used, Limit: limit}
}

// persistBestEffort mirrors the current usage into Postgres for
// reporting. Failures are logged, never surfaced: Redis remains the
// authority for whether a call is allowed.
func (l *Ledger) persistBestEffort(ctx context.Context, service string, now time.Time, used, limit int64) {
	if l.pool == nil {
		return
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO daily_quota (service, utc_date, used, "limit")
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (service, utc_date) DO UPDATE SET used = $3, "limit" = $4`,
		service, now.Format("2006-01-02"), used, limit,
	)
	if err != nil {
		l.logger.Warn("persisting quota usage", "service", service, "error", err)
	}
}

// Remaining returns the unused portion of today's budget for service.
func (l *Ledger) Remaining(ctx context.Context, service string) (int64, error) {
	limit, ok := l.limits[service]
	if !ok || limit <= 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	used, err := l.rdb.Get(ctx, redisKey(service, now)).Int64()
	if err != nil {
		if err == redis.Nil {
			return limit, nil
		}
		return 0, fmt.Errorf("reading quota %s: %w", service, err)
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
