// Package store provides the transactional Post repository: every write
// that crosses a pipeline stage boundary goes through here so the
// invariants in spec §3 and §5 (tag cardinality, blog-field consistency,
// takedown DAG, content-hash bookkeeping) are enforced in one place
// instead of scattered across stage code.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devco/forumblog-pipeline/internal/errs"
	"github.com/devco/forumblog-pipeline/pkg/post"
)

// Store is a Postgres-backed repository for Post rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Post Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const postColumns = `id, source_post_id, subreddit, title, body, author, score, num_comments,
	over_18, media_urls, status, coalesce(summary_ko, ''), tags, pain_points, product_ideas,
	coalesce(meta_version, ''), coalesce(content_hash, ''), coalesce(blog_post_id, ''),
	coalesce(blog_slug, ''), coalesce(blog_url, ''), published_at,
	takedown_status, takedown_deadline, requires_manual_intervention, created_at, updated_at`

func scanPost(row pgx.Row) (post.Post, error) {
	var p post.Post
	var painPoints, productIdeas []byte
	err := row.Scan(
		&p.ID, &p.SourcePostID, &p.Subreddit, &p.Title, &p.Body, &p.Author,
		&p.Score, &p.NumComments, &p.Over18, &p.MediaURLs, &p.Status,
		&p.SummaryKO, &p.Tags, &painPoints, &productIdeas, &p.MetaVersion,
		&p.ContentHash, &p.BlogPostID, &p.BlogSlug, &p.BlogURL, &p.PublishedAt,
		&p.TakedownStatus, &p.TakedownDeadline, &p.RequiresManualIntervention, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return post.Post{}, err
	}
	if len(painPoints) > 0 {
		var pp post.PainPoints
		if err := json.Unmarshal(painPoints, &pp); err != nil {
			return post.Post{}, fmt.Errorf("unmarshalling pain_points: %w", err)
		}
		p.PainPoints = &pp
	}
	if len(productIdeas) > 0 {
		var pi post.ProductIdeas
		if err := json.Unmarshal(productIdeas, &pi); err != nil {
			return post.Post{}, fmt.Errorf("unmarshalling product_ideas: %w", err)
		}
		p.ProductIdeas = &pi
	}
	return p, nil
}

// Get returns a single post by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (post.Post, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	return scanPost(row)
}

// GetBySourcePostID returns a single post by its upstream forum ID.
func (s *Store) GetBySourcePostID(ctx context.Context, sourcePostID string) (post.Post, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE source_post_id = $1`, sourcePostID)
	return scanPost(row)
}

// CreateCollected inserts a freshly collected post. A duplicate
// source_post_id is classified KindIntegrity: the caller should treat it
// as "already known" rather than as a failure, per spec §7.
func (s *Store) CreateCollected(ctx context.Context, p post.Post) (post.Post, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO posts (
			source_post_id, subreddit, title, body, author, score, num_comments,
			over_18, media_urls, status, content_hash, takedown_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+postColumns,
		p.SourcePostID, p.Subreddit, p.Title, p.Body, p.Author, p.Score,
		p.NumComments, p.Over18, p.MediaURLs, post.StatusCollected, p.ContentHash,
		post.TakedownActive,
	)
	created, err := scanPost(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return post.Post{}, errs.New(errs.KindIntegrity, fmt.Errorf("source post %s already collected: %w", p.SourcePostID, err))
		}
		return post.Post{}, fmt.Errorf("inserting collected post: %w", err)
	}
	return created, nil
}

// ProcessedUpdate is the set of fields the Processor stage writes.
type ProcessedUpdate struct {
	SummaryKO    string
	Tags         []string
	PainPoints   post.PainPoints
	ProductIdeas post.ProductIdeas
	MetaVersion  string
}

// MarkProcessed writes the LLM-derived artifacts and advances status to
// processed, inside a per-post advisory lock so the Processor and
// Publisher stages never interleave writes to the same row.
func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID, u ProcessedUpdate) (post.Post, error) {
	if !post.ValidTagCount(u.Tags) {
		return post.Post{}, errs.Newf(errs.KindValidation, "tag count %d out of [3,5] range", len(u.Tags))
	}

	var result post.Post
	err := s.withAdvisoryLock(ctx, id, func(tx pgx.Tx) error {
		painPoints, err := json.Marshal(u.PainPoints)
		if err != nil {
			return fmt.Errorf("marshalling pain_points: %w", err)
		}
		productIdeas, err := json.Marshal(u.ProductIdeas)
		if err != nil {
			return fmt.Errorf("marshalling product_ideas: %w", err)
		}
		row := tx.QueryRow(ctx, `
			UPDATE posts SET
				summary_ko = $2, tags = $3, pain_points = $4, product_ideas = $5,
				meta_version = $6, status = $7, updated_at = now()
			WHERE id = $1
			RETURNING `+postColumns,
			id, u.SummaryKO, u.Tags, painPoints, productIdeas, u.MetaVersion, post.StatusProcessed,
		)
		result, err = scanPost(row)
		return err
	})
	return result, err
}

// MarkFailed advances status to failed without touching the artifact
// fields, for processor attempts that exhaust both models.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE posts SET status = $2, updated_at = now() WHERE id = $1`, id, post.StatusFailed)
	return err
}

// PublishResult is the set of fields the Publisher stage writes once a
// post has a live blog counterpart.
type PublishResult struct {
	BlogPostID  string
	BlogSlug    string
	BlogURL     string
	ContentHash string
}

// MarkPublished records the blog-side identifiers and advances status to
// published. blog_post_id is only ever non-empty once status is
// published, enforced here rather than left to callers. content_hash is
// written in the same UPDATE so a crash between the two can never leave
// blog_post_id pointing at content the stored hash doesn't reflect.
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, r PublishResult) (post.Post, error) {
	if r.BlogPostID == "" {
		return post.Post{}, errs.Newf(errs.KindValidation, "cannot mark published without a blog_post_id")
	}
	var result post.Post
	err := s.withAdvisoryLock(ctx, id, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRow(ctx, `
			UPDATE posts SET
				blog_post_id = $2, blog_slug = $3, blog_url = $4, content_hash = $5,
				status = $6, published_at = $7, updated_at = now()
			WHERE id = $1
			RETURNING `+postColumns,
			id, r.BlogPostID, r.BlogSlug, r.BlogURL, r.ContentHash, post.StatusPublished, now,
		)
		var err error
		result, err = scanPost(row)
		return err
	})
	return result, err
}

// TransitionTakedown moves a post's takedown status along the DAG defined
// by post.CanTransitionTakedown, rejecting illegal transitions before
// they ever reach SQL. deadline is only applied on an active->pending
// transition; it is ignored otherwise.
func (s *Store) TransitionTakedown(ctx context.Context, id uuid.UUID, to post.TakedownStatus, deadline *time.Time) (post.Post, error) {
	var result post.Post
	err := s.withAdvisoryLock(ctx, id, func(tx pgx.Tx) error {
		current, err := scanPost(tx.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if !post.CanTransitionTakedown(current.TakedownStatus, to) {
			return errs.Newf(errs.KindValidation, "illegal takedown transition %s -> %s", current.TakedownStatus, to)
		}

		var row pgx.Row
		switch to {
		case post.TakedownRemoved:
			row = tx.QueryRow(ctx, `
				UPDATE posts SET
					takedown_status = $2, blog_post_id = '', blog_slug = '', blog_url = '',
					takedown_deadline = NULL, updated_at = now()
				WHERE id = $1
				RETURNING `+postColumns, id, to)
		case post.TakedownPending:
			row = tx.QueryRow(ctx, `
				UPDATE posts SET takedown_status = $2, takedown_deadline = $3, updated_at = now()
				WHERE id = $1
				RETURNING `+postColumns, id, to, deadline)
		default:
			row = tx.QueryRow(ctx, `
				UPDATE posts SET takedown_status = $2, takedown_deadline = NULL, updated_at = now()
				WHERE id = $1
				RETURNING `+postColumns, id, to)
		}
		result, err = scanPost(row)
		return err
	})
	return result, err
}

// FlagManualIntervention marks a post as having exhausted stage-2
// deletion retries, for operator follow-up.
func (s *Store) FlagManualIntervention(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE posts SET requires_manual_intervention = true, updated_at = now() WHERE id = $1`, id)
	return err
}

// ListTakedownPending returns every post currently in takedown_pending,
// for the SLA monitoring scan.
func (s *Store) ListTakedownPending(ctx context.Context) ([]post.Post, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+postColumns+` FROM posts WHERE takedown_status = $1`, post.TakedownPending)
	if err != nil {
		return nil, fmt.Errorf("listing takedown-pending posts: %w", err)
	}
	defer rows.Close()

	var posts []post.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// withAdvisoryLock runs fn inside a transaction holding a per-post
// advisory lock, guaranteeing a single writer for a given post across
// concurrently running pipeline stages.
func (s *Store) withAdvisoryLock(ctx context.Context, id uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(id)); err != nil {
		return fmt.Errorf("acquiring advisory lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// advisoryKey hashes a post ID down to the int64 key pg_advisory_xact_lock
// expects, using FNV-64a over the UUID's 16 bytes.
func advisoryKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(id[:])
	return int64(h.Sum64())
}
