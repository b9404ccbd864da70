// Package publisher implements the Publisher stage from spec §4.3:
// render a processed post to the blog platform exactly once per content
// fingerprint, re-host its embedded images, map tags, and attach
// mandatory source attribution.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devco/forumblog-pipeline/internal/audit"
	"github.com/devco/forumblog-pipeline/internal/errs"
	"github.com/devco/forumblog-pipeline/internal/telemetry"
	"github.com/devco/forumblog-pipeline/pkg/articletemplate"
	"github.com/devco/forumblog-pipeline/pkg/blog"
	"github.com/devco/forumblog-pipeline/pkg/imaging"
	"github.com/devco/forumblog-pipeline/pkg/post"
	"github.com/devco/forumblog-pipeline/pkg/store"
)

// Publisher renders processed posts to the blog platform.
type Publisher struct {
	blog           *blog.Client
	store          *store.Store
	httpClient     *http.Client
	audit          *audit.Writer
	defaultOGImage string
	logger         *slog.Logger
}

// Config configures a Publisher.
type Config struct {
	DefaultOGImage string
}

// New creates a Publisher.
func New(blogClient *blog.Client, s *store.Store, auditWriter *audit.Writer, cfg Config, logger *slog.Logger) *Publisher {
	return &Publisher{
		blog:           blogClient,
		store:          s,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		audit:          auditWriter,
		defaultOGImage: cfg.DefaultOGImage,
		logger:         logger,
	}
}

// Publish handles a single processed post by ID, applying the
// create/skip/update idempotency rule keyed on the content fingerprint.
func (p *Publisher) Publish(ctx context.Context, postID uuid.UUID) error {
	start := time.Now()

	current, err := p.store.Get(ctx, postID)
	if err != nil {
		return fmt.Errorf("loading post %s: %w", postID, err)
	}
	// An already-published, active post re-enters only to be skipped (same
	// fingerprint) or updated in place (changed fingerprint).
	republish := current.Status == post.StatusPublished && current.BlogPostID != "" && current.TakedownStatus == post.TakedownActive
	if current.Status != post.StatusProcessed && !republish {
		p.logger.Debug("post not in a publishable status, skipping", "post_id", postID, "status", current.Status)
		return nil
	}

	newHash := post.ContentHash(current.Title, current.Body, current.MediaURLs)
	if current.BlogPostID != "" && current.ContentHash == newHash {
		telemetry.PublishActionsTotal.WithLabelValues("skip").Inc()
		p.audit.Log(audit.Entry{
			PostID:           postID,
			ServiceName:      "publisher",
			Status:           "skipped",
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		})
		return nil
	}

	body := current.Body
	images, err := p.hostImages(ctx, &body)
	if err != nil {
		return fmt.Errorf("re-hosting images for post %s: %w", postID, err)
	}

	featureImage := p.defaultOGImage
	if len(images) > 0 {
		featureImage = images[0]
	}
	if featureImage == "" {
		return errs.Newf(errs.KindValidation, "post %s has no images and no default OG image configured", postID)
	}

	tags, err := p.resolveTags(ctx, current.Tags)
	if err != nil {
		return fmt.Errorf("resolving tags for post %s: %w", postID, err)
	}

	html := articletemplate.Render(articletemplate.Input{
		Title:           current.Title,
		SummaryKO:       current.SummaryKO,
		PainPoints:      current.PainPoints,
		ProductIdeas:    current.ProductIdeas,
		OriginalBody:    body,
		SourcePermalink: sourcePermalink(current),
		SourceAuthor:    current.Author,
	})

	blogPost := blog.Post{
		Title:        current.Title,
		HTML:         html,
		Status:       "published",
		Tags:         tags,
		FeatureImage: featureImage,
	}

	action := "create"
	var result blog.Post
	if current.BlogPostID == "" {
		result, err = p.blog.CreatePost(ctx, blogPost)
	} else {
		action = "update"
		blogPost.ID = current.BlogPostID
		result, err = p.blog.UpdatePost(ctx, current.BlogPostID, blogPost)
	}
	if err != nil {
		telemetry.PublishActionsTotal.WithLabelValues(action + "_failed").Inc()
		p.audit.Log(audit.Entry{
			PostID:           postID,
			ServiceName:      "publisher",
			Status:           "failed",
			ErrorMessage:     err.Error(),
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("%s blog post for %s: %w", action, postID, err)
	}

	updated, err := p.store.MarkPublished(ctx, postID, store.PublishResult{
		BlogPostID:  result.ID,
		BlogSlug:    result.Slug,
		BlogURL:     result.URL,
		ContentHash: newHash,
	})
	if err != nil {
		if action == "create" {
			if delErr := p.blog.DeletePost(ctx, result.ID); delErr != nil {
				p.logger.Error("rolling back blog post after failed publish", "post_id", postID, "blog_post_id", result.ID, "error", delErr)
			}
			telemetry.PublishActionsTotal.WithLabelValues("rollback").Inc()
		}
		return fmt.Errorf("marking post %s published: %w", postID, err)
	}

	telemetry.PublishActionsTotal.WithLabelValues(action).Inc()
	p.audit.Log(audit.Entry{
		PostID:           updated.ID,
		ServiceName:      "publisher",
		Status:           "success",
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	})
	return nil
}

func sourcePermalink(p post.Post) string {
	return fmt.Sprintf("https://reddit.com/r/%s/comments/%s", p.Subreddit, p.SourcePostID)
}

// hostImages downloads, normalizes, and re-uploads every image embedded
// in body, rewriting each occurrence to the returned CDN URL. It returns
// the hosted URLs in first-seen order, for feature-image selection.
func (p *Publisher) hostImages(ctx context.Context, body *string) ([]string, error) {
	urls := imaging.ExtractImageURLs(*body)
	hosted := make([]string, 0, len(urls))

	for _, url := range urls {
		downloaded, err := imaging.Download(p.httpClient, url)
		if err != nil {
			p.logger.Warn("downloading embedded image, skipping", "url", url, "error", err)
			continue
		}
		normalized, contentType, err := imaging.Normalize(downloaded.Bytes, downloaded.ContentType)
		if err != nil {
			p.logger.Warn("normalizing embedded image, skipping", "url", url, "error", err)
			continue
		}
		filename := "image" + extensionFor(contentType)
		hostedURL, err := p.blog.UploadImage(ctx, filename, normalized)
		if err != nil {
			p.logger.Warn("uploading embedded image, skipping", "url", url, "error", err)
			continue
		}
		*body = strings.ReplaceAll(*body, url, hostedURL)
		hosted = append(hosted, hostedURL)
	}
	return hosted, nil
}

func extensionFor(contentType string) string {
	if contentType == "image/png" {
		return ".png"
	}
	return ".jpg"
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s-]`)

// canonicalTags substitutes common synonyms for the platform's preferred
// tag name, applied after normalization.
var canonicalTags = map[string]string{
	"artificial-intelligence": "ai",
	"machine-learning":        "ml",
	"user-experience":         "ux",
}

// normalizeTag lower-cases, strips special characters, and replaces
// whitespace runs with hyphens, then applies the canonical substitution
// table.
func normalizeTag(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	stripped := nonAlphanumeric.ReplaceAllString(lower, "")
	hyphenated := strings.Join(strings.Fields(stripped), "-")
	if canonical, ok := canonicalTags[hyphenated]; ok {
		return canonical
	}
	return hyphenated
}

func (p *Publisher) resolveTags(ctx context.Context, rawTags []string) ([]blog.Tag, error) {
	if !post.ValidTagCount(rawTags) {
		return nil, errs.Newf(errs.KindValidation, "tag count %d out of [3,5] range", len(rawTags))
	}

	tags := make([]blog.Tag, 0, len(rawTags))
	for _, raw := range rawTags {
		name := normalizeTag(raw)
		if name == "" {
			continue
		}
		tag, err := p.blog.ResolveTag(ctx, name)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}
