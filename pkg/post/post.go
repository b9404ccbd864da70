// Package post defines the Post entity and its lifecycle, shared by every
// pipeline stage.
package post

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the Post's pipeline stage.
type Status string

const (
	StatusCollected Status = "collected"
	StatusProcessed Status = "processed"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// TakedownStatus is the Post's position in the takedown DAG.
type TakedownStatus string

const (
	TakedownActive  TakedownStatus = "active"
	TakedownPending TakedownStatus = "takedown_pending"
	TakedownRemoved TakedownStatus = "removed"
)

// CanTransitionTakedown reports whether moving from `from` to `to` is a
// legal takedown-status transition. Only active→pending, pending→removed,
// and pending→active (explicit cancellation) are legal.
func CanTransitionTakedown(from, to TakedownStatus) bool {
	switch {
	case from == TakedownActive && to == TakedownPending:
		return true
	case from == TakedownPending && to == TakedownRemoved:
		return true
	case from == TakedownPending && to == TakedownActive:
		return true
	default:
		return false
	}
}

// Severity and sizing enums used inside PainPoints/ProductIdeas.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

type MarketSize string

const (
	MarketSmall  MarketSize = "small"
	MarketMedium MarketSize = "medium"
	MarketLarge  MarketSize = "large"
)

// PainPoint is a single extracted pain point.
type PainPoint struct {
	Point    string `json:"point"`
	Severity Level  `json:"severity"`
	Category string `json:"category"`
}

// ArtifactMeta stamps the schema version and generation time on every
// LLM-produced artifact, per spec §4.2.
type ArtifactMeta struct {
	Version     string `json:"version"`
	GeneratedAt string `json:"generated_at"`
}

// PainPoints is the pain-points artifact.
type PainPoints struct {
	Points []PainPoint  `json:"points"`
	Meta   ArtifactMeta `json:"meta"`
}

// ProductIdea is a single extracted product idea.
type ProductIdea struct {
	Idea        string     `json:"idea"`
	Feasibility Level      `json:"feasibility"`
	MarketSize  MarketSize `json:"market_size"`
}

// ProductIdeas is the product-ideas artifact.
type ProductIdeas struct {
	Ideas []ProductIdea `json:"ideas"`
	Meta  ArtifactMeta  `json:"meta"`
}

// Post is a single forum post progressing through the pipeline.
type Post struct {
	ID           uuid.UUID
	SourcePostID string
	Subreddit    string
	Title        string
	Body         string
	Author       string
	Score        int
	NumComments  int
	Over18       bool
	MediaURLs    []string

	Status Status

	SummaryKO    string
	Tags         []string
	PainPoints   *PainPoints
	ProductIdeas *ProductIdeas
	MetaVersion  string
	ContentHash  string

	BlogPostID string
	BlogSlug   string
	BlogURL    string
	PublishedAt *time.Time

	TakedownStatus             TakedownStatus
	TakedownDeadline           *time.Time
	RequiresManualIntervention bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContentHash computes the idempotency fingerprint defined by spec §3:
// SHA256(title || body || sorted(media_urls)).
func ContentHash(title, body string, mediaURLs []string) string {
	sorted := append([]string(nil), mediaURLs...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte(body))
	h.Write([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidTagCount reports whether tags satisfies the 3-5 cardinality
// invariant required once status >= processed.
func ValidTagCount(tags []string) bool {
	return len(tags) >= 3 && len(tags) <= 5
}
