// Package llm wraps a Chat-Completions-style LLM endpoint (bearer auth,
// two model IDs) with the prompts, schema validation, and model-fallback
// logic from spec §4.2. Schema enforcement rejects unknown fields at
// ingress, per Design Note "reject unknown fields where the schema is
// authoritative" — no external JSON-schema library is pulled in for this.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devco/forumblog-pipeline/internal/errs"
	"github.com/devco/forumblog-pipeline/internal/retry"
	"github.com/devco/forumblog-pipeline/pkg/post"
)

// Model identifies which model tier to target.
type Model string

const (
	ModelPrimary  Model = "small"
	ModelFallback Model = "large"
)

// Config configures a Client.
type Config struct {
	APIKey         string
	APIBaseURL     string
	PrimaryModel   string
	FallbackModel  string
	TargetLanguage string
}

// Client talks to the LLM API.
type Client struct {
	httpClient     *http.Client
	apiKey         string
	baseURL        string
	primaryModel   string
	fallbackModel  string
	targetLanguage string
	backoff        retry.Backoff
}

// NewClient builds an LLM Client.
func NewClient(cfg Config) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		apiKey:         cfg.APIKey,
		baseURL:        cfg.APIBaseURL,
		primaryModel:   cfg.PrimaryModel,
		fallbackModel:  cfg.FallbackModel,
		targetLanguage: cfg.TargetLanguage,
		backoff:        retry.Backoff{Base: 2, Min: 2 * time.Second, Max: 8 * time.Second, Jitter: 0.2},
	}
}

// Artifacts is the full set of outputs produced for a single post.
type Artifacts struct {
	SummaryKO    string
	Tags         []string
	PainPoints   post.PainPoints
	ProductIdeas post.ProductIdeas
	// ModelUsed records whether the primary or fallback model produced the
	// final result, for the telemetry.ProcessorFallbackTotal metric.
	ModelUsed Model
}

// EstimateTokens gives a crude, deterministic token estimate (roughly 4
// characters per token across the three serialized prompts) used only for
// pre-call budget checks, not for provider billing reconciliation.
func EstimateTokens(title, body string) int64 {
	chars := len(title) + len(body)
	// Three prompts share the same source text.
	return int64(chars)/4*3 + 256
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize runs all three prompts against the primary model, falling
// back once to the higher-capability model on HTTP 5xx, parse failure,
// schema failure, or timeout. A second schema violation (on the fallback
// model) is returned as a KindValidation error, which pkg/processor
// treats as a terminal failure for the post.
func (c *Client) Summarize(ctx context.Context, title, body string) (Artifacts, error) {
	artifacts, err := c.attempt(ctx, c.primaryModel, title, body)
	if err == nil {
		artifacts.ModelUsed = ModelPrimary
		return artifacts, nil
	}
	if !shouldFallback(err) {
		return Artifacts{}, err
	}

	artifacts, err = c.attempt(ctx, c.fallbackModel, title, body)
	if err != nil {
		return Artifacts{}, fmt.Errorf("fallback model also failed: %w", err)
	}
	artifacts.ModelUsed = ModelFallback
	return artifacts, nil
}

func shouldFallback(err error) bool {
	kind, ok := errs.KindOf(err)
	if !ok {
		return true
	}
	return kind == errs.KindTransient || kind == errs.KindValidation
}

// attempt runs the three prompts against a single model, retrying each
// call independently per the transient-retry schedule.
func (c *Client) attempt(ctx context.Context, model, title, body string) (Artifacts, error) {
	summary, err := c.callText(ctx, model, summaryPrompt(c.targetLanguage, title, body))
	if err != nil {
		return Artifacts{}, err
	}

	tagsRaw, err := c.callText(ctx, model, tagsPrompt(title, body))
	if err != nil {
		return Artifacts{}, err
	}
	tags, err := parseTags(tagsRaw)
	if err != nil {
		return Artifacts{}, err
	}

	artifactsRaw, err := c.callText(ctx, model, artifactsPrompt(title, body))
	if err != nil {
		return Artifacts{}, err
	}
	painPoints, productIdeas, err := parseArtifacts(artifactsRaw)
	if err != nil {
		return Artifacts{}, err
	}

	return Artifacts{
		SummaryKO:    summary,
		Tags:         tags,
		PainPoints:   painPoints,
		ProductIdeas: productIdeas,
	}, nil
}

func (c *Client) callText(ctx context.Context, model, prompt string) (string, error) {
	var content string
	err := retry.Do(ctx, 3, c.backoff, isRetryable, func(ctx context.Context, attempt int) error {
		reqBody, err := json.Marshal(chatRequest{
			Model:    model,
			Messages: []chatMessage{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errs.New(errs.KindTransient, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return errs.Newf(errs.KindTransient, "LLM API returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return errs.Newf(errs.KindTerminal, "LLM API returned %d", resp.StatusCode)
		}

		dec := json.NewDecoder(resp.Body)
		dec.DisallowUnknownFields()
		var chatResp chatResponse
		if err := dec.Decode(&chatResp); err != nil {
			return errs.New(errs.KindValidation, fmt.Errorf("decoding LLM response: %w", err))
		}
		if len(chatResp.Choices) == 0 {
			return errs.Newf(errs.KindValidation, "LLM response had no choices")
		}
		content = chatResp.Choices[0].Message.Content
		return nil
	})
	return content, err
}

func isRetryable(err error) bool {
	return errs.Is(err, errs.KindTransient)
}

func summaryPrompt(lang, title, body string) string {
	return fmt.Sprintf("Summarize the following post in %s, 200-400 words.\n\nTitle: %s\n\n%s", lang, title, body)
}

func tagsPrompt(title, body string) string {
	return fmt.Sprintf("Extract 3-5 lowercase topic tags as a JSON array of strings.\n\nTitle: %s\n\n%s", title, body)
}

func artifactsPrompt(title, body string) string {
	return fmt.Sprintf(`Produce pain_points and product_ideas JSON for the following post, conforming exactly to:
{"pain_points": {"points": [{"point": str, "severity": "low"|"medium"|"high", "category": str}], "meta": {"version": str, "generated_at": str}},
 "product_ideas": {"ideas": [{"idea": str, "feasibility": "low"|"medium"|"high", "market_size": "small"|"medium"|"large"}], "meta": {"version": str, "generated_at": str}}}

Title: %s

%s`, title, body)
}

func parseTags(raw string) ([]string, error) {
	var tags []string
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tags); err != nil {
		return nil, errs.New(errs.KindValidation, fmt.Errorf("parsing tags: %w", err))
	}
	if !post.ValidTagCount(tags) {
		return nil, errs.Newf(errs.KindValidation, "tag count %d out of [3,5] range", len(tags))
	}
	return tags, nil
}

type artifactsPayload struct {
	PainPoints   post.PainPoints   `json:"pain_points"`
	ProductIdeas post.ProductIdeas `json:"product_ideas"`
}

func parseArtifacts(raw string) (post.PainPoints, post.ProductIdeas, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	var payload artifactsPayload
	if err := dec.Decode(&payload); err != nil {
		return post.PainPoints{}, post.ProductIdeas{}, errs.New(errs.KindValidation, fmt.Errorf("parsing artifacts: %w", err))
	}
	return payload.PainPoints, payload.ProductIdeas, nil
}
