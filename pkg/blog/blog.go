// Package blog is an admin API client for the Ghost-shaped blog platform
// named in spec §4.3/§6: HS256-JWT-signed bearer auth minted from a
// key_id:secret_hex admin key, the {posts|tags|images: […]} envelope
// convention, and the 3-attempt exponential-backoff retry policy with
// Retry-After support on 429.
package blog

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devco/forumblog-pipeline/internal/errs"
	"github.com/devco/forumblog-pipeline/internal/retry"
)

// AdminKey is the parsed form of the platform's `key_id:secret_hex` admin
// key.
type AdminKey struct {
	KeyID  string
	Secret []byte
}

// ParseAdminKey splits and hex-decodes a raw admin key string.
func ParseAdminKey(raw string) (AdminKey, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return AdminKey{}, fmt.Errorf("admin key must be formatted key_id:secret_hex")
	}
	secret, err := hex.DecodeString(parts[1])
	if err != nil {
		return AdminKey{}, fmt.Errorf("decoding admin key secret: %w", err)
	}
	return AdminKey{KeyID: parts[0], Secret: secret}, nil
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	AdminKey       string
	DefaultOGImage string
}

// Client talks to the blog admin API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	key        AdminKey

	mu          sync.Mutex
	cachedToken string
	expiresAt   time.Time

	tagCacheMu sync.Mutex
	tagCache   map[string]cachedTag
	backoff    retry.Backoff
}

type cachedTag struct {
	id       string
	cachedAt time.Time
}

const tagCacheTTL = time.Hour

// NewClient builds a blog admin API Client.
func NewClient(cfg Config) (*Client, error) {
	key, err := ParseAdminKey(cfg.AdminKey)
	if err != nil {
		return nil, err
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		key:        key,
		tagCache:   make(map[string]cachedTag),
		backoff:    retry.Backoff{Base: 2, Min: 2 * time.Second, Max: 8 * time.Second, Jitter: 0.2},
	}, nil
}

// token returns a cached HS256 admin token, minting a fresh one if the
// cached copy is within 30s of expiry.
func (c *Client) token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedToken != "" && time.Now().Before(c.expiresAt.Add(-30*time.Second)) {
		return c.cachedToken, nil
	}

	now := time.Now().UTC()
	exp := now.Add(5 * time.Minute)
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"aud": "/admin/",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = c.key.KeyID

	signed, err := tok.SignedString(c.key.Secret)
	if err != nil {
		return "", fmt.Errorf("signing admin token: %w", err)
	}

	c.cachedToken = signed
	c.expiresAt = exp
	return signed, nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachedToken = ""
}

// Post is the subset of blog post fields this client creates/updates.
type Post struct {
	ID            string   `json:"id,omitempty"`
	Slug          string   `json:"slug,omitempty"`
	URL           string   `json:"url,omitempty"`
	Title         string `json:"title"`
	HTML          string `json:"html"`
	Status        string `json:"status"`
	Tags          []Tag  `json:"tags,omitempty"`
	FeatureImage  string `json:"feature_image,omitempty"`
	CustomExcerpt string `json:"custom_excerpt,omitempty"`
}

// Tag is a blog tag reference.
type Tag struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// CreatePost creates a new post, returning the platform-assigned ID/slug/URL.
func (c *Client) CreatePost(ctx context.Context, p Post) (Post, error) {
	var envelope struct {
		Posts []Post `json:"posts"`
	}
	envelope.Posts = []Post{p}
	var result struct {
		Posts []Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodPost, "/posts/", envelope, &result); err != nil {
		return Post{}, err
	}
	if len(result.Posts) == 0 {
		return Post{}, errs.Newf(errs.KindTerminal, "blog API returned no post in create response")
	}
	return result.Posts[0], nil
}

// UpdatePost updates an existing post in place.
func (c *Client) UpdatePost(ctx context.Context, id string, p Post) (Post, error) {
	var envelope struct {
		Posts []Post `json:"posts"`
	}
	envelope.Posts = []Post{p}
	var result struct {
		Posts []Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodPut, "/posts/"+id+"/", envelope, &result); err != nil {
		return Post{}, err
	}
	if len(result.Posts) == 0 {
		return Post{}, errs.Newf(errs.KindTerminal, "blog API returned no post in update response")
	}
	return result.Posts[0], nil
}

// DeletePost removes a post, used to roll back a partially-completed
// publish when a later step in the same Publisher transaction fails, and
// by takedown stage 2 to permanently remove a post once its SLA expires.
func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/posts/"+id+"/", nil, nil)
}

// GetPost fetches a post by ID.
func (c *Client) GetPost(ctx context.Context, id string) (Post, error) {
	var result struct {
		Posts []Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodGet, "/posts/"+id+"/", nil, &result); err != nil {
		return Post{}, err
	}
	if len(result.Posts) == 0 {
		return Post{}, errs.Newf(errs.KindTerminal, "blog API returned no post in get response")
	}
	return result.Posts[0], nil
}

// UnpublishPost sets a post's status to draft without deleting it, used
// by takedown stage 1 so the post still exists on the platform, and can
// be republished with UpdatePost, if the takedown is cancelled within the
// SLA window. It
// round-trips the post's current fields rather than sending a bare status
// patch, mirroring the platform's own get-then-put convention.
func (c *Client) UnpublishPost(ctx context.Context, id string) (Post, error) {
	current, err := c.GetPost(ctx, id)
	if err != nil {
		return Post{}, fmt.Errorf("fetching post %s before unpublish: %w", id, err)
	}
	current.Status = "draft"

	var envelope struct {
		Posts []Post `json:"posts"`
	}
	envelope.Posts = []Post{current}
	var result struct {
		Posts []Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodPut, "/posts/"+id+"/", envelope, &result); err != nil {
		return Post{}, err
	}
	if len(result.Posts) == 0 {
		return Post{}, errs.Newf(errs.KindTerminal, "blog API returned no post in unpublish response")
	}
	return result.Posts[0], nil
}

// UploadImage uploads raw image bytes and returns the hosted URL.
func (c *Client) UploadImage(ctx context.Context, filename string, content []byte) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("--forumblog\r\n")
	buf.WriteString(fmt.Sprintf("Content-Disposition: form-data; name=\"file\"; filename=%q\r\n", filename))
	buf.WriteString("Content-Type: application/octet-stream\r\n\r\n")
	buf.Write(content)
	buf.WriteString("\r\n--forumblog--\r\n")

	var result struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	}
	if err := c.doMultipart(ctx, "/images/upload/", buf.Bytes(), &result); err != nil {
		return "", err
	}
	if len(result.Images) == 0 {
		return "", errs.Newf(errs.KindTerminal, "blog API returned no image in upload response")
	}
	return result.Images[0].URL, nil
}

// ResolveTag returns the canonical tag for name, creating it on the
// platform if it doesn't already exist. Results are cached for an hour.
func (c *Client) ResolveTag(ctx context.Context, name string) (Tag, error) {
	c.tagCacheMu.Lock()
	cached, ok := c.tagCache[name]
	c.tagCacheMu.Unlock()
	if ok && time.Since(cached.cachedAt) < tagCacheTTL {
		return Tag{ID: cached.id, Name: name}, nil
	}

	var envelope struct {
		Tags []Tag `json:"tags"`
	}
	envelope.Tags = []Tag{{Name: name}}
	var result struct {
		Tags []Tag `json:"tags"`
	}
	if err := c.do(ctx, http.MethodPost, "/tags/", envelope, &result); err != nil {
		return Tag{}, err
	}
	if len(result.Tags) == 0 {
		return Tag{}, errs.Newf(errs.KindTerminal, "blog API returned no tag in create response")
	}
	tag := result.Tags[0]

	c.tagCacheMu.Lock()
	c.tagCache[name] = cachedTag{id: tag.ID, cachedAt: time.Now()}
	c.tagCacheMu.Unlock()

	return tag, nil
}

// do performs a JSON request against the admin API with the spec's retry
// policy: 429 honors Retry-After (capped at 5 minutes), 401 clears the
// token cache and is retried like a 5xx within the same 3 attempts (so a
// repeated 401 can be retried more than once), other 4xx are terminal,
// 5xx are transient.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling blog request: %w", err)
		}
	}

	return retry.Do(ctx, 3, c.backoff, isRetryable, func(ctx context.Context, attempt int) error {
		tok, err := c.token()
		if err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Ghost "+tok)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errs.New(errs.KindTransient, err)
		}
		defer resp.Body.Close()

		return c.classify(resp, out, attempt)
	})
}

func (c *Client) doMultipart(ctx context.Context, path string, body []byte, out any) error {
	return retry.Do(ctx, 3, c.backoff, isRetryable, func(ctx context.Context, attempt int) error {
		tok, err := c.token()
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Ghost "+tok)
		req.Header.Set("Content-Type", "multipart/form-data; boundary=forumblog")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errs.New(errs.KindTransient, err)
		}
		defer resp.Body.Close()

		return c.classify(resp, out, attempt)
	})
}

func (c *Client) classify(resp *http.Response, out any, attempt int) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return errs.New(errs.KindTransient, &retryAfterError{after: retryAfter})
	case resp.StatusCode == http.StatusUnauthorized:
		c.clearToken()
		return errs.Newf(errs.KindTransient, "blog API returned 401")
	case resp.StatusCode >= 500:
		return errs.Newf(errs.KindTransient, "blog API returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(resp.Body)
		return errs.Newf(errs.KindTerminal, "blog API returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if resp.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}

// retryAfterError carries a platform-suggested retry delay. internal/retry
// recognizes the RetryAfter method and sleeps that duration instead of its
// own computed backoff, so a 429 honors the platform's guidance exactly.
type retryAfterError struct {
	after time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.after)
}

func (e *retryAfterError) RetryAfter() time.Duration {
	return e.after
}

func parseRetryAfter(header string) time.Duration {
	const maxRetryAfter = 5 * time.Minute
	if header == "" {
		return maxRetryAfter
	}
	seconds, err := strconv.Atoi(header)
	if err != nil {
		return maxRetryAfter
	}
	d := time.Duration(seconds) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

func isRetryable(err error) bool {
	return errs.Is(err, errs.KindTransient)
}
