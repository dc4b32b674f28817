// Package reddit is the search client for Reddit's public JSON API. Every
// request passes through a shared throttle and circuit breaker and is
// retried on transient failures.
package reddit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/pkg/fn"
	"github.com/WessleyAI/reddit-monitor/pkg/mid"
	"github.com/WessleyAI/reddit-monitor/pkg/resilience"
)

// Time filters accepted by the search endpoint.
const (
	TimeWeek  = "week"
	TimeMonth = "month"
	TimeYear  = "year"
	TimeAll   = "all"
)

const (
	defaultBaseURL   = "https://old.reddit.com"
	permalinkBase    = "https://www.reddit.com"
	commentsPerPage  = 50
	maxBodyBytes     = 8 << 20
	defaultUserAgent = "reddit-monitor/1.0"
)

// TimeFilterFor maps a run cadence to the search time window.
func TimeFilterFor(s domain.Scope) string {
	if s == domain.Weekly {
		return TimeMonth
	}
	return TimeWeek
}

// Config controls client behavior.
type Config struct {
	BaseURL       string
	UserAgent     string
	MaxResults    int
	RetryAttempts int
	RetryWait     time.Duration
	Timeout       time.Duration
}

// Page is one decoded search response.
type Page struct {
	Posts   []domain.Post
	Skipped int
}

// Client fetches search listings and comment threads.
type Client struct {
	cfg      Config
	http     *http.Client
	throttle *resilience.Throttle
	breaker  *resilience.Breaker
	log      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithThrottle shares a throttle with other request issuers.
func WithThrottle(t *resilience.Throttle) Option { return func(c *Client) { c.throttle = t } }

// WithBreaker sets the circuit breaker guarding the endpoint. Only
// retryable failures (transport errors, 429, 5xx) count against it.
func WithBreaker(b *resilience.Breaker) Option { return func(c *Client) { c.breaker = b } }

// WithTransport sets the base transport; middleware is layered on top.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// New creates a Client. Without WithThrottle the client paces itself with a
// private throttle of zero delay.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 25
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.throttle == nil {
		c.throttle = resilience.NewThrottle(0)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	c.http.Transport = mid.Chain(c.http.Transport,
		mid.OTel(),
		mid.UserAgent(cfg.UserAgent),
		mid.Logger(c.log),
	)
	return c
}

// Search runs q with the time window of its run type.
func (c *Client) Search(ctx context.Context, q domain.Query) ([]domain.Post, error) {
	page, err := c.SearchPage(ctx, q, TimeFilterFor(q.RunType))
	return page.Posts, err
}

// SearchPage runs q with an explicit time filter. Posts beyond MaxResults are
// dropped; every post carries q.Label as its QueryLabel.
func (c *Client) SearchPage(ctx context.Context, q domain.Query, timeFilter string) (Page, error) {
	u := c.searchURL(q, timeFilter)
	body, err := c.get(ctx, "search", u)
	if err != nil {
		return Page{}, err
	}
	posts, skipped, err := decodePage(body, permalinkBase)
	if err != nil {
		return Page{}, &domain.FetchError{Op: "search", URL: u, Err: domain.Permanent(fmt.Errorf("decode listing: %w", err))}
	}
	posts = fn.Take(posts, c.cfg.MaxResults)
	for i := range posts {
		posts[i].QueryLabel = q.Label
	}
	if skipped > 0 {
		c.log.Debug("skipped malformed results", "query", q.Label, "skipped", skipped)
	}
	return Page{Posts: posts, Skipped: skipped}, nil
}

// Comments fetches and flattens the comment tree of p.
func (c *Client) Comments(ctx context.Context, p domain.Post) ([]domain.Comment, error) {
	u := c.commentsURL(p)
	body, err := c.get(ctx, "comments", u)
	if err != nil {
		return nil, err
	}
	comments, skipped, err := decodeThread(body, p.ID)
	if err != nil {
		return nil, &domain.FetchError{Op: "comments", URL: u, Err: domain.Permanent(fmt.Errorf("decode comments: %w", err))}
	}
	if skipped > 0 {
		c.log.Debug("skipped malformed comments", "post_id", p.ID, "skipped", skipped)
	}
	return comments, nil
}

func (c *Client) searchURL(q domain.Query, timeFilter string) string {
	v := url.Values{}
	v.Set("q", q.Term)
	v.Set("sort", "new")
	v.Set("t", timeFilter)
	v.Set("limit", strconv.Itoa(c.cfg.MaxResults))
	if q.Subreddit != "" {
		v.Set("restrict_sr", "on")
		return fmt.Sprintf("%s/r/%s/search.json?%s", c.cfg.BaseURL, url.PathEscape(q.Subreddit), v.Encode())
	}
	return fmt.Sprintf("%s/search.json?%s", c.cfg.BaseURL, v.Encode())
}

func (c *Client) commentsURL(p domain.Post) string {
	return fmt.Sprintf("%s/r/%s/comments/%s.json?limit=%d",
		c.cfg.BaseURL, url.PathEscape(p.Subreddit), url.PathEscape(p.ID), commentsPerPage)
}

// get issues a throttled, breaker-guarded GET with retry on transient errors.
func (c *Client) get(ctx context.Context, op, u string) ([]byte, error) {
	result := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: c.cfg.RetryAttempts,
		InitialWait: c.cfg.RetryWait,
		MaxWait:     6 * c.cfg.RetryWait,
		Jitter:      true,
		ShouldRetry: domain.IsRetryable,
	}, func(ctx context.Context) fn.Result[[]byte] {
		// Only endpoint-health failures trip the breaker; a 404 on one
		// subreddit must not block the queries after it.
		r := resilience.CallClassified(c.breaker, ctx, domain.IsRetryable, func(ctx context.Context) fn.Result[[]byte] {
			if err := c.throttle.Wait(ctx); err != nil {
				return fn.Err[[]byte](&domain.FetchError{Op: op, URL: u, Err: domain.Permanent(err)})
			}
			return fn.FromPair(c.doGet(ctx, op, u))
		})
		if _, err := r.Unwrap(); errors.Is(err, resilience.ErrCircuitOpen) {
			return fn.Err[[]byte](&domain.FetchError{Op: op, URL: u, Err: domain.Permanent(err)})
		}
		return r
	})
	return result.Unwrap()
}

func (c *Client) doGet(ctx context.Context, op, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &domain.FetchError{Op: op, URL: u, Err: domain.Permanent(err)}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Op: op, URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &domain.FetchError{Op: op, URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.FetchError{Op: op, URL: u, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
