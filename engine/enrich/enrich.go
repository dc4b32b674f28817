// Package enrich fetches comment threads for the most engaged posts of a run
// and scans them for brand and competitor mentions.
package enrich

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/WessleyAI/reddit-monitor/engine/classify"
	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/pkg/fn"
)

// CommentSource fetches the comments of one post.
type CommentSource interface {
	Comments(ctx context.Context, p domain.Post) ([]domain.Comment, error)
}

// Result is the outcome of an enrichment pass.
type Result struct {
	// Comments holds an entry for every attempted post; failed fetches map
	// to an empty slice.
	Comments map[string][]domain.Comment
	// Order lists attempted post IDs in fetch order.
	Order    []string
	Enriched int
	Failures int
}

// Fetcher enriches posts through a CommentSource.
type Fetcher struct {
	src         CommentSource
	minComments int
	log         *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMinComments makes only posts with more than n comments eligible.
func WithMinComments(n int) Option { return func(f *Fetcher) { f.minComments = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.log = l } }

// New creates a Fetcher.
func New(src CommentSource, opts ...Option) *Fetcher {
	f := &Fetcher{src: src, log: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Rank returns a copy of posts ordered by score desc, then comment count
// desc, then creation time desc, then ID asc.
func Rank(posts []domain.ClassifiedPost) []domain.ClassifiedPost {
	out := slices.Clone(posts)
	slices.SortStableFunc(out, func(a, b domain.ClassifiedPost) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		if a.NumComments != b.NumComments {
			return b.NumComments - a.NumComments
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Eligible filters posts by the minimum comment threshold.
func (f *Fetcher) Eligible(posts []domain.ClassifiedPost) []domain.ClassifiedPost {
	if f.minComments <= 0 {
		return posts
	}
	return fn.Filter(posts, func(p domain.ClassifiedPost) bool { return p.NumComments > f.minComments })
}

// Enrich fetches comments for the top limit eligible posts in rank order,
// one at a time. A failed fetch records no comments for that post and does
// not stop the pass.
func (f *Fetcher) Enrich(ctx context.Context, posts []domain.ClassifiedPost, limit int) Result {
	res := Result{Comments: make(map[string][]domain.Comment)}
	if limit <= 0 {
		return res
	}
	ranked := f.Eligible(Rank(posts))
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for _, p := range ranked {
		res.Order = append(res.Order, p.ID)
		comments, err := f.src.Comments(ctx, p.Post)
		if err != nil {
			f.log.Warn("enrichment failed", "post_id", p.ID, "subreddit", p.Subreddit, "error", err)
			res.Comments[p.ID] = []domain.Comment{}
			res.Failures++
			continue
		}
		if comments == nil {
			comments = []domain.Comment{}
		}
		res.Comments[p.ID] = comments
		res.Enriched++
	}
	return res
}

const findingExcerptLen = 300

// ScanComments finds comments that mention a brand alias or competitor.
// Findings keep the comment order of each thread.
func ScanComments(comments map[string][]domain.Comment, aliases, competitors []string) map[string][]domain.CommentFinding {
	out := make(map[string][]domain.CommentFinding)
	for postID, thread := range comments {
		for _, c := range thread {
			brand := classify.Mentions(c.Body, aliases)
			comp := classify.Mentions(c.Body, competitors)
			if len(brand) == 0 && len(comp) == 0 {
				continue
			}
			out[postID] = append(out[postID], domain.CommentFinding{
				CommentID:          c.ID,
				Author:             c.Author,
				Score:              c.Score,
				BrandMentions:      brand,
				CompetitorMentions: comp,
				Excerpt:            domain.Excerpt(c.Body, findingExcerptLen),
			})
		}
	}
	return out
}
