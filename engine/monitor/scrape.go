package monitor

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/classify"
	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/engine/reddit"
	"github.com/WessleyAI/reddit-monitor/pkg/fileutil"
	"github.com/WessleyAI/reddit-monitor/pkg/fn"
)

// ScrapeThreadLimit is how many of the most engaged scraped posts get their
// comments fetched.
const ScrapeThreadLimit = 30

// Thread is a scraped post with its comments.
type Thread struct {
	Post     domain.Post      `json:"post"`
	Group    string           `json:"group"`
	Comments []domain.Comment `json:"comments"`
}

// ScrapeMeta summarizes a scrape.
type ScrapeMeta struct {
	ScrapedAt              time.Time         `json:"scraped_at"`
	QueriesRun             int               `json:"queries_run"`
	FailedQueries          int               `json:"failed_queries"`
	QueryErrors            map[string]string `json:"query_errors,omitempty"`
	TotalUniquePosts       int               `json:"total_unique_posts"`
	TotalPostsWithComments int               `json:"total_posts_with_comments"`
	CommentFailures        int               `json:"comment_failures"`
}

// ScrapeResult is the baseline data set written by Scrape.
type ScrapeResult struct {
	SearchResults map[string][]domain.Post `json:"search_results"`
	Threads       map[string]Thread        `json:"posts_with_comments"`
	Meta          ScrapeMeta               `json:"metadata"`
}

// Group is the label prefix up to the first underscore.
func Group(label string) string {
	g, _, _ := strings.Cut(label, "_")
	return g
}

// Scrape collects a baseline over queries without touching seen state. Each
// query searches the past year and falls back to all time when that is empty.
// The result is written to path as JSON unless path is empty.
func (m *Monitor) Scrape(ctx context.Context, queries []domain.Query, path string) (*ScrapeResult, error) {
	if err := domain.ValidateQueries(queries); err != nil {
		return nil, err
	}
	log := m.log.With("mode", "scrape")
	res := &ScrapeResult{
		SearchResults: make(map[string][]domain.Post),
		Threads:       make(map[string]Thread),
		Meta: ScrapeMeta{
			ScrapedAt:   m.now().UTC(),
			QueriesRun:  len(queries),
			QueryErrors: make(map[string]string),
		},
	}

	pages := fn.ParMapResult(queries, m.opts.Workers, func(q domain.Query) fn.Result[reddit.Page] {
		return fn.FromPair(m.scrapeQuery(ctx, q))
	})

	var all []Thread
	for i, pr := range pages {
		q := queries[i]
		page, err := pr.Unwrap()
		if err != nil {
			res.Meta.FailedQueries++
			res.Meta.QueryErrors[q.Label] = err.Error()
			m.met.query("error").Inc()
			log.Warn("query failed", "query", q.Label, "error", err)
			continue
		}
		m.met.query("ok").Inc()
		g := Group(q.Label)
		res.SearchResults[g] = []domain.Post{}
		for _, p := range page.Posts {
			all = append(all, Thread{Post: p, Group: g})
		}
		log.Info("query done", "query", q.Label, "group", g, "posts", len(page.Posts))
	}
	// First query to return a post owns it.
	all = fn.UniqueBy(all, func(t Thread) string { return t.Post.ID })
	for g, ts := range fn.GroupBy(all, func(t Thread) string { return t.Group }) {
		res.SearchResults[g] = fn.Map(ts, func(t Thread) domain.Post { return t.Post })
	}
	res.Meta.TotalUniquePosts = len(all)
	if len(queries) > 0 && res.Meta.FailedQueries == len(queries) {
		return nil, fmt.Errorf("%w: all %d queries failed", domain.ErrTotalSearchFailure, len(queries))
	}

	slices.SortStableFunc(all, func(a, b Thread) int {
		return cmp.Compare(b.Post.NumComments+b.Post.Score, a.Post.NumComments+a.Post.Score)
	})
	for i, t := range fn.Take(all, ScrapeThreadLimit) {
		log.Info("fetching comments", "n", i+1, "post_id", t.Post.ID, "title", domain.Truncate(t.Post.Title, 60))
		comments, err := m.comments.Comments(ctx, t.Post)
		if err != nil {
			res.Meta.CommentFailures++
			log.Warn("comments failed", "post_id", t.Post.ID, "error", err)
			comments = []domain.Comment{}
		}
		t.Comments = comments
		res.Threads[t.Post.ID] = t
	}
	res.Meta.TotalPostsWithComments = len(res.Threads)

	if path != "" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode scrape: %w", err)
		}
		if err := fileutil.WriteAtomic(path, append(data, '\n')); err != nil {
			return nil, fmt.Errorf("write scrape: %w", err)
		}
		log.Info("scrape saved", "path", path, "posts", res.Meta.TotalUniquePosts, "threads", res.Meta.TotalPostsWithComments)
	}
	return res, nil
}

func (m *Monitor) scrapeQuery(ctx context.Context, q domain.Query) (reddit.Page, error) {
	page, err := m.search.SearchPage(ctx, q, reddit.TimeYear)
	if err != nil || len(page.Posts) > 0 {
		return page, err
	}
	return m.search.SearchPage(ctx, q, reddit.TimeAll)
}

// RunResult turns the scrape into the shape consumed by analysis. Posts that
// match no rule are kept as MEDIUM; the baseline is not filtered.
func (s *ScrapeResult) RunResult(cl *classify.Classifier) *domain.RunResult {
	out := &domain.RunResult{
		Comments: make(map[string][]domain.Comment),
		Meta: domain.RunMeta{
			Mode:           "scrape",
			StartedAt:      s.Meta.ScrapedAt,
			FinishedAt:     s.Meta.ScrapedAt,
			QueryCount:     s.Meta.QueriesRun,
			FailedQueries:  s.Meta.FailedQueries,
			QueryErrors:    s.Meta.QueryErrors,
			PriorityCounts: make(map[domain.Priority]int),
			FinalState:     domain.StateDone,
		},
	}
	groups := make([]string, 0, len(s.SearchResults))
	for g := range s.SearchResults {
		groups = append(groups, g)
	}
	slices.Sort(groups)
	for _, g := range groups {
		for _, p := range s.SearchResults[g] {
			prio, matched, ok := cl.Classify(p)
			if !ok {
				prio = domain.Medium
			}
			cp := domain.ClassifiedPost{Post: p, Priority: prio}
			cp.MatchedTerms = matched
			out.Posts = append(out.Posts, cp)
			out.Meta.PriorityCounts[prio]++
		}
	}
	slices.SortStableFunc(out.Posts, func(a, b domain.ClassifiedPost) int {
		return cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
	})
	for id, t := range s.Threads {
		out.Comments[id] = t.Comments
	}
	out.Meta.FetchedPosts = len(out.Posts)
	out.Meta.NewPosts = len(out.Posts)
	out.Meta.EnrichedPosts = len(s.Threads) - s.Meta.CommentFailures
	out.Meta.EnrichmentFailures = s.Meta.CommentFailures
	return out
}

// LoadScrape reads a ScrapeResult written by Scrape.
func LoadScrape(path string) (*ScrapeResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNoArtifact, path)
	}
	if err != nil {
		return nil, err
	}
	var s ScrapeResult
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &s, nil
}
