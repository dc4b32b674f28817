// Package domain defines the core types of the monitoring pipeline: posts,
// comments, queries, classified results and run metadata. It also acts as the
// validation gate for queries built from configuration.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLen caps post excerpts and comment bodies, in runes.
const MaxTextLen = 1000

// Post is a single search hit. Immutable once fetched.
type Post struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	BodyExcerpt  string    `json:"body_excerpt"`
	Subreddit    string    `json:"subreddit"`
	URL          string    `json:"url"`
	Permalink    string    `json:"permalink"`
	Author       string    `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
	Score        int       `json:"score"`
	NumComments  int       `json:"num_comments"`
	MatchedTerms []string  `json:"matched_terms,omitempty"`
	QueryLabel   string    `json:"query_label,omitempty"`
}

// Comment belongs to the enrichment result, not to the Post it references.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	Body      string    `json:"body"`
	Score     int       `json:"score"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Depth     int       `json:"depth"`
}

// QueryScope is the category of a query.
type QueryScope string

const (
	ScopeBrand         QueryScope = "brand"
	ScopeCompetitor    QueryScope = "competitor"
	ScopeKeyword       QueryScope = "keyword"
	ScopeSubredditScan QueryScope = "subreddit-scan"
)

// Valid reports whether s is a known query scope.
func (s QueryScope) Valid() bool {
	switch s {
	case ScopeBrand, ScopeCompetitor, ScopeKeyword, ScopeSubredditScan:
		return true
	}
	return false
}

// Scope is a dedup state partition, one per run cadence.
type Scope string

const (
	Daily  Scope = "daily"
	Weekly Scope = "weekly"
)

// Valid reports whether s is a known state scope.
func (s Scope) Valid() bool { return s == Daily || s == Weekly }

// Query is one configured search. Read-only after run start.
type Query struct {
	Label     string     `json:"label"`
	Term      string     `json:"term"`
	Scope     QueryScope `json:"scope"`
	RunType   Scope      `json:"run_type"`
	Subreddit string     `json:"subreddit,omitempty"`
}

// Priority is the strategic relevance tier of a post.
type Priority string

const (
	Urgent Priority = "URGENT"
	High   Priority = "HIGH"
	Medium Priority = "MEDIUM"
)

// Priorities lists every tier from most to least important.
var Priorities = []Priority{Urgent, High, Medium}

// Rank orders priorities; lower is more important.
func (p Priority) Rank() int {
	switch p {
	case Urgent:
		return 0
	case High:
		return 1
	case Medium:
		return 2
	}
	return 3
}

// ClassifiedPost wraps a copy of the Post with its assigned priority.
type ClassifiedPost struct {
	Post
	Priority Priority `json:"priority"`
}

// CommentFinding is a comment mentioning the brand or a competitor.
type CommentFinding struct {
	CommentID          string   `json:"comment_id"`
	Author             string   `json:"author"`
	Score              int      `json:"score"`
	BrandMentions      []string `json:"brand_mentions,omitempty"`
	CompetitorMentions []string `json:"competitor_mentions,omitempty"`
	Excerpt            string   `json:"excerpt"`
}

// RunState is a state of the run orchestrator.
type RunState string

const (
	StateInit        RunState = "INIT"
	StateSearching   RunState = "SEARCHING"
	StateDeduping    RunState = "DEDUPING"
	StateClassifying RunState = "CLASSIFYING"
	StateEnriching   RunState = "ENRICHING"
	StateFinalizing  RunState = "FINALIZING"
	StateDone        RunState = "DONE"
	StateFailed      RunState = "FAILED"
)

// RunMeta carries the observability data of a run.
type RunMeta struct {
	RunID              string            `json:"run_id"`
	Mode               string            `json:"mode"`
	Scope              Scope             `json:"scope"`
	StartedAt          time.Time         `json:"started_at"`
	FinishedAt         time.Time         `json:"finished_at"`
	QueryCount         int               `json:"query_count"`
	FailedQueries      int               `json:"failed_queries"`
	QueryErrors        map[string]string `json:"query_errors,omitempty"`
	SkippedRecords     int               `json:"skipped_records"`
	FetchedPosts       int               `json:"fetched_posts"`
	NewPosts           int               `json:"new_posts"`
	EnrichedPosts      int               `json:"enriched_posts"`
	EnrichmentFailures int               `json:"enrichment_failures"`
	StateWarning       string            `json:"state_warning,omitempty"`
	PriorityCounts     map[Priority]int  `json:"priority_counts"`
	FinalState         RunState          `json:"final_state"`
}

// ErrorCount is the total number of failed requests in the run.
func (m RunMeta) ErrorCount() int { return m.FailedQueries + m.EnrichmentFailures }

// RunResult is the unit handed to downstream consumers.
type RunResult struct {
	Posts    []ClassifiedPost            `json:"posts"`
	Comments map[string][]Comment        `json:"comments"`
	Findings map[string][]CommentFinding `json:"findings,omitempty"`
	Meta     RunMeta                     `json:"meta"`
}

// ByPriority returns the posts of one tier in result order.
func (r *RunResult) ByPriority(p Priority) []ClassifiedPost {
	var out []ClassifiedPost
	for _, cp := range r.Posts {
		if cp.Priority == p {
			out = append(out, cp)
		}
	}
	return out
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Excerpt collapses whitespace and truncates s to n runes, marking cuts.
func Excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return Truncate(s, n) + "..."
}
