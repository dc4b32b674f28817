// Package graph mirrors each run's posts into Neo4j so mentions can be
// explored across runs: which terms co-occur, which subreddits talk about the
// brand, and which run first surfaced a post.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Relationship types and target labels written by the sink.
const (
	LabelPost      = "RedditPost"
	LabelTerm      = "Term"
	LabelSubreddit = "Subreddit"
	LabelRun       = "MonitorRun"

	RelMentions    = "MENTIONS"
	RelPostedIn    = "POSTED_IN"
	RelSurfacedBy  = "SURFACED_BY"
	RelCommentedOn = "COMMENT_MENTIONS"
)

// postRepo is the subset of repo.Neo4jRepo the sink needs.
type postRepo interface {
	Get(ctx context.Context, id string) (PostNode, error)
	Upsert(ctx context.Context, p PostNode) error
	Link(ctx context.Context, from string, rel, toLabel string, to any, props map[string]any) error
}

// Sink writes run results to the graph.
type Sink struct {
	posts postRepo
	log   *slog.Logger
}

// New creates a Sink backed by driver.
func New(driver neo4j.DriverWithContext, log *slog.Logger) *Sink {
	return newSink(newPostRepo(driver), log)
}

func newSink(posts postRepo, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{posts: posts, log: log}
}

// Name identifies the sink in handoff logs.
func (s *Sink) Name() string { return "neo4j" }

// Post returns a stored post node.
func (s *Sink) Post(ctx context.Context, id string) (PostNode, error) {
	return s.posts.Get(ctx, id)
}

// Deliver upserts every post of r and links it to its matched terms, its
// subreddit and the run. The first write error aborts the delivery.
func (s *Sink) Deliver(ctx context.Context, r *domain.RunResult) error {
	start := time.Now()
	runProps := map[string]any{"scope": string(r.Meta.Scope), "at": r.Meta.StartedAt}
	for _, cp := range r.Posts {
		if err := s.writePost(ctx, cp, r.Meta.RunID, runProps); err != nil {
			return fmt.Errorf("graph: post %s: %w", cp.ID, err)
		}
		for _, f := range r.Findings[cp.ID] {
			if err := s.writeFinding(ctx, cp.ID, f); err != nil {
				return fmt.Errorf("graph: finding %s: %w", f.CommentID, err)
			}
		}
	}
	s.log.Info("graph sink written",
		"posts", len(r.Posts),
		"run_id", r.Meta.RunID,
		"duration", time.Since(start))
	return nil
}

func (s *Sink) writePost(ctx context.Context, cp domain.ClassifiedPost, runID string, runProps map[string]any) error {
	if err := s.posts.Upsert(ctx, nodeFromPost(cp)); err != nil {
		return err
	}
	for _, term := range cp.MatchedTerms {
		if err := s.posts.Link(ctx, cp.ID, RelMentions, LabelTerm, term, map[string]any{"priority": string(cp.Priority)}); err != nil {
			return err
		}
	}
	if cp.Subreddit != "" {
		if err := s.posts.Link(ctx, cp.ID, RelPostedIn, LabelSubreddit, cp.Subreddit, nil); err != nil {
			return err
		}
	}
	if runID != "" {
		return s.posts.Link(ctx, cp.ID, RelSurfacedBy, LabelRun, runID, runProps)
	}
	return nil
}

func (s *Sink) writeFinding(ctx context.Context, postID string, f domain.CommentFinding) error {
	terms := append(append([]string(nil), f.BrandMentions...), f.CompetitorMentions...)
	for _, term := range terms {
		props := map[string]any{"comment_id": f.CommentID, "score": f.Score}
		if err := s.posts.Link(ctx, postID, RelCommentedOn, LabelTerm, term, props); err != nil {
			return err
		}
	}
	return nil
}
