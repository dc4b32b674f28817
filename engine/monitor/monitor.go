// Package monitor runs one monitoring pass: search every query, drop posts
// seen by earlier runs, classify and enrich what is new, then hand the
// RunResult downstream and commit the seen state.
//
// A run is an explicit state machine:
//
//	INIT -> SEARCHING -> DEDUPING -> CLASSIFYING -> ENRICHING -> FINALIZING -> DONE
//
// FAILED is reachable from INIT (invalid queries, unreadable state backend)
// and from SEARCHING when every query failed.
package monitor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/classify"
	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/engine/enrich"
	"github.com/WessleyAI/reddit-monitor/engine/reddit"
	"github.com/WessleyAI/reddit-monitor/engine/state"
	"github.com/WessleyAI/reddit-monitor/pkg/fn"
	"github.com/WessleyAI/reddit-monitor/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

// Searcher runs one search query.
type Searcher interface {
	SearchPage(ctx context.Context, q domain.Query, timeFilter string) (reddit.Page, error)
}

// Deps holds the collaborators of a Monitor.
type Deps struct {
	Searcher Searcher
	Comments enrich.CommentSource
	Store    state.Store
	Rules    classify.Rules
	// Artifact is the durable handoff. Seen state is committed only after
	// it succeeds.
	Artifact Handoff
	// Handoffs are best effort; failures are logged and counted.
	Handoffs []Handoff
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// Options tunes a run.
type Options struct {
	Workers     int
	MaxComments int
	MinComments int
	MaxSeenIDs  int
	MetricsFile string
}

// Monitor executes runs. It is safe to reuse across sequential runs.
type Monitor struct {
	search     Searcher
	comments   enrich.CommentSource
	fetcher    *enrich.Fetcher
	store      state.Store
	rules      classify.Rules
	classifier *classify.Classifier
	artifact   Handoff
	handoffs   []Handoff
	opts       Options
	met        *runMetrics
	log        *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a Monitor.
func New(deps Deps, opts Options) *Monitor {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Monitor{
		search:     deps.Searcher,
		comments:   deps.Comments,
		fetcher:    enrich.New(deps.Comments, enrich.WithMinComments(opts.MinComments), enrich.WithLogger(log)),
		store:      deps.Store,
		rules:      deps.Rules,
		classifier: classify.New(deps.Rules),
		artifact:   deps.Artifact,
		handoffs:   deps.Handoffs,
		opts:       opts,
		met:        newRunMetrics(deps.Metrics),
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// run carries the mutable state of one pass.
type run struct {
	m       *Monitor
	scope   domain.Scope
	state   domain.RunState
	entered time.Time
	meta    domain.RunMeta
	seen    *state.Seen
	log     *slog.Logger
}

func (r *run) enter(s domain.RunState) {
	now := r.m.now()
	r.m.met.stage(string(r.state)).Observe(now.Sub(r.entered).Seconds())
	r.log.Debug("run state", "from", r.state, "to", s)
	r.state = s
	r.entered = now
	r.meta.FinalState = s
}

func (r *run) fail(err error) error {
	r.enter(domain.StateFailed)
	r.log.Error("run failed", "error", err)
	return err
}

// Run executes one pass over queries for scope. The only errors returned are
// those that end the run in FAILED; everything else degrades the RunResult
// and is recorded in its metadata.
func (m *Monitor) Run(ctx context.Context, scope domain.Scope, queries []domain.Query) (*domain.RunResult, error) {
	start := m.now()
	r := &run{
		m:       m,
		scope:   scope,
		state:   domain.StateInit,
		entered: start,
		meta: domain.RunMeta{
			RunID:          m.newID(),
			Mode:           string(scope),
			Scope:          scope,
			StartedAt:      start.UTC(),
			QueryCount:     len(queries),
			QueryErrors:    make(map[string]string),
			PriorityCounts: make(map[domain.Priority]int),
			FinalState:     domain.StateInit,
		},
	}
	r.log = m.log.With("run_id", r.meta.RunID, "scope", scope)
	defer m.finish(r)

	if err := r.init(ctx, queries); err != nil {
		return nil, r.fail(err)
	}

	r.enter(domain.StateSearching)
	posts, err := fn.TracedStage[[]domain.Query, []domain.Post]("monitor.search", r.searchAll)(ctx, queries).Unwrap()
	if err != nil {
		return nil, r.fail(err)
	}

	r.enter(domain.StateDeduping)
	fresh := r.seen.FilterNew(posts, scope)
	r.meta.NewPosts = len(fresh)

	r.enter(domain.StateClassifying)
	kept := traced(ctx, "monitor.classify", func(context.Context) []domain.ClassifiedPost {
		return r.classify(fresh)
	})

	r.enter(domain.StateEnriching)
	res := traced(ctx, "monitor.enrich", func(ctx context.Context) *domain.RunResult {
		return r.enrich(ctx, kept)
	})

	r.enter(domain.StateFinalizing)
	traced(ctx, "monitor.finalize", func(ctx context.Context) struct{} {
		r.finalize(ctx, res, fresh)
		return struct{}{}
	})

	r.enter(domain.StateDone)
	res.Meta.FinalState = domain.StateDone
	r.log.Info("run complete",
		"new_posts", r.meta.NewPosts,
		"kept", len(res.Posts),
		"failed_queries", r.meta.FailedQueries,
		"enrich_failures", r.meta.EnrichmentFailures,
		"duration", m.now().Sub(start))
	return res, nil
}

func (r *run) init(ctx context.Context, queries []domain.Query) error {
	if !r.scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", domain.ErrInvalidConfig, r.scope)
	}
	if err := domain.ValidateQueries(queries); err != nil {
		return err
	}
	seen, err := r.m.store.Load(ctx)
	var corrupt *domain.StateCorruptError
	switch {
	case errors.As(err, &corrupt):
		r.log.Warn("seen state unreadable, starting empty", "path", corrupt.Path, "error", corrupt.Err)
		r.meta.StateWarning = corrupt.Error()
		seen = state.NewSeen()
	case err != nil:
		return fmt.Errorf("load state: %w", err)
	}
	r.seen = seen
	r.log.Debug("seen state loaded", "ids", seen.Len(r.scope), "last_run", seen.LastRun(r.scope))
	return nil
}

func (r *run) searchAll(ctx context.Context, queries []domain.Query) fn.Result[[]domain.Post] {
	tf := reddit.TimeFilterFor(r.scope)
	pages := fn.ParMapResult(queries, r.m.opts.Workers, func(q domain.Query) fn.Result[reddit.Page] {
		return fn.FromPair(r.m.search.SearchPage(ctx, q, tf))
	})

	var posts []domain.Post
	for i, res := range pages {
		q := queries[i]
		page, err := res.Unwrap()
		if err != nil {
			r.meta.FailedQueries++
			r.meta.QueryErrors[q.Label] = err.Error()
			r.m.met.query("error").Inc()
			r.log.Warn("query failed", "query", q.Label, "error", err)
			continue
		}
		r.m.met.query("ok").Inc()
		r.meta.SkippedRecords += page.Skipped
		posts = append(posts, page.Posts...)
		r.log.Debug("query done", "query", q.Label, "posts", len(page.Posts), "skipped", page.Skipped)
	}
	r.meta.FetchedPosts = len(posts)
	r.m.met.fetched().Add(int64(len(posts)))
	r.m.met.skipped().Add(int64(r.meta.SkippedRecords))

	if len(queries) > 0 && r.meta.FailedQueries == len(queries) {
		return fn.Err[[]domain.Post](fmt.Errorf("%w: all %d queries failed", domain.ErrTotalSearchFailure, len(queries)))
	}
	return fn.Ok(posts)
}

// traced runs a stage that cannot fail inside its own span.
func traced[T any](ctx context.Context, name string, f func(context.Context) T) T {
	ctx, span := otel.Tracer("engine/monitor").Start(ctx, name)
	defer span.End()
	return f(ctx)
}

func (r *run) classify(posts []domain.Post) []domain.ClassifiedPost {
	kept, excluded := r.m.classifier.Apply(posts)
	slices.SortStableFunc(kept, func(a, b domain.ClassifiedPost) int {
		return cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
	})
	for _, cp := range kept {
		r.meta.PriorityCounts[cp.Priority]++
		r.m.met.newPosts(cp.Priority).Inc()
	}
	r.m.met.excluded().Add(int64(excluded))
	return kept
}

func (r *run) enrich(ctx context.Context, kept []domain.ClassifiedPost) *domain.RunResult {
	er := r.m.fetcher.Enrich(ctx, kept, r.m.opts.MaxComments)
	r.meta.EnrichedPosts = er.Enriched
	r.meta.EnrichmentFailures = er.Failures
	r.m.met.enriched().Add(int64(er.Enriched))
	r.m.met.enrichFailures().Add(int64(er.Failures))

	if kept == nil {
		kept = []domain.ClassifiedPost{}
	}
	return &domain.RunResult{
		Posts:    kept,
		Comments: er.Comments,
		Findings: enrich.ScanComments(er.Comments, r.m.rules.BrandAliases, r.m.rules.Competitors),
	}
}

// finalize hands res to the durable artifact first. Seen state is committed
// only when that succeeds; the remaining handoffs run either way.
func (r *run) finalize(ctx context.Context, res *domain.RunResult, fresh []domain.Post) {
	r.meta.FinishedAt = r.m.now().UTC()
	r.meta.FinalState = domain.StateDone
	res.Meta = r.meta

	committed := false
	if a := r.m.artifact; a == nil {
		committed = r.commit(ctx, res, fresh)
	} else if err := a.Deliver(ctx, res); err != nil {
		r.m.met.handoffErrors(a.Name()).Inc()
		r.log.Error("durable handoff failed, seen state not committed", "handoff", a.Name(), "error", err)
		res.Meta.StateWarning = joinWarning(res.Meta.StateWarning, "seen state not committed: "+err.Error())
	} else {
		committed = r.commit(ctx, res, fresh)
	}

	for _, h := range r.m.handoffs {
		if err := h.Deliver(ctx, res); err != nil {
			r.m.met.handoffErrors(h.Name()).Inc()
			r.log.Warn("handoff failed", "handoff", h.Name(), "error", err)
			continue
		}
		r.log.Debug("handoff delivered", "handoff", h.Name())
	}
	r.log.Debug("finalized", "committed", committed)
}

func (r *run) commit(ctx context.Context, res *domain.RunResult, fresh []domain.Post) bool {
	r.seen.RecordSeen(fresh, r.scope)
	r.seen.Trim(r.m.opts.MaxSeenIDs)
	r.seen.MarkRun(r.scope, r.meta.StartedAt)
	if err := r.m.store.Save(ctx, r.seen); err != nil {
		r.m.met.handoffErrors("state").Inc()
		r.log.Error("save seen state", "error", err)
		res.Meta.StateWarning = joinWarning(res.Meta.StateWarning, "save state: "+err.Error())
		return false
	}
	r.m.met.seenIDs(r.scope).Set(int64(r.seen.Len(r.scope)))
	r.m.met.markRun(r.scope, r.meta.StartedAt)
	return true
}

func (m *Monitor) finish(r *run) {
	m.met.runs(r.state).Inc()
	if m.opts.MetricsFile == "" {
		return
	}
	if err := m.met.reg.WriteTextfile(m.opts.MetricsFile); err != nil {
		r.log.Warn("write metrics textfile", "path", m.opts.MetricsFile, "error", err)
	}
}

func joinWarning(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
