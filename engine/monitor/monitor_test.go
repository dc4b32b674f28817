package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/classify"
	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/engine/reddit"
	"github.com/WessleyAI/reddit-monitor/engine/state"
	"github.com/WessleyAI/reddit-monitor/pkg/metrics"
	"github.com/WessleyAI/reddit-monitor/pkg/resilience"
)

// --- fakes ---

type fakeSearcher struct {
	mu      sync.Mutex
	pages   map[string]reddit.Page // keyed by label, or label+"@"+filter
	errs    map[string]error
	filters []string
}

func (f *fakeSearcher) SearchPage(_ context.Context, q domain.Query, tf string) (reddit.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, q.Label+"@"+tf)
	if err := f.errs[q.Label]; err != nil {
		return reddit.Page{}, err
	}
	if p, ok := f.pages[q.Label+"@"+tf]; ok {
		return p, nil
	}
	p := f.pages[q.Label]
	for i := range p.Posts {
		p.Posts[i].QueryLabel = q.Label
	}
	return p, nil
}

type fakeComments struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	body  string
}

func (f *fakeComments) Comments(_ context.Context, p domain.Post) ([]domain.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p.ID)
	if f.fail[p.ID] {
		return nil, errors.New("thread unavailable")
	}
	return []domain.Comment{{ID: "c-" + p.ID, PostID: p.ID, Body: f.body, Author: "u"}}, nil
}

type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.log = append(e.log, s)
	e.mu.Unlock()
}

type memStore struct {
	seen    *state.Seen
	loadErr error
	saveErr error
	saves   int
	ev      *events
}

func (m *memStore) Load(context.Context) (*state.Seen, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.seen == nil {
		m.seen = state.NewSeen()
	}
	return m.seen, nil
}

func (m *memStore) Save(_ context.Context, s *state.Seen) error {
	if m.ev != nil {
		m.ev.add("save")
	}
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.seen = s
	return nil
}

func (m *memStore) Close() error { return nil }

type recHandoff struct {
	name string
	err  error
	ev   *events
	got  *domain.RunResult
}

func (h *recHandoff) Name() string { return h.name }

func (h *recHandoff) Deliver(_ context.Context, r *domain.RunResult) error {
	if h.ev != nil {
		h.ev.add(h.name)
	}
	h.got = r
	return h.err
}

// --- helpers ---

var rules = classify.Rules{
	BrandAliases: []string{"Acme"},
	Competitors:  []string{"Globex"},
	Subreddits:   []string{"smallbusiness"},
	Keywords:     []string{"payroll"},
}

func post(id, title string, score, comments int) domain.Post {
	return domain.Post{ID: id, Title: title, Subreddit: "fintech", Score: score, NumComments: comments, CreatedAt: time.Unix(1700000000, 0).UTC()}
}

func query(label string) domain.Query {
	return domain.Query{Label: label, Term: label, Scope: domain.ScopeKeyword, RunType: domain.Daily}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type harness struct {
	search   *fakeSearcher
	comments *fakeComments
	store    *memStore
	artifact *recHandoff
	extra    *recHandoff
	ev       *events
	mon      *Monitor
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ev := &events{}
	h := &harness{
		search:   &fakeSearcher{pages: map[string]reddit.Page{}, errs: map[string]error{}},
		comments: &fakeComments{fail: map[string]bool{}, body: "we moved from Globex to Acme"},
		store:    &memStore{ev: ev},
		artifact: &recHandoff{name: "artifact", ev: ev},
		extra:    &recHandoff{name: "nats", ev: ev},
		ev:       ev,
	}
	h.mon = New(Deps{
		Searcher: h.search,
		Comments: h.comments,
		Store:    h.store,
		Rules:    rules,
		Artifact: h.artifact,
		Handoffs: []Handoff{h.extra},
		Logger:   quietLogger(),
	}, opts)
	h.mon.newID = func() string { return "run-fixed" }
	return h
}

// --- tests ---

func TestRunPartialFailure(t *testing.T) {
	h := newHarness(t, Options{Workers: 2, MaxComments: 5})
	h.search.pages["q1"] = reddit.Page{Posts: []domain.Post{post("a", "Acme is great", 10, 0)}}
	h.search.errs["q2"] = &domain.FetchError{Op: "search", StatusCode: 503, Err: errors.New("unavailable")}
	h.search.pages["q3"] = reddit.Page{Posts: []domain.Post{post("b", "payroll advice", 3, 0)}, Skipped: 2}

	res, err := h.mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1"), query("q2"), query("q3")})
	if err != nil {
		t.Fatalf("partial failure should not fail the run: %v", err)
	}
	m := res.Meta
	if m.FailedQueries != 1 || m.QueryErrors["q2"] == "" {
		t.Fatalf("expected q2 recorded as failed, got %+v", m)
	}
	if m.FetchedPosts != 2 || m.SkippedRecords != 2 || m.NewPosts != 2 {
		t.Fatalf("unexpected counts %+v", m)
	}
	if m.FinalState != domain.StateDone || m.RunID != "run-fixed" {
		t.Fatalf("state=%s id=%s", m.FinalState, m.RunID)
	}
	if len(res.Posts) != 2 || res.Posts[0].ID != "a" || res.Posts[0].Priority != domain.Urgent {
		t.Fatalf("expected URGENT post first, got %+v", res.Posts)
	}
	if m.PriorityCounts[domain.Urgent] != 1 || m.PriorityCounts[domain.Medium] != 1 {
		t.Fatalf("priority counts %+v", m.PriorityCounts)
	}
	if !h.store.seen.Contains(domain.Daily, "a") || !h.store.seen.Contains(domain.Daily, "b") {
		t.Fatal("new posts should be recorded as seen")
	}
}

func TestRunTotalSearchFailure(t *testing.T) {
	h := newHarness(t, Options{})
	for _, l := range []string{"q1", "q2"} {
		h.search.errs[l] = errors.New("down")
	}
	res, err := h.mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1"), query("q2")})
	if !errors.Is(err, domain.ErrTotalSearchFailure) {
		t.Fatalf("expected ErrTotalSearchFailure, got %v", err)
	}
	if res != nil {
		t.Fatal("failed run should not produce a result")
	}
	if len(h.ev.log) != 0 {
		t.Fatalf("nothing should be handed off or saved, got %v", h.ev.log)
	}
}

func TestRunNoQueries(t *testing.T) {
	h := newHarness(t, Options{})
	if _, err := h.mon.Run(context.Background(), domain.Daily, nil); !errors.Is(err, domain.ErrNoQueries) {
		t.Fatalf("expected ErrNoQueries, got %v", err)
	}
}

func TestRunStateLoadErrorFails(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.loadErr = errors.New("permission denied")
	h.search.pages["q1"] = reddit.Page{Posts: []domain.Post{post("a", "Acme", 1, 0)}}
	_, err := h.mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1")})
	if err == nil || errors.Is(err, domain.ErrTotalSearchFailure) {
		t.Fatalf("expected load error, got %v", err)
	}
	if len(h.search.filters) != 0 {
		t.Fatal("no search should run after INIT fails")
	}
}

func TestRunRecoversFromCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := state.NewJSONStore(path)
	search := &fakeSearcher{pages: map[string]reddit.Page{"q1": {Posts: []domain.Post{post("a", "Acme", 1, 0)}}}}
	mon := New(Deps{Searcher: search, Comments: &fakeComments{}, Store: store, Rules: rules,
		Artifact: ArtifactHandoff{Path: filepath.Join(t.TempDir(), "last_run_summary.json")}, Logger: quietLogger()}, Options{})

	res, err := mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1")})
	if err != nil {
		t.Fatalf("corrupt state should fail open: %v", err)
	}
	if res.Meta.StateWarning == "" || res.Meta.NewPosts != 1 {
		t.Fatalf("expected warning and 1 new post, got %+v", res.Meta)
	}
	seen, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("state should be rewritten cleanly: %v", err)
	}
	if !seen.Contains(domain.Daily, "a") {
		t.Fatal("rewritten state should contain the run's posts")
	}
}

func TestRunCommitOrdering(t *testing.T) {
	h := newHarness(t, Options{})
	h.search.pages["q1"] = reddit.Page{Posts: []domain.Post{post("a", "Acme", 1, 0)}}
	if _, err := h.mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1")}); err != nil {
		t.Fatal(err)
	}
	want := []string{"artifact", "save", "nats"}
	if strings.Join(h.ev.log, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, h.ev.log)
	}
	if h.artifact.got.Meta.FinalState != domain.StateDone {
		t.Fatalf("artifact should carry the final state, got %s", h.artifact.got.Meta.FinalState)
	}
}

func TestRunArtifactFailureLeavesStateUncommitted(t *testing.T) {
	h := newHarness(t, Options{})
	h.search.pages["q1"] = reddit.Page{Posts: []domain.Post{post("a", "Acme", 1, 0)}}
	h.artifact.err = errors.New("disk full")

	res, err := h.mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1")})
	if err != nil {
		t.Fatalf("handoff failure should not fail the run: %v", err)
	}
	if h.store.saves != 0 || h.store.seen.Contains(domain.Daily, "a") {
		t.Fatal("seen state must not be committed after a failed artifact write")
	}
	if !strings.Contains(res.Meta.StateWarning, "not committed") {
		t.Fatalf("expected warning, got %q", res.Meta.StateWarning)
	}

	h.artifact.err = nil
	res, err = h.mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1")})
	if err != nil || res.Meta.NewPosts != 1 {
		t.Fatalf("post should re-surface on the next run: %+v %v", res.Meta, err)
	}
}

func TestRunDedupAcrossRuns(t *testing.T) {
	h := newHarness(t, Options{})
	h.search.pages["q1"] = reddit.Page{Posts: []domain.Post{post("a", "Acme", 1, 0), post("z", "unrelated", 1, 0)}}
	h.search.pages["q2"] = reddit.Page{Posts: []domain.Post{post("a", "Acme", 1, 0)}}
	qs := []domain.Query{query("q1"), query("q2")}

	first, err := h.mon.Run(context.Background(), domain.Daily, qs)
	if err != nil {
		t.Fatal(err)
	}
	if first.Meta.NewPosts != 2 || len(first.Posts) != 1 {
		t.Fatalf("expected 2 new (1 kept), got %+v", first.Meta)
	}
	second, err := h.mon.Run(context.Background(), domain.Daily, qs)
	if err != nil {
		t.Fatal(err)
	}
	if second.Meta.NewPosts != 0 || len(second.Posts) != 0 {
		t.Fatalf("second run should surface nothing, got %+v", second.Meta)
	}
	weekly, err := h.mon.Run(context.Background(), domain.Weekly, []domain.Query{{Label: "q1", Term: "x", Scope: domain.ScopeKeyword, RunType: domain.Weekly}})
	if err != nil || weekly.Meta.NewPosts != 2 {
		t.Fatalf("weekly scope is independent: %+v %v", weekly, err)
	}
	if h.search.filters[len(h.search.filters)-1] != "q1@"+reddit.TimeMonth {
		t.Fatalf("weekly runs search the past month, got %v", h.search.filters)
	}
}

func TestRunEnrichesTopRankedPosts(t *testing.T) {
	h := newHarness(t, Options{MaxComments: 2})
	h.search.pages["q1"] = reddit.Page{Posts: []domain.Post{
		post("p10", "payroll 10", 10, 3),
		post("p50", "payroll 50", 50, 3),
		post("p30", "payroll 30", 30, 3),
	}}
	h.comments.fail["p30"] = true

	res, err := h.mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1")})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(h.comments.calls, ",") != "p50,p30" {
		t.Fatalf("expected p50 then p30, got %v", h.comments.calls)
	}
	if res.Meta.EnrichedPosts != 1 || res.Meta.EnrichmentFailures != 1 {
		t.Fatalf("unexpected enrichment counts %+v", res.Meta)
	}
	if c, ok := res.Comments["p30"]; !ok || len(c) != 0 {
		t.Fatalf("failed post should map to no comments, got %v", c)
	}
	f := res.Findings["p50"]
	if len(f) != 1 || f[0].BrandMentions[0] != "Acme" || f[0].CompetitorMentions[0] != "Globex" {
		t.Fatalf("expected comment finding, got %+v", f)
	}
	if res.Posts[0].Priority != domain.Medium {
		t.Fatal("comment mentions must not change priority")
	}
}

func TestRunWritesMetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.prom")
	reg := metrics.New()
	search := &fakeSearcher{pages: map[string]reddit.Page{"q1": {Posts: []domain.Post{post("a", "Acme", 1, 0)}}}}
	mon := New(Deps{Searcher: search, Comments: &fakeComments{}, Store: &memStore{}, Rules: rules, Metrics: reg, Logger: quietLogger()},
		Options{MetricsFile: path})
	if _, err := mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1")}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"reddit_monitor_runs_total", "reddit_monitor_posts_new_total", "reddit_monitor_queries_total"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics file missing %s", want)
		}
	}
}

func TestRunWithNothingKeptReturnsEmptyResult(t *testing.T) {
	store := &memStore{}
	art := &recHandoff{name: "artifact"}
	search := &fakeSearcher{pages: map[string]reddit.Page{"q1": {Posts: []domain.Post{post("x1", "unrelated chatter", 3, 50)}}}}
	comments := &fakeComments{}
	mon := New(Deps{Searcher: search, Comments: comments, Store: store, Rules: rules, Artifact: art, Logger: quietLogger()},
		Options{MaxComments: 5})

	res, err := mon.Run(context.Background(), domain.Daily, []domain.Query{query("q1")})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Posts == nil || len(res.Posts) != 0 {
		t.Fatalf("expected empty non-nil posts, got %+v", res)
	}
	if res.Meta.FinalState != domain.StateDone || res.Meta.NewPosts != 1 {
		t.Fatalf("meta = %+v", res.Meta)
	}
	if len(comments.calls) != 0 {
		t.Fatalf("excluded posts must not be enriched: %v", comments.calls)
	}
	if art.got != res || !store.seen.Contains(domain.Daily, "x1") {
		t.Fatal("excluded post should still be handed off and recorded as seen")
	}
}

func TestRunSurvivesMissingSubreddits(t *testing.T) {
	var global atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/r/") {
			http.NotFound(w, r)
			return
		}
		global.Add(1)
		fmt.Fprint(w, `{"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"g1","title":"Acme payroll","subreddit":"fintech","created_utc":1700000000}}]}}`)
	}))
	defer srv.Close()

	client := reddit.New(reddit.Config{BaseURL: srv.URL, RetryAttempts: 2, RetryWait: time.Millisecond},
		reddit.WithBreaker(resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 5, Timeout: time.Hour})),
		reddit.WithLogger(quietLogger()))

	var qs []domain.Query
	for i := 0; i < 5; i++ {
		qs = append(qs, domain.Query{Label: fmt.Sprintf("sub_%d", i), Term: "payroll", Scope: domain.ScopeSubredditScan,
			RunType: domain.Daily, Subreddit: fmt.Sprintf("banned%d", i)})
	}
	qs = append(qs, query("global"))

	mon := New(Deps{Searcher: client, Comments: &fakeComments{}, Store: &memStore{}, Rules: rules, Logger: quietLogger()},
		Options{Workers: 1})
	res, err := mon.Run(context.Background(), domain.Daily, qs)
	if err != nil {
		t.Fatalf("run should complete when one query succeeds: %v", err)
	}
	if global.Load() != 1 || res.Meta.FailedQueries != 5 || len(res.Posts) != 1 {
		t.Fatalf("global hits=%d failed=%d posts=%d", global.Load(), res.Meta.FailedQueries, len(res.Posts))
	}
}
