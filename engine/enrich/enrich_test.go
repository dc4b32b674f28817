package enrich

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
)

type fakeSource struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeSource) Comments(ctx context.Context, p domain.Post) ([]domain.Comment, error) {
	f.calls = append(f.calls, p.ID)
	if f.fail[p.ID] {
		return nil, &domain.FetchError{Op: "comments", URL: p.ID, StatusCode: 500, Err: errors.New("boom")}
	}
	return []domain.Comment{{ID: "c-" + p.ID, PostID: p.ID, Body: "hi"}}, nil
}

func cp(id string, score, comments int) domain.ClassifiedPost {
	return domain.ClassifiedPost{Post: domain.Post{ID: id, Score: score, NumComments: comments}, Priority: domain.Medium}
}

func TestEnrichFetchesTopByScore(t *testing.T) {
	src := &fakeSource{}
	posts := []domain.ClassifiedPost{cp("p10", 10, 0), cp("p50", 50, 0), cp("p30", 30, 0)}
	res := New(src).Enrich(context.Background(), posts, 2)
	if !reflect.DeepEqual(src.calls, []string{"p50", "p30"}) {
		t.Fatalf("fetch order = %v", src.calls)
	}
	if res.Enriched != 2 || res.Failures != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := res.Comments["p10"]; ok {
		t.Fatal("p10 should not be enriched")
	}
}

func TestEnrichIsolatesFailures(t *testing.T) {
	src := &fakeSource{fail: map[string]bool{"b": true}}
	posts := []domain.ClassifiedPost{cp("a", 3, 0), cp("b", 2, 0), cp("c", 1, 0)}
	res := New(src).Enrich(context.Background(), posts, 3)
	if len(src.calls) != 3 {
		t.Fatalf("expected all posts attempted, got %v", src.calls)
	}
	if res.Failures != 1 || res.Enriched != 2 {
		t.Fatalf("unexpected counts %+v", res)
	}
	got, ok := res.Comments["b"]
	if !ok || len(got) != 0 {
		t.Fatalf("failed post should map to zero comments, got %v ok=%v", got, ok)
	}
	if len(res.Comments["c"]) != 1 {
		t.Fatal("post after failure should still be enriched")
	}
}

func TestEnrichMinComments(t *testing.T) {
	src := &fakeSource{}
	posts := []domain.ClassifiedPost{cp("quiet", 100, 2), cp("busy", 1, 20)}
	New(src, WithMinComments(5)).Enrich(context.Background(), posts, 5)
	if !reflect.DeepEqual(src.calls, []string{"busy"}) {
		t.Fatalf("calls = %v", src.calls)
	}
}

func TestEnrichZeroLimit(t *testing.T) {
	src := &fakeSource{}
	res := New(src).Enrich(context.Background(), []domain.ClassifiedPost{cp("a", 1, 1)}, 0)
	if len(src.calls) != 0 || len(res.Comments) != 0 {
		t.Fatal("limit 0 should fetch nothing")
	}
}

func TestRankTieBreaks(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := cp("a", 5, 3)
	b := cp("b", 5, 9)
	c := cp("c", 5, 3)
	c.CreatedAt = t0.Add(time.Hour)
	a.CreatedAt = t0
	d := cp("d", 5, 3)
	d.CreatedAt = t0
	got := Rank([]domain.ClassifiedPost{a, d, c, b})
	order := []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}
	if !reflect.DeepEqual(order, []string{"b", "c", "a", "d"}) {
		t.Fatalf("rank order = %v", order)
	}
}

func TestScanComments(t *testing.T) {
	comments := map[string][]domain.Comment{
		"p1": {
			{ID: "c1", Author: "al", Score: 4, Body: "We use ACME daily"},
			{ID: "c2", Body: "unrelated"},
			{ID: "c3", Body: "Globex was slow, acme better"},
		},
		"p2": {{ID: "c4", Body: "nothing"}},
	}
	got := ScanComments(comments, []string{"Acme"}, []string{"Globex"})
	if len(got["p1"]) != 2 || len(got["p2"]) != 0 {
		t.Fatalf("unexpected findings %+v", got)
	}
	f := got["p1"][1]
	if f.CommentID != "c3" || !reflect.DeepEqual(f.BrandMentions, []string{"Acme"}) || !reflect.DeepEqual(f.CompetitorMentions, []string{"Globex"}) {
		t.Fatalf("unexpected finding %+v", f)
	}
	if got["p1"][0].Author != "al" || got["p1"][0].Score != 4 {
		t.Fatalf("finding lost comment fields: %+v", got["p1"][0])
	}
}
