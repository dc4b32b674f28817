package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// --- Mock infrastructure ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record {
	return m.records[m.idx-1]
}

type mockRunner struct {
	result  *mockResult
	err     error
	cyphers []string
	params  []map[string]any
}

func (m *mockRunner) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockRunner) Close(ctx context.Context) error { return nil }

type entity struct {
	ID   string
	Name string
}

func makeRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{map[string]any{"id": id, "name": name}},
		Keys:   []string{"n"},
	}
}

func newTestRepo(r *mockRunner) *Neo4jRepo[entity, string] {
	repo := NewNeo4jRepo[entity, string](
		nil, "Post",
		func(e entity) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (entity, error) {
			m, ok := rec.Values[0].(map[string]any)
			if !ok {
				return entity{}, errors.New("bad type")
			}
			return entity{ID: m["id"].(string), Name: m["name"].(string)}, nil
		},
	)
	repo.newSession = func(ctx context.Context) runner { return r }
	return repo
}

// --- Tests ---

func TestNewNeo4jRepoDefaults(t *testing.T) {
	r := NewNeo4jRepo[entity, string](nil, "Node", nil, nil)
	if r.idKey != "id" {
		t.Fatalf("expected default idKey=id, got %s", r.idKey)
	}
	r = NewNeo4jRepo[entity, string](nil, "Node", nil, nil, WithIDKey[entity, string]("uuid"))
	if r.idKey != "uuid" {
		t.Fatalf("expected idKey=uuid, got %s", r.idKey)
	}
}

func TestGet(t *testing.T) {
	m := &mockRunner{result: &mockResult{records: []*neo4j.Record{makeRecord("abc", "hello")}}}
	got, err := newTestRepo(m).Get(context.Background(), "abc")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "abc" || got.Name != "hello" {
		t.Fatalf("unexpected entity %+v", got)
	}
	if !strings.Contains(m.cyphers[0], "MATCH (n:Post {id: $id})") {
		t.Fatalf("unexpected cypher %s", m.cyphers[0])
	}
}

func TestGetNotFound(t *testing.T) {
	m := &mockRunner{result: &mockResult{}}
	_, err := newTestRepo(m).Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertUsesMerge(t *testing.T) {
	m := &mockRunner{result: &mockResult{}}
	if err := newTestRepo(m).Upsert(context.Background(), entity{ID: "p1", Name: "n"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(m.cyphers[0], "MERGE (n:Post {id: $id}) SET n += $props") {
		t.Fatalf("unexpected cypher %s", m.cyphers[0])
	}
	if m.params[0]["id"] != "p1" {
		t.Fatalf("unexpected id param %v", m.params[0]["id"])
	}
}

func TestUpsertError(t *testing.T) {
	m := &mockRunner{err: errors.New("down")}
	if err := newTestRepo(m).Upsert(context.Background(), entity{ID: "p1"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLinkSanitizesIdentifiers(t *testing.T) {
	m := &mockRunner{result: &mockResult{}}
	err := newTestRepo(m).Link(context.Background(), "p1", "MENTIONS; DROP", "Term", "acme", nil)
	if err != nil {
		t.Fatal(err)
	}
	c := m.cyphers[0]
	if !strings.Contains(c, "[r:MENTIONS__DROP]") || !strings.Contains(c, "MERGE (b:Term {id: $to})") {
		t.Fatalf("unexpected cypher %s", c)
	}
	if m.params[0]["to"] != "acme" {
		t.Fatalf("unexpected params %v", m.params[0])
	}
}
