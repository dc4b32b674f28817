package repo

import (
	"context"
	"fmt"
	"regexp"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo is a generic Neo4j-backed repository over nodes of one label.
type Neo4jRepo[T any, ID comparable] struct {
	driver     neo4j.DriverWithContext
	label      string
	idKey      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
	newSession func(ctx context.Context) runner // for testing
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// NewNeo4jRepo creates a new Neo4j-backed repository.
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		driver:     driver,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) session(ctx context.Context) runner {
	if r.newSession != nil {
		return r.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// Get returns the node with the given id, or ErrNotFound.
func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, err
	}
	if !res.Next(ctx) {
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(res.Record())
}

// Upsert merges the node on its id and overwrites the mapped properties.
func (r *Neo4jRepo[T, ID]) Upsert(ctx context.Context, entity T) error {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n += $props", r.label, r.idKey)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": props[r.idKey], "props": props})
	return err
}

// Link merges a relationship of type rel from the node with id `from` to a
// node of label toLabel keyed by `to`, creating the target node if needed.
// props are set on the relationship.
func (r *Neo4jRepo[T, ID]) Link(ctx context.Context, from ID, rel, toLabel string, to any, props map[string]any) error {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:%s {%s: $from})
		 MERGE (b:%s {id: $to})
		 MERGE (a)-[r:%s]->(b)
		 SET r += $props`,
		r.label, r.idKey, sanitizeIdent(toLabel), sanitizeIdent(rel),
	)
	if props == nil {
		props = map[string]any{}
	}
	_, err := sess.Run(ctx, cypher, map[string]any{"from": from, "to": to, "props": props})
	return err
}

var identRe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// sanitizeIdent strips anything that cannot appear in an unquoted Cypher
// label or relationship type.
func sanitizeIdent(s string) string {
	s = identRe.ReplaceAllString(s, "_")
	if s == "" {
		return "RELATED_TO"
	}
	return s
}
