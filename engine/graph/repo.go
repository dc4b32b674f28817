package graph

import (
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// PostNode is the graph projection of a classified post.
type PostNode struct {
	ID          string
	Title       string
	Subreddit   string
	Author      string
	Link        string
	Priority    domain.Priority
	Score       int64
	NumComments int64
	CreatedAt   time.Time
}

func nodeFromPost(cp domain.ClassifiedPost) PostNode {
	link := cp.Permalink
	if link == "" {
		link = cp.URL
	}
	return PostNode{
		ID:          cp.ID,
		Title:       cp.Title,
		Subreddit:   cp.Subreddit,
		Author:      cp.Author,
		Link:        link,
		Priority:    cp.Priority,
		Score:       int64(cp.Score),
		NumComments: int64(cp.NumComments),
		CreatedAt:   cp.CreatedAt,
	}
}

func newPostRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[PostNode, string] {
	return repo.NewNeo4jRepo[PostNode, string](
		driver,
		LabelPost,
		postToMap,
		postFromRecord,
	)
}

func postToMap(p PostNode) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"title":        p.Title,
		"subreddit":    p.Subreddit,
		"author":       p.Author,
		"link":         p.Link,
		"priority":     string(p.Priority),
		"score":        p.Score,
		"num_comments": p.NumComments,
		"created_at":   p.CreatedAt.UTC(),
	}
}

func postFromRecord(rec *neo4j.Record) (PostNode, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return PostNode{}, err
	}
	props := node.Props
	p := PostNode{
		ID:          strProp(props, "id"),
		Title:       strProp(props, "title"),
		Subreddit:   strProp(props, "subreddit"),
		Author:      strProp(props, "author"),
		Link:        strProp(props, "link"),
		Priority:    domain.Priority(strProp(props, "priority")),
		Score:       intProp(props, "score"),
		NumComments: intProp(props, "num_comments"),
	}
	if t, ok := props["created_at"].(time.Time); ok {
		p.CreatedAt = t
	}
	return p, nil
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int64 {
	if n, ok := props[key].(int64); ok {
		return n
	}
	return 0
}
