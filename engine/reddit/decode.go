package reddit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
)

// Reddit JSON API response types. Children are kept raw so that each one is
// decoded on its own and a single malformed entry cannot fail the page.

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []json.RawMessage `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type postData struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	SelfText    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

type commentData struct {
	ID         string          `json:"id"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	Score      int             `json:"score"`
	CreatedUTC float64         `json:"created_utc"`
	Depth      int             `json:"depth"`
	Replies    json.RawMessage `json:"replies"`
}

// decodePost turns one raw listing child into a Post. ok is false for
// entries that do not decode or lack the identifying fields.
func decodePost(raw json.RawMessage, permalinkBase string) (domain.Post, bool) {
	var t thing
	if err := json.Unmarshal(raw, &t); err != nil {
		return domain.Post{}, false
	}
	if t.Kind != "" && t.Kind != "t3" {
		return domain.Post{}, false
	}
	var d postData
	if err := json.Unmarshal(t.Data, &d); err != nil {
		return domain.Post{}, false
	}
	if d.ID == "" || d.Subreddit == "" {
		return domain.Post{}, false
	}
	p := domain.Post{
		ID:          d.ID,
		Title:       d.Title,
		BodyExcerpt: domain.Truncate(d.SelfText, domain.MaxTextLen),
		Subreddit:   d.Subreddit,
		URL:         d.URL,
		Author:      authorOr(d.Author),
		CreatedAt:   unixUTC(d.CreatedUTC),
		Score:       d.Score,
		NumComments: d.NumComments,
	}
	if d.Permalink != "" {
		p.Permalink = permalinkBase + d.Permalink
	}
	return p, true
}

// decodePage decodes a search listing, returning the posts and the number of
// children that were skipped.
func decodePage(body []byte, permalinkBase string) ([]domain.Post, int, error) {
	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, 0, err
	}
	posts := make([]domain.Post, 0, len(l.Data.Children))
	skipped := 0
	for _, raw := range l.Data.Children {
		p, ok := decodePost(raw, permalinkBase)
		if !ok {
			skipped++
			continue
		}
		posts = append(posts, p)
	}
	return posts, skipped, nil
}

// decodeThread decodes a comments response ([post listing, comment listing])
// and flattens the comment tree depth-first.
func decodeThread(body []byte, postID string) ([]domain.Comment, int, error) {
	var listings []listing
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, 0, err
	}
	if len(listings) < 2 {
		return nil, 0, nil
	}
	var out []domain.Comment
	skipped := walkComments(listings[1].Data.Children, postID, 0, &out)
	return out, skipped, nil
}

func walkComments(children []json.RawMessage, postID string, depth int, out *[]domain.Comment) int {
	skipped := 0
	for _, raw := range children {
		var t thing
		if err := json.Unmarshal(raw, &t); err != nil {
			skipped++
			continue
		}
		// "more" stubs carry no body.
		if t.Kind != "t1" {
			continue
		}
		var d commentData
		if err := json.Unmarshal(t.Data, &d); err != nil || d.ID == "" {
			skipped++
			continue
		}
		if d.Depth == 0 && depth > 0 {
			d.Depth = depth
		}
		*out = append(*out, domain.Comment{
			ID:        d.ID,
			PostID:    postID,
			Body:      domain.Truncate(d.Body, domain.MaxTextLen),
			Score:     d.Score,
			Author:    authorOr(d.Author),
			CreatedAt: unixUTC(d.CreatedUTC),
			Depth:     d.Depth,
		})
		// Replies is "" when empty, otherwise a nested listing.
		if len(d.Replies) > 0 && d.Replies[0] == '{' {
			var replies listing
			if err := json.Unmarshal(d.Replies, &replies); err != nil {
				skipped++
				continue
			}
			skipped += walkComments(replies.Data.Children, postID, depth+1, out)
		}
	}
	return skipped
}

func authorOr(a string) string {
	if strings.TrimSpace(a) == "" {
		return "[deleted]"
	}
	return a
}

func unixUTC(secs float64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(secs), 0).UTC()
}
