// Package classify assigns a priority tier to a post from what it mentions.
package classify

import (
	"strings"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
)

// Rules holds the vocabularies matched against a post. Matching is a
// case-insensitive substring test on title and body.
type Rules struct {
	BrandAliases []string
	Competitors  []string
	Subreddits   []string // high-value subreddits, without the r/ prefix
	Keywords     []string // relevance and geographic terms
}

// compiled is Rules lowercased once.
type compiled struct {
	aliases, competitors, keywords []term
	subreddits                     map[string]string
}

type term struct {
	orig, lower string
}

func terms(src []string) []term {
	out := make([]term, 0, len(src))
	for _, s := range src {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, term{orig: s, lower: strings.ToLower(s)})
	}
	return out
}

func compile(r Rules) compiled {
	c := compiled{
		aliases:     terms(r.BrandAliases),
		competitors: terms(r.Competitors),
		keywords:    terms(r.Keywords),
		subreddits:  make(map[string]string, len(r.Subreddits)),
	}
	for _, s := range r.Subreddits {
		s = strings.TrimPrefix(strings.TrimSpace(s), "r/")
		if s != "" {
			c.subreddits[strings.ToLower(s)] = s
		}
	}
	return c
}

// Classifier is a Rules set prepared for repeated use.
type Classifier struct {
	c compiled
}

// New prepares r for classification.
func New(r Rules) *Classifier {
	return &Classifier{c: compile(r)}
}

// Classify returns the priority of p and every term it matched, in category
// order (aliases, competitors, subreddit, keywords) and configuration order
// within a category. ok is false when nothing matched.
func Classify(p domain.Post, r Rules) (domain.Priority, []string, bool) {
	return New(r).Classify(p)
}

// Classify is the prepared form of the package-level Classify.
func (cl *Classifier) Classify(p domain.Post) (domain.Priority, []string, bool) {
	text := strings.ToLower(p.Title + "\n" + p.BodyExcerpt)

	var matched []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			matched = append(matched, s)
		}
	}

	brand := false
	for _, t := range cl.c.aliases {
		if strings.Contains(text, t.lower) {
			brand = true
			add(t.orig)
		}
	}
	competitor := false
	for _, t := range cl.c.competitors {
		if strings.Contains(text, t.lower) {
			competitor = true
			add(t.orig)
		}
	}
	sub, highValue := cl.c.subreddits[strings.ToLower(p.Subreddit)]
	if highValue {
		add("r/" + sub)
	}
	keyword := false
	for _, t := range cl.c.keywords {
		if strings.Contains(text, t.lower) {
			keyword = true
			add(t.orig)
		}
	}

	switch {
	case brand:
		return domain.Urgent, matched, true
	case competitor, highValue:
		return domain.High, matched, true
	case keyword:
		return domain.Medium, matched, true
	}
	return "", nil, false
}

// Apply classifies posts, wrapping copies of the matches and dropping the
// rest. Input order is preserved.
func (cl *Classifier) Apply(posts []domain.Post) (kept []domain.ClassifiedPost, excluded int) {
	for _, p := range posts {
		prio, matched, ok := cl.Classify(p)
		if !ok {
			excluded++
			continue
		}
		cp := domain.ClassifiedPost{Post: p, Priority: prio}
		cp.MatchedTerms = matched
		kept = append(kept, cp)
	}
	return kept, excluded
}

// Mentions returns the terms of list found in text, case-insensitively.
func Mentions(text string, list []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, t := range terms(list) {
		if strings.Contains(lower, t.lower) {
			out = append(out, t.orig)
		}
	}
	return out
}
