package analysis

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/engine/report"
)

const (
	promptTextLen     = 500
	promptCommentsLen = 800
	promptCommentLen  = 200
)

// BuildPrompt formats up to MaxPosts posts, with their top five comments,
// into the brand intelligence prompt.
func BuildPrompt(r *domain.RunResult, o Options) string {
	n := min(len(r.Posts), o.MaxPosts)
	entries := make([]string, 0, n)
	for _, p := range r.Posts[:n] {
		var e strings.Builder
		fmt.Fprintf(&e, "[%s] r/%s | %dpts | %d comments\n", p.Priority, p.Subreddit, p.Score, p.NumComments)
		fmt.Fprintf(&e, "Title: %s\n", p.Title)
		if p.BodyExcerpt != "" {
			fmt.Fprintf(&e, "Text: %s\n", domain.Truncate(p.BodyExcerpt, promptTextLen))
		}
		if top := report.TopComments(r.Comments[p.ID], 5); len(top) > 0 {
			parts := make([]string, len(top))
			for i, c := range top {
				parts[i] = fmt.Sprintf("u/%s (%dpts): %s", c.Author, c.Score, domain.Truncate(c.Body, promptCommentLen))
			}
			fmt.Fprintf(&e, "Top comments: %s\n", domain.Truncate(strings.Join(parts, " | "), promptCommentsLen))
		}
		entries = append(entries, e.String())
	}

	industry := o.Industry
	if industry == "" {
		industry = "software"
	}
	b := o.Brand
	return fmt.Sprintf(`You are a brand intelligence analyst. Analyze these Reddit posts and comments about %[1]s and its competitors in the %[2]s space.

Competitors to track: %[3]s

## Reddit Posts & Comments

%[4]s

## Required Output

Produce a structured brand intelligence report in markdown with these sections:

1. **%[1]s Brand Perception** — What users say (strengths, weaknesses, sentiment). Use a table format with quotes.

2. **Competitive Landscape** — Table of competitors with: mentions count, core strengths (from Reddit), core weaknesses, position vs %[1]s.

3. **Market Insights** — What buyers in this market need, with Reddit evidence and implications for %[1]s. Table format.

4. **Pain Points & Opportunities** — Common frustrations across the market and how %[1]s can capitalize. Include strategic opportunities.

5. **Recommendation Patterns** — Who gets recommended in which situations and why. Table format.

6. **Key Threats** — Competitors gaining mindshare, with evidence and potential impact.

7. **Actionable Recommendations** — Specific, prioritized actions for %[1]s across messaging, pricing, support, product, and community. Table format.

8. **Quote Bank** — Key Reddit quotes with source and insight. Table format.

9. **Summary** — 4-5 bullet executive summary with strategic focus areas.

Be specific. Use actual quotes and usernames from the data. Be direct about weaknesses — this is an internal report, not marketing copy.`,
		b, industry, strings.Join(o.Competitors, ", "), strings.Join(entries, "\n---\n"))
}
