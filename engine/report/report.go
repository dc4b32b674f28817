// Package report renders a RunResult as a markdown digest, converts it to
// HTML for email and writes the dated report files.
package report

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
)

const (
	selfTextQuoteLen = 400
	commentLen       = 200
	topComments      = 5
	findingQuoteLen  = 200
)

// Render builds the markdown report of r.
func Render(r *domain.RunResult, brand string) string {
	var b strings.Builder
	at := r.Meta.FinishedAt
	if at.IsZero() {
		at = r.Meta.StartedAt
	}
	fmt.Fprintf(&b, "# Reddit Monitor Report — %s\n\n", at.UTC().Format("2006-01-02 15:04 UTC"))
	b.WriteString(dateRange(r.Posts))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "**Mode:** %s | **New posts found:** %d\n\n", r.Meta.Mode, len(r.Posts))

	urgent := r.ByPriority(domain.Urgent)
	high := byEngagement(r.ByPriority(domain.High))
	medium := byEngagement(r.ByPriority(domain.Medium))

	var summary []string
	if len(urgent) > 0 {
		summary = append(summary, fmt.Sprintf("**%d URGENT** (%s mentions)", len(urgent), brand))
	}
	summary = append(summary, fmt.Sprintf("**%d HIGH**", len(high)), fmt.Sprintf("**%d MEDIUM**", len(medium)))
	b.WriteString(strings.Join(summary, " | "))
	b.WriteString("\n\n")
	if r.Meta.FailedQueries > 0 || r.Meta.EnrichmentFailures > 0 || r.Meta.StateWarning != "" {
		writeDegraded(&b, r.Meta)
	}
	b.WriteString("---\n\n")

	if len(urgent) > 0 {
		fmt.Fprintf(&b, "## URGENT — %s Mentions\n\n", brand)
		for _, p := range urgent {
			writePost(&b, p, r)
		}
		b.WriteString("---\n\n")
	}
	if len(high) > 0 {
		b.WriteString("## HIGH — Competitor / Industry\n\n")
		for _, p := range high {
			writePost(&b, p, r)
		}
		b.WriteString("---\n\n")
	}
	if len(medium) > 0 {
		b.WriteString("## MEDIUM — General\n\n")
		for _, p := range medium {
			writePost(&b, p, r)
		}
	}

	if ids := findingPosts(r); len(ids) > 0 {
		b.WriteString("---\n\n## Brand Mentions in Comments\n\n")
		for _, id := range ids {
			for _, f := range r.Findings[id] {
				fmt.Fprintf(&b, "- **u/%s** (%dpts) mentioned: %s\n", f.Author, f.Score, strings.Join(mentions(f), ", "))
				fmt.Fprintf(&b, "  > %s\n\n", domain.Truncate(f.Excerpt, findingQuoteLen))
			}
		}
	}

	if len(r.Posts) == 0 {
		b.WriteString("No new posts found since last run. All clear.\n\n")
	}
	return b.String()
}

func dateRange(posts []domain.ClassifiedPost) string {
	if len(posts) == 0 {
		return "**No posts found**"
	}
	var lo, hi time.Time
	for _, p := range posts {
		if p.CreatedAt.IsZero() {
			continue
		}
		if lo.IsZero() || p.CreatedAt.Before(lo) {
			lo = p.CreatedAt
		}
		if hi.IsZero() || p.CreatedAt.After(hi) {
			hi = p.CreatedAt
		}
	}
	if lo.IsZero() {
		return fmt.Sprintf("**%d posts analyzed**", len(posts))
	}
	const f = "Jan 02, 2006"
	return fmt.Sprintf("**Posts from: %s – %s | %d posts analyzed**", lo.UTC().Format(f), hi.UTC().Format(f), len(posts))
}

func writeDegraded(b *strings.Builder, m domain.RunMeta) {
	b.WriteString("> **Degraded run:**")
	if m.FailedQueries > 0 {
		fmt.Fprintf(b, " %d of %d queries failed.", m.FailedQueries, m.QueryCount)
	}
	if m.EnrichmentFailures > 0 {
		fmt.Fprintf(b, " %d comment fetches failed.", m.EnrichmentFailures)
	}
	if m.StateWarning != "" {
		fmt.Fprintf(b, " %s", m.StateWarning)
	}
	b.WriteString("\n\n")
}

// byEngagement sorts by score plus comment count, highest first.
func byEngagement(posts []domain.ClassifiedPost) []domain.ClassifiedPost {
	slices.SortStableFunc(posts, func(a, b domain.ClassifiedPost) int {
		return cmp.Compare(b.Score+b.NumComments, a.Score+a.NumComments)
	})
	return posts
}

func link(p domain.ClassifiedPost) string {
	if p.Permalink != "" {
		return p.Permalink
	}
	return p.URL
}

func writePost(b *strings.Builder, p domain.ClassifiedPost, r *domain.RunResult) {
	fmt.Fprintf(b, "### [%s] %s\n\n", p.Priority, p.Title)
	fmt.Fprintf(b, "- **Subreddit:** r/%s | **Score:** %d | **Comments:** %d | **Author:** u/%s\n",
		p.Subreddit, p.Score, p.NumComments, p.Author)
	posted := "unknown"
	if !p.CreatedAt.IsZero() {
		posted = p.CreatedAt.UTC().Format("2006-01-02")
	}
	fmt.Fprintf(b, "- **Posted:** %s | **Link:** %s\n", posted, link(p))
	label := p.QueryLabel
	if label == "" {
		label = "unknown"
	}
	fmt.Fprintf(b, "- **Query:** %s\n", label)
	if len(p.MatchedTerms) > 0 {
		fmt.Fprintf(b, "- **Matched:** %s\n", strings.Join(p.MatchedTerms, ", "))
	}
	b.WriteString("\n")

	if body := strings.TrimSpace(p.BodyExcerpt); body != "" {
		fmt.Fprintf(b, "> %s\n\n", strings.ReplaceAll(domain.Truncate(body, selfTextQuoteLen), "\n", " "))
	}

	if comments := TopComments(r.Comments[p.ID], topComments); len(comments) > 0 {
		b.WriteString("**Top comments:**\n")
		for _, c := range comments {
			body := strings.ReplaceAll(domain.Truncate(c.Body, commentLen), "\n", " ")
			fmt.Fprintf(b, "- [%dpts] u/%s: %s\n", c.Score, c.Author, body)
		}
		b.WriteString("\n")
	}

	if findings := r.Findings[p.ID]; len(findings) > 0 {
		b.WriteString("**Brand mentions in thread:**\n")
		for _, f := range findings {
			fmt.Fprintf(b, "- u/%s: %s\n", f.Author, strings.Join(mentions(f), ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// TopComments returns up to n comments by score, highest first.
func TopComments(comments []domain.Comment, n int) []domain.Comment {
	sorted := slices.Clone(comments)
	slices.SortStableFunc(sorted, func(a, b domain.Comment) int { return cmp.Compare(b.Score, a.Score) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func mentions(f domain.CommentFinding) []string {
	return append(slices.Clone(f.BrandMentions), f.CompetitorMentions...)
}

// findingPosts lists posts with findings in result order.
func findingPosts(r *domain.RunResult) []string {
	var ids []string
	for _, p := range r.Posts {
		if len(r.Findings[p.ID]) > 0 {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
