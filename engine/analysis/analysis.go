// Package analysis turns a RunResult into an AI-written brand intelligence
// report and keeps a monthly count of analysis runs.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/pkg/fileutil"
)

var (
	ErrNoAPIKey      = errors.New("ANTHROPIC_API_KEY is not set")
	ErrEmptyResponse = errors.New("empty response from model")
	ErrNoPosts       = errors.New("no posts to analyze")
)

// Completion is a model reply.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Summarizer is the model collaborator.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (Completion, error)
}

// Options configures an Analyzer.
type Options struct {
	Brand       string
	Industry    string
	Competitors []string
	Model       string
	MaxPosts    int
	FreeRuns    int
	ReportsDir  string
	UsagePath   string
}

// Report is the outcome of one analysis.
type Report struct {
	Text          string
	Path          string
	DatedPath     string
	RunsThisMonth int
	Completion    Completion
}

// Analyzer builds the prompt, calls the Summarizer and writes the report.
type Analyzer struct {
	sum  Summarizer
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// New creates an Analyzer. A nil logger uses slog.Default().
func New(sum Summarizer, opts Options, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxPosts <= 0 {
		opts.MaxPosts = 50
	}
	return &Analyzer{sum: sum, opts: opts, log: log, now: time.Now}
}

// Run analyzes r and writes reports/analysis.md plus a dated copy. The usage
// counter is only advanced after the reports are written.
func (a *Analyzer) Run(ctx context.Context, r *domain.RunResult) (Report, error) {
	if len(r.Posts) == 0 {
		return Report{}, ErrNoPosts
	}
	now := a.now().UTC()
	month := now.Format("2006-01")

	usage, err := LoadUsage(a.opts.UsagePath)
	if err != nil {
		return Report{}, err
	}
	count := usage.Count(month)
	if a.opts.FreeRuns > 0 && count >= a.opts.FreeRuns {
		a.log.Warn("monthly analysis allowance used", "runs", count, "included", a.opts.FreeRuns)
	}

	prompt := BuildPrompt(r, a.opts)
	a.log.Info("sending posts for analysis", "posts", min(len(r.Posts), a.opts.MaxPosts), "model", a.opts.Model)
	c, err := a.sum.Summarize(ctx, prompt)
	if err != nil {
		return Report{}, err
	}
	if c.Text == "" {
		return Report{}, ErrEmptyResponse
	}

	text := header(a.opts, min(len(r.Posts), a.opts.MaxPosts), now) + c.Text
	latest := filepath.Join(a.opts.ReportsDir, "analysis.md")
	dated := filepath.Join(a.opts.ReportsDir, "analysis-"+now.Format("2006-01-02")+".md")
	for _, p := range []string{latest, dated} {
		if err := fileutil.WriteAtomic(p, []byte(text)); err != nil {
			return Report{}, fmt.Errorf("write analysis: %w", err)
		}
	}

	usage.Set(month, count+1)
	if err := usage.Save(a.opts.UsagePath); err != nil {
		return Report{}, err
	}
	a.log.Info("analysis complete",
		"path", latest,
		"input_tokens", c.InputTokens,
		"output_tokens", c.OutputTokens,
		"runs_this_month", count+1,
		"included_runs", a.opts.FreeRuns,
	)
	return Report{Text: text, Path: latest, DatedPath: dated, RunsThisMonth: count + 1, Completion: c}, nil
}

func header(o Options, n int, now time.Time) string {
	return fmt.Sprintf("# %s - Brand Intelligence Report (Reddit-derived)\n\n"+
		"*AI-analyzed from %d Reddit posts and comments*\n"+
		"*Date: %s*\n"+
		"*Model: %s*\n\n---\n\n", o.Brand, n, now.Format("January 02, 2006"), o.Model)
}
