// Command reddit-monitor watches Reddit for mentions of a brand, its
// competitors and industry keywords.
//
// Usage:
//
//	reddit-monitor monitor  -mode daily|weekly [-analyze] [-email]
//	reddit-monitor scrape   [-analyze]
//	reddit-monitor analyze  [-source run|scrape]
//	reddit-monitor schedule
//
// Every subcommand accepts -config, -v and -log-json.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/WessleyAI/reddit-monitor/engine/classify"
	"github.com/WessleyAI/reddit-monitor/engine/config"
	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/engine/monitor"
	"github.com/WessleyAI/reddit-monitor/engine/scheduler"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: reddit-monitor <command> [flags]

commands:
  monitor   run incremental monitoring (-mode daily|weekly)
  scrape    one-shot baseline scrape, does not touch seen state
  analyze   re-run AI analysis on the latest run or scrape
  schedule  run daily and weekly monitoring on the configured cron specs`)
}

// common holds the flags shared by every subcommand.
type common struct {
	config  string
	verbose bool
	json    bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "config.toml", "path to config.toml")
	fs.BoolVar(&c.verbose, "v", false, "debug logging")
	fs.BoolVar(&c.json, "log-json", false, "log as JSON")
}

func (c *common) setup() (*config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if c.json {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	log := slog.New(h)
	slog.SetDefault(log)

	cfg, err := config.Load(c.config)
	if err != nil {
		return nil, log, err
	}
	return cfg, log, nil
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "monitor":
		err = cmdMonitor(ctx, rest)
	case "scrape":
		err = cmdScrape(ctx, rest)
	case "analyze":
		err = cmdAnalyze(ctx, rest)
	case "schedule":
		err = cmdSchedule(ctx, rest)
	case "-h", "-help", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		return 1
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		return 1
	}
	return 0
}

func parseScope(mode string) (domain.Scope, error) {
	switch mode {
	case "daily":
		return domain.Daily, nil
	case "weekly", "all":
		return domain.Weekly, nil
	}
	return "", fmt.Errorf("%w: -mode must be daily or weekly, got %q", domain.ErrInvalidConfig, mode)
}

func cmdMonitor(ctx context.Context, args []string) error {
	var (
		c       common
		fs      = flag.NewFlagSet("monitor", flag.ContinueOnError)
		mode    = fs.String("mode", "daily", "daily or weekly (weekly also runs the daily queries)")
		analyze = fs.Bool("analyze", false, "run AI analysis after monitoring (needs ANTHROPIC_API_KEY)")
		email   = fs.Bool("email", false, "email the report when there are new posts")
	)
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	scope, err := parseScope(*mode)
	if err != nil {
		return err
	}
	cfg, log, err := c.setup()
	if err != nil {
		return err
	}
	return monitorOnce(ctx, cfg, log, scope, runOpts{analyze: *analyze, email: *email || cfg.Email.Enabled})
}

func cmdScrape(ctx context.Context, args []string) error {
	var (
		c       common
		fs      = flag.NewFlagSet("scrape", flag.ContinueOnError)
		analyze = fs.Bool("analyze", false, "run AI analysis after scraping")
	)
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, log, err := c.setup()
	if err != nil {
		return err
	}
	queries, err := cfg.ScrapeQueries()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	res, err := a.monitor.Scrape(ctx, queries, cfg.DataPath("reddit_raw_data.json"))
	if err != nil {
		return err
	}
	fmt.Printf("\nScrape complete: %d posts collected\n", res.Meta.TotalUniquePosts)
	if *analyze && res.Meta.TotalUniquePosts > 0 {
		return analyzeResult(ctx, cfg, log, res.RunResult(classify.New(cfg.Rules())))
	}
	return nil
}

func cmdAnalyze(ctx context.Context, args []string) error {
	var (
		c      common
		fs     = flag.NewFlagSet("analyze", flag.ContinueOnError)
		source = fs.String("source", "run", "run (last_run_summary.json) or scrape (reddit_raw_data.json)")
	)
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, log, err := c.setup()
	if err != nil {
		return err
	}

	var r *domain.RunResult
	switch *source {
	case "run":
		r, err = monitor.LoadArtifact(cfg.DataPath("last_run_summary.json"))
	case "scrape":
		var s *monitor.ScrapeResult
		if s, err = monitor.LoadScrape(cfg.DataPath("reddit_raw_data.json")); err == nil {
			r = s.RunResult(classify.New(cfg.Rules()))
		}
	default:
		return fmt.Errorf("unknown -source %q", *source)
	}
	if errors.Is(err, monitor.ErrNoArtifact) {
		fmt.Println("No data to analyze. Run 'monitor' or 'scrape' first.")
		return err
	}
	if err != nil {
		return err
	}
	return analyzeResult(ctx, cfg, log, r)
}

func cmdSchedule(ctx context.Context, args []string) error {
	var (
		c       common
		fs      = flag.NewFlagSet("schedule", flag.ContinueOnError)
		analyze = fs.Bool("analyze", false, "run AI analysis after each monitoring run")
	)
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, log, err := c.setup()
	if err != nil {
		return err
	}
	s, err := scheduler.New(cfg.Schedule.Timezone, scheduler.WithLogger(log))
	if err != nil {
		return err
	}
	opts := runOpts{analyze: *analyze, email: cfg.Email.Enabled}
	for _, j := range []struct {
		scope domain.Scope
		spec  string
	}{
		{domain.Daily, cfg.Schedule.Daily},
		{domain.Weekly, cfg.Schedule.Weekly},
	} {
		if j.spec == "" {
			continue
		}
		scope := j.scope
		if err := s.AddJob(string(scope), j.spec, func(ctx context.Context) error {
			return monitorOnce(ctx, cfg, log, scope, opts)
		}); err != nil {
			return err
		}
	}
	s.Run(ctx)
	return nil
}
