package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/analysis"
	"github.com/WessleyAI/reddit-monitor/engine/config"
	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/engine/graph"
	"github.com/WessleyAI/reddit-monitor/engine/monitor"
	"github.com/WessleyAI/reddit-monitor/engine/notify"
	"github.com/WessleyAI/reddit-monitor/engine/reddit"
	"github.com/WessleyAI/reddit-monitor/engine/report"
	"github.com/WessleyAI/reddit-monitor/engine/state"
	"github.com/WessleyAI/reddit-monitor/pkg/metrics"
	"github.com/WessleyAI/reddit-monitor/pkg/natsutil"
	"github.com/WessleyAI/reddit-monitor/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const breakerCooldown = 60 * time.Second

// app wires one process's collaborators from the config.
type app struct {
	monitor *monitor.Monitor
	closers []func(context.Context)
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

// newApp builds the monitor. With handoffs set it also connects the optional
// NATS and Neo4j sinks; either being unreachable only disables that sink.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, handoffs bool) (*app, error) {
	s := cfg.Settings
	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	a := &app{}

	var store state.Store
	if s.StateBackend == config.BackendSQLite {
		db, err := state.OpenSQLite(cfg.StatePath())
		if err != nil {
			return nil, err
		}
		store = db
	} else {
		store = state.NewJSONStore(cfg.StatePath())
	}
	a.closers = append(a.closers, func(context.Context) { store.Close() })

	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: s.BreakerThreshold,
		Timeout:       breakerCooldown,
		HalfOpenMax:   1,
		IsFailure:     domain.IsRetryable,
		OnStateChange: func(from, to resilience.State) {
			log.Warn("reddit circuit breaker", "from", from.String(), "to", to.String())
		},
	})
	client := reddit.New(reddit.Config{
		BaseURL:       s.BaseURL,
		UserAgent:     s.UserAgent,
		MaxResults:    s.MaxResultsPerQuery,
		RetryAttempts: s.RetryAttempts,
	},
		reddit.WithThrottle(resilience.NewThrottle(s.RateDelay.Duration())),
		reddit.WithBreaker(breaker),
		reddit.WithLogger(log),
	)

	deps := monitor.Deps{
		Searcher: client,
		Comments: client,
		Store:    store,
		Rules:    cfg.Rules(),
		Artifact: monitor.ArtifactHandoff{Path: cfg.DataPath("last_run_summary.json")},
		Metrics:  metrics.New(),
		Logger:   log,
	}
	if handoffs {
		deps.Handoffs = a.connectSinks(ctx, cfg, log)
	}
	a.monitor = monitor.New(deps, monitor.Options{
		Workers:     s.Workers,
		MaxComments: s.MaxCommentsToFetch,
		MinComments: s.MinCommentsForFetch,
		MaxSeenIDs:  s.MaxSeenIDs,
		MetricsFile: s.MetricsFile,
	})
	return a, nil
}

func (a *app) connectSinks(ctx context.Context, cfg *config.Config, log *slog.Logger) []monitor.Handoff {
	h := cfg.Handoff
	var out []monitor.Handoff
	if h.NATSURL != "" {
		nc, err := natsutil.Connect(h.NATSURL, "reddit-monitor")
		if err != nil {
			log.Warn("nats handoff disabled", "error", err)
		} else {
			a.closers = append(a.closers, func(context.Context) { nc.Close() })
			out = append(out, monitor.NATSHandoff{Conn: nc, Subject: h.NATSSubject})
			log.Info("nats handoff enabled", "subject", h.NATSSubject)
		}
	}
	if h.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(h.Neo4jURL, neo4j.BasicAuth(h.Neo4jUser, h.Neo4jPassword, ""))
		if err == nil {
			err = driver.VerifyConnectivity(ctx)
			if err != nil {
				driver.Close(ctx)
			}
		}
		if err != nil {
			log.Warn("neo4j handoff disabled", "error", err)
		} else {
			a.closers = append(a.closers, func(ctx context.Context) { driver.Close(ctx) })
			out = append(out, graph.New(driver, log))
			log.Info("neo4j handoff enabled", "url", h.Neo4jURL)
		}
	}
	return out
}

type runOpts struct {
	analyze bool
	email   bool
}

// monitorOnce runs one monitoring pass and its follow-ups: report files,
// optional analysis and email.
func monitorOnce(ctx context.Context, cfg *config.Config, log *slog.Logger, scope domain.Scope, opts runOpts) error {
	queries, err := cfg.BuildQueries(scope)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	res, err := a.monitor.Run(ctx, scope, queries)
	if err != nil {
		return err
	}

	if n := res.Meta.ErrorCount(); n > 0 {
		log.Warn("run degraded", "errors", n, "failed_queries", res.Meta.FailedQueries, "enrich_failures", res.Meta.EnrichmentFailures)
	}

	md := report.Render(res, cfg.Brand.Name)
	path, err := report.Write(cfg.DataPath("reports"), md, time.Now().In(loc))
	if err != nil {
		log.Error("write report", "error", err)
	} else {
		log.Info("report written", "path", path)
	}

	if len(res.Posts) == 0 {
		fmt.Println("\nNo new posts — inbox zero!")
		return nil
	}
	if opts.analyze {
		if err := analyzeResult(ctx, cfg, log, res); err != nil {
			log.Error("analysis failed", "error", err)
		}
	}
	if opts.email {
		sendReport(cfg, log, res, md)
	}
	return nil
}

func analyzeResult(ctx context.Context, cfg *config.Config, log *slog.Logger, r *domain.RunResult) error {
	ac := cfg.Analysis
	if ac.APIKey == "" {
		return analysis.ErrNoAPIKey
	}
	sum := analysis.NewAnthropic(ac.APIKey, ac.Model, ac.MaxTokens)
	an := analysis.New(
		sum,
		analysis.Options{
			Brand:       cfg.Brand.Name,
			Industry:    cfg.Brand.Industry,
			Competitors: cfg.Competitors.Names,
			Model:       sum.Model(),
			MaxPosts:    ac.MaxPosts,
			FreeRuns:    ac.FreeRunsPerMonth,
			ReportsDir:  cfg.DataPath("reports"),
			UsagePath:   cfg.DataPath("analysis_usage.json"),
		},
		log,
	)
	rep, err := an.Run(ctx, r)
	if err != nil {
		return err
	}
	fmt.Printf("\nAnalysis saved to: %s\n", rep.Path)
	return nil
}

func sendReport(cfg *config.Config, log *slog.Logger, r *domain.RunResult, md string) {
	e := cfg.Email
	sender := notify.NewSMTPSender(notify.SMTPConfig{
		Host:          e.SMTPHost,
		Port:          e.SMTPPort,
		Username:      e.SMTPUser,
		Password:      e.SMTPPassword,
		From:          e.From,
		To:            e.To,
		SubjectPrefix: e.SubjectPrefix,
	})
	sent, err := sender.SendReport(r, md)
	switch {
	case err != nil:
		log.Error("email failed", "error", err)
	case sent:
		log.Info("report emailed", "to", e.To)
	}
}
