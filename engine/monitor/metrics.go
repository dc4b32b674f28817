package monitor

import (
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/pkg/metrics"
)

// runMetrics groups the metrics recorded by a run.
type runMetrics struct {
	reg *metrics.Registry
}

func newRunMetrics(reg *metrics.Registry) *runMetrics {
	if reg == nil {
		reg = metrics.New()
	}
	return &runMetrics{reg: reg}
}

func (m *runMetrics) query(status string) *metrics.Counter {
	return m.reg.Counter(metrics.WithLabels("reddit_monitor_queries_total", "status", status), "Search queries by outcome")
}

func (m *runMetrics) fetched() *metrics.Counter {
	return m.reg.Counter("reddit_monitor_posts_fetched_total", "Posts returned by search")
}

func (m *runMetrics) skipped() *metrics.Counter {
	return m.reg.Counter("reddit_monitor_records_skipped_total", "Malformed search records skipped")
}

func (m *runMetrics) newPosts(p domain.Priority) *metrics.Counter {
	return m.reg.Counter(metrics.WithLabels("reddit_monitor_posts_new_total", "priority", string(p)), "New classified posts by priority")
}

func (m *runMetrics) excluded() *metrics.Counter {
	return m.reg.Counter("reddit_monitor_posts_excluded_total", "New posts matching no rule")
}

func (m *runMetrics) enriched() *metrics.Counter {
	return m.reg.Counter("reddit_monitor_posts_enriched_total", "Posts with fetched comments")
}

func (m *runMetrics) enrichFailures() *metrics.Counter {
	return m.reg.Counter("reddit_monitor_enrich_failures_total", "Comment fetches that failed")
}

func (m *runMetrics) handoffErrors(name string) *metrics.Counter {
	return m.reg.Counter(metrics.WithLabels("reddit_monitor_handoff_errors_total", "handoff", name), "Failed handoffs")
}

func (m *runMetrics) runs(s domain.RunState) *metrics.Counter {
	return m.reg.Counter(metrics.WithLabels("reddit_monitor_runs_total", "state", string(s)), "Runs by final state")
}

func (m *runMetrics) seenIDs(scope domain.Scope) *metrics.Gauge {
	return m.reg.Gauge(metrics.WithLabels("reddit_monitor_seen_ids", "scope", string(scope)), "Seen IDs kept per scope")
}

func (m *runMetrics) stage(name string) *metrics.Histogram {
	return m.reg.Histogram(metrics.WithLabels("reddit_monitor_stage_duration_seconds", "stage", name), "Per-stage duration", nil)
}

func (m *runMetrics) lastRun(scope domain.Scope) *metrics.Gauge {
	return m.reg.Gauge(metrics.WithLabels("reddit_monitor_last_run_timestamp_seconds", "scope", string(scope)), "Unix time of the last completed run")
}

func (m *runMetrics) markRun(scope domain.Scope, at time.Time) {
	m.lastRun(scope).Set(at.Unix())
}
