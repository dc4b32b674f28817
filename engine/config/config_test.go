package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
)

const minimal = `
[brand]
name = "Acme Pay"
industry = "Payroll/HR"

[competitors]
names = ["globex", "Initech", "Hooli", "Umbrella", "Soylent"]
`

func TestParseMinimalDerivesDefaults(t *testing.T) {
	cfg, err := Parse(minimal)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Brand.Aliases, []string{"acme pay", "acmepay", "acmepay.com"}) {
		t.Errorf("aliases = %v", cfg.Brand.Aliases)
	}
	wantSubs := []string{"smallbusiness", "entrepreneur", "startup", "startups", "saas", "humanresources", "payroll", "bookkeeping", "accounting"}
	if !reflect.DeepEqual(cfg.Subreddits.HighValue, wantSubs) {
		t.Errorf("subreddits = %v", cfg.Subreddits.HighValue)
	}
	wantKw := []string{"payroll", "payroll software", "hr", "hr software", "small business", "startup", "recommend", "best"}
	if !reflect.DeepEqual(cfg.Keywords.Relevance, wantKw) {
		t.Errorf("keywords = %v", cfg.Keywords.Relevance)
	}

	s := cfg.Settings
	if s.RateDelay.Duration() != 2*time.Second || s.MaxResultsPerQuery != 25 || s.MaxCommentsToFetch != 15 ||
		s.MinCommentsForFetch != 5 || s.MaxSeenIDs != 0 || s.Workers != 2 || s.RetryAttempts != 2 {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.BaseURL != DefaultBaseURL || s.DataDir != "data" || s.StateBackend != BackendJSON {
		t.Errorf("unexpected settings %+v", s)
	}
	if cfg.Analysis.Model != DefaultModel || cfg.Analysis.FreeRunsPerMonth != 6 {
		t.Errorf("unexpected analysis %+v", cfg.Analysis)
	}
}

func TestDerivedQueries(t *testing.T) {
	q := deriveQueries("Acme Pay", "Payroll/HR", []string{"globex", "Initech", "Hooli", "Umbrella", "Soylent"}, 2026)
	if len(q.Daily) != 3 || len(q.Weekly) != 3 {
		t.Fatalf("daily=%d weekly=%d", len(q.Daily), len(q.Weekly))
	}
	if q.Daily[0].Query != `"Acme Pay" OR "AcmePay" OR "acmepay.com"` {
		t.Errorf("brand query = %s", q.Daily[0].Query)
	}
	if q.Daily[2].Query != `"Globex" OR "Initech" OR "Hooli" OR "Umbrella" payroll hr` {
		t.Errorf("competitor query = %s", q.Daily[2].Query)
	}
	if q.Weekly[2].Label != "best_2026" || q.Weekly[2].Query != "best payroll hr software 2026" {
		t.Errorf("best query = %+v", q.Weekly[2])
	}
	// four fixed scrape queries plus one per top-4 competitor
	if len(q.Scrape) != 8 || q.Scrape[2].Label != "best_payroll" || q.Scrape[4].Label != "competitor_globex" {
		t.Errorf("scrape = %+v", q.Scrape)
	}
}

func TestBuildQueriesInfersScope(t *testing.T) {
	cfg, err := Parse(minimal + `
[[queries.daily]]
label = "brand_direct"
query = "acme"

[[queries.daily]]
label = "competitor_watch"
query = "globex"

[[queries.daily]]
label = "sub_scan"
query = "payroll"
subreddit = "r/smallbusiness"

[[queries.daily]]
label = "general"
query = "payroll tool"

[[queries.weekly]]
label = "deep"
query = "payroll"
scope = "competitor"
`)
	if err != nil {
		t.Fatal(err)
	}
	qs, err := cfg.BuildQueries(domain.Daily)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.QueryScope{domain.ScopeBrand, domain.ScopeCompetitor, domain.ScopeSubredditScan, domain.ScopeKeyword}
	for i, w := range want {
		if qs[i].Scope != w || qs[i].RunType != domain.Daily {
			t.Errorf("query %d: scope=%s run=%s", i, qs[i].Scope, qs[i].RunType)
		}
	}
	if qs[2].Subreddit != "smallbusiness" {
		t.Errorf("subreddit = %s", qs[2].Subreddit)
	}
	weekly, err := cfg.BuildQueries(domain.Weekly)
	if err != nil || len(weekly) != 5 || weekly[4].Scope != domain.ScopeCompetitor {
		t.Fatalf("weekly = %+v, %v", weekly, err)
	}
	if weekly[0].Label != "brand_direct" || weekly[0].RunType != domain.Weekly {
		t.Errorf("weekly should start with the daily list: %+v", weekly[0])
	}
	if len(cfg.Queries.Scrape) != 0 {
		t.Error("explicit queries should disable derivation")
	}
}

func TestParseMissingRequired(t *testing.T) {
	_, err := Parse(`[brand]
name = "Acme"`)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "brand.industry") || !strings.Contains(err.Error(), "competitors.names") {
		t.Fatalf("error should name missing fields: %v", err)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(minimal + "\n[settings]\nrate_dealy = 3\n")
	if !errors.Is(err, domain.ErrInvalidConfig) || !strings.Contains(err.Error(), "rate_dealy") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestParseRejectsLabelReusedAcrossLists(t *testing.T) {
	_, err := Parse(minimal + `
[[queries.daily]]
label = "brand_direct"
query = "acme"

[[queries.weekly]]
label = "brand_direct"
query = "acme pay"
`)
	if !errors.Is(err, domain.ErrInvalidConfig) || !strings.Contains(err.Error(), "brand_direct") {
		t.Fatalf("expected duplicate label error, got %v", err)
	}
}

func TestRateDelayForms(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"rate_delay = 3":       3 * time.Second,
		"rate_delay = 0.5":     500 * time.Millisecond,
		`rate_delay = "750ms"`: 750 * time.Millisecond,
		"rate_delay = 0":       0,
	} {
		cfg, err := Parse(minimal + "\n[settings]\n" + in + "\n")
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got := cfg.Settings.RateDelay.Duration(); got != want {
			t.Errorf("%s: got %v, want %v", in, got, want)
		}
	}
}

func TestExplicitZeroSettingsKept(t *testing.T) {
	cfg, err := Parse(minimal + "\n[settings]\nmin_comments_for_fetch = 0\nmax_comments_to_fetch = 0\n")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Settings.MinCommentsForFetch != 0 || cfg.Settings.MaxCommentsToFetch != 0 {
		t.Fatalf("explicit zeros overwritten: %+v", cfg.Settings)
	}
}

func TestInvalidBackend(t *testing.T) {
	_, err := Parse(minimal + "\n[settings]\nstate_backend = \"redis\"\n")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "settings.state_backend" {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	t.Setenv("SMTP_PASSWORD", "pw-env")
	cfg, err := Parse(minimal + "\n[analysis]\napi_key = \"sk-file\"\n")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Analysis.APIKey != "sk-env" || cfg.Email.SMTPPassword != "pw-env" {
		t.Fatalf("env not applied: %+v %+v", cfg.Analysis, cfg.Email)
	}
}

func TestLoadAndPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte(minimal+"\n[settings]\ndata_dir = \""+filepath.ToSlash(dir)+"\"\nstate_backend = \"sqlite\"\n"), 0o644)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StatePath() != filepath.Join(dir, "state.db") {
		t.Errorf("state path = %s", cfg.StatePath())
	}
	if cfg.DataPath("reports", "latest.md") != filepath.Join(dir, "reports", "latest.md") {
		t.Errorf("data path = %s", cfg.DataPath("reports", "latest.md"))
	}
	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRulesMergeKeywords(t *testing.T) {
	cfg, err := Parse(minimal + "\n[keywords]\nrelevance = [\"payroll\"]\ngeographic = [\"Ontario\"]\n")
	if err != nil {
		t.Fatal(err)
	}
	r := cfg.Rules()
	if !reflect.DeepEqual(r.Keywords, []string{"payroll", "Ontario"}) {
		t.Errorf("keywords = %v", r.Keywords)
	}
	if r.BrandAliases[0] != "Acme Pay" {
		t.Errorf("brand terms = %v", r.BrandAliases)
	}
}
