// Package config loads the monitor's TOML configuration. Only brand.name,
// brand.industry and competitors.names are required; everything else is
// derived from them or defaulted.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/WessleyAI/reddit-monitor/engine/classify"
	"github.com/WessleyAI/reddit-monitor/engine/domain"
)

// Config holds all application configuration.
type Config struct {
	Brand       BrandConfig      `toml:"brand"`
	Competitors CompetitorConfig `toml:"competitors"`
	Subreddits  SubredditConfig  `toml:"subreddits"`
	Keywords    KeywordConfig    `toml:"keywords"`
	Queries     QueryConfig      `toml:"queries"`
	Settings    Settings         `toml:"settings"`
	Analysis    AnalysisConfig   `toml:"analysis"`
	Email       EmailConfig      `toml:"email"`
	Handoff     HandoffConfig    `toml:"handoff"`
	Schedule    ScheduleConfig   `toml:"schedule"`
}

type BrandConfig struct {
	Name     string   `toml:"name"`
	Industry string   `toml:"industry"`
	Aliases  []string `toml:"aliases"`
}

type CompetitorConfig struct {
	Names []string `toml:"names"`
}

type SubredditConfig struct {
	HighValue []string `toml:"high_value"`
}

type KeywordConfig struct {
	Relevance  []string `toml:"relevance"`
	Geographic []string `toml:"geographic"`
}

// QuerySpec is one query as written in the file.
type QuerySpec struct {
	Label     string `toml:"label"`
	Query     string `toml:"query"`
	Subreddit string `toml:"subreddit"`
	Scope     string `toml:"scope"`
}

type QueryConfig struct {
	Daily  []QuerySpec `toml:"daily"`
	Weekly []QuerySpec `toml:"weekly"`
	Scrape []QuerySpec `toml:"scrape"`
}

type Settings struct {
	UserAgent           string  `toml:"user_agent"`
	RateDelay           Seconds `toml:"rate_delay"`
	MaxResultsPerQuery  int     `toml:"max_results_per_query"`
	MaxCommentsToFetch  int     `toml:"max_comments_to_fetch"`
	MinCommentsForFetch int     `toml:"min_comments_for_fetch"`
	MaxSeenIDs          int     `toml:"max_seen_ids"`
	Workers             int     `toml:"workers"`
	RetryAttempts       int     `toml:"retry_attempts"`
	BreakerThreshold    int     `toml:"breaker_threshold"`
	BaseURL             string  `toml:"base_url"`
	DataDir             string  `toml:"data_dir"`
	StateBackend        string  `toml:"state_backend"`
	MetricsFile         string  `toml:"metrics_file"`
}

type AnalysisConfig struct {
	Model            string `toml:"model"`
	APIKey           string `toml:"api_key"`
	FreeRunsPerMonth int    `toml:"free_runs_per_month"`
	MaxPosts         int    `toml:"max_posts"`
	MaxTokens        int    `toml:"max_tokens"`
}

type EmailConfig struct {
	Enabled       bool     `toml:"enabled"`
	SMTPHost      string   `toml:"smtp_host"`
	SMTPPort      int      `toml:"smtp_port"`
	SMTPUser      string   `toml:"smtp_user"`
	SMTPPassword  string   `toml:"smtp_password"`
	From          string   `toml:"from"`
	To            []string `toml:"to"`
	SubjectPrefix string   `toml:"subject_prefix"`
}

type HandoffConfig struct {
	NATSURL       string `toml:"nats_url"`
	NATSSubject   string `toml:"nats_subject"`
	Neo4jURL      string `toml:"neo4j_url"`
	Neo4jUser     string `toml:"neo4j_user"`
	Neo4jPassword string `toml:"neo4j_password"`
}

type ScheduleConfig struct {
	Daily    string `toml:"daily"`
	Weekly   string `toml:"weekly"`
	Timezone string `toml:"timezone"`
}

// Seconds is a duration written either as a number of seconds or as a Go
// duration string ("1500ms").
type Seconds time.Duration

// UnmarshalTOML implements toml.Unmarshaler.
func (s *Seconds) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case int64:
		*s = Seconds(time.Duration(x) * time.Second)
	case float64:
		*s = Seconds(time.Duration(x * float64(time.Second)))
	case string:
		d, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("rate_delay: %w", err)
		}
		*s = Seconds(d)
	default:
		return fmt.Errorf("rate_delay: unsupported type %T", v)
	}
	return nil
}

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// Defaults.
const (
	DefaultUserAgent        = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	DefaultRateDelay        = 2 * time.Second
	DefaultMaxResults       = 25
	DefaultMaxComments      = 15
	DefaultMinComments      = 5
	DefaultWorkers          = 2
	DefaultRetryAttempts    = 2
	DefaultBreakerThreshold = 5
	DefaultBaseURL          = "https://old.reddit.com"
	DefaultDataDir          = "data"
	DefaultModel            = "claude-sonnet-4-20250514"
	DefaultFreeRuns         = 6
	DefaultAnalysisPosts    = 50
	DefaultMaxTokens        = 8000
	DefaultSubjectPrefix    = "[Reddit Monitor]"
	DefaultNATSSubject      = "reddit.monitor.run"
	DefaultDailySchedule    = "0 8 * * *"
	DefaultWeeklySchedule   = "0 9 * * 1"

	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML, applies derived defaults and environment overrides,
// and validates the result.
func Parse(data string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	var missing []string
	for _, key := range [][]string{{"brand", "name"}, {"brand", "industry"}, {"competitors", "names"}} {
		if !md.IsDefined(key...) {
			missing = append(missing, strings.Join(key, "."))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required field(s): %s", domain.ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown key(s): %s", domain.ErrInvalidConfig, strings.Join(keys, ", "))
	}

	cfg.populate(md, time.Now().UTC().Year())
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) populate(md toml.MetaData, year int) {
	if len(c.Brand.Aliases) == 0 {
		c.Brand.Aliases = deriveAliases(c.Brand.Name)
	}
	if len(c.Subreddits.HighValue) == 0 {
		c.Subreddits.HighValue = deriveSubreddits(c.Brand.Industry)
	}
	if len(c.Keywords.Relevance) == 0 {
		c.Keywords.Relevance = deriveKeywords(c.Brand.Industry)
	}
	if len(c.Queries.Daily) == 0 && len(c.Queries.Weekly) == 0 && len(c.Queries.Scrape) == 0 {
		c.Queries = deriveQueries(c.Brand.Name, c.Brand.Industry, c.Competitors.Names, year)
	}

	s := &c.Settings
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	if !md.IsDefined("settings", "rate_delay") {
		s.RateDelay = Seconds(DefaultRateDelay)
	}
	if s.MaxResultsPerQuery <= 0 {
		s.MaxResultsPerQuery = DefaultMaxResults
	}
	if !md.IsDefined("settings", "max_comments_to_fetch") {
		s.MaxCommentsToFetch = DefaultMaxComments
	}
	if !md.IsDefined("settings", "min_comments_for_fetch") {
		s.MinCommentsForFetch = DefaultMinComments
	}
	if s.Workers <= 0 {
		s.Workers = DefaultWorkers
	}
	if s.RetryAttempts <= 0 {
		s.RetryAttempts = DefaultRetryAttempts
	}
	if s.BreakerThreshold <= 0 {
		s.BreakerThreshold = DefaultBreakerThreshold
	}
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.DataDir == "" {
		s.DataDir = DefaultDataDir
	}
	if s.StateBackend == "" {
		s.StateBackend = BackendJSON
	}

	a := &c.Analysis
	if a.Model == "" {
		a.Model = DefaultModel
	}
	if !md.IsDefined("analysis", "free_runs_per_month") {
		a.FreeRunsPerMonth = DefaultFreeRuns
	}
	if a.MaxPosts <= 0 {
		a.MaxPosts = DefaultAnalysisPosts
	}
	if a.MaxTokens <= 0 {
		a.MaxTokens = DefaultMaxTokens
	}

	if c.Email.SubjectPrefix == "" {
		c.Email.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	if c.Handoff.NATSSubject == "" {
		c.Handoff.NATSSubject = DefaultNATSSubject
	}
	if c.Schedule.Daily == "" {
		c.Schedule.Daily = DefaultDailySchedule
	}
	if c.Schedule.Weekly == "" {
		c.Schedule.Weekly = DefaultWeeklySchedule
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyEnv() {
	c.Analysis.APIKey = envOr("ANTHROPIC_API_KEY", c.Analysis.APIKey)
	c.Email.SMTPPassword = envOr("SMTP_PASSWORD", c.Email.SMTPPassword)
	c.Handoff.Neo4jPassword = envOr("NEO4J_PASSWORD", c.Handoff.Neo4jPassword)
	c.Handoff.NATSURL = envOr("NATS_URL", c.Handoff.NATSURL)
}

// Validate checks fields that have no sensible default.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Brand.Name) == "" {
		errs = append(errs, domain.NewValidationError("brand.name", c.Brand.Name, domain.ErrInvalidConfig))
	}
	if strings.TrimSpace(c.Brand.Industry) == "" {
		errs = append(errs, domain.NewValidationError("brand.industry", c.Brand.Industry, domain.ErrInvalidConfig))
	}
	if c.Settings.RateDelay < 0 {
		errs = append(errs, domain.NewValidationError("settings.rate_delay", c.Settings.RateDelay.Duration().String(), domain.ErrInvalidConfig))
	}
	if c.Settings.MaxCommentsToFetch < 0 {
		errs = append(errs, domain.NewValidationError("settings.max_comments_to_fetch", fmt.Sprint(c.Settings.MaxCommentsToFetch), domain.ErrInvalidConfig))
	}
	switch c.Settings.StateBackend {
	case BackendJSON, BackendSQLite:
	default:
		errs = append(errs, domain.NewValidationError("settings.state_backend", c.Settings.StateBackend, domain.ErrInvalidConfig))
	}
	if c.Email.Enabled && (c.Email.SMTPHost == "" || c.Email.From == "" || len(c.Email.To) == 0) {
		errs = append(errs, domain.NewValidationError("email", "smtp_host/from/to", domain.ErrInvalidConfig))
	}
	for _, qs := range [][]QuerySpec{c.Queries.Daily, c.Queries.Weekly, c.Queries.Scrape} {
		for _, q := range qs {
			if q.Scope != "" && !domain.QueryScope(q.Scope).Valid() {
				errs = append(errs, domain.NewValidationError("queries.scope", q.Scope, domain.ErrInvalidConfig))
			}
		}
	}
	// Weekly runs execute both lists, so labels are unique across them.
	labels := make(map[string]bool)
	for _, q := range slices.Concat(c.Queries.Daily, c.Queries.Weekly) {
		if labels[q.Label] {
			errs = append(errs, domain.NewValidationError("queries.label", q.Label, domain.ErrInvalidConfig))
		}
		labels[q.Label] = true
	}
	return errors.Join(errs...)
}

// BuildQueries converts the queries of runType into validated queries. A
// weekly run executes the daily list followed by the weekly list.
func (c *Config) BuildQueries(runType domain.Scope) ([]domain.Query, error) {
	var specs []QuerySpec
	switch runType {
	case domain.Daily:
		specs = c.Queries.Daily
	case domain.Weekly:
		specs = append(slices.Clone(c.Queries.Daily), c.Queries.Weekly...)
	default:
		return nil, fmt.Errorf("%w: unknown run type %q", domain.ErrInvalidConfig, runType)
	}
	qs := toQueries(specs, runType)
	if err := domain.ValidateQueries(qs); err != nil {
		return nil, err
	}
	return qs, nil
}

// ScrapeQueries converts the scrape list. Scrape runs never touch dedup
// state; the run type only tags the queries.
func (c *Config) ScrapeQueries() ([]domain.Query, error) {
	qs := toQueries(c.Queries.Scrape, domain.Weekly)
	if err := domain.ValidateQueries(qs); err != nil {
		return nil, err
	}
	return qs, nil
}

func toQueries(specs []QuerySpec, runType domain.Scope) []domain.Query {
	out := make([]domain.Query, len(specs))
	for i, s := range specs {
		out[i] = domain.Query{
			Label:     s.Label,
			Term:      s.Query,
			Scope:     InferScope(s),
			RunType:   runType,
			Subreddit: strings.TrimPrefix(s.Subreddit, "r/"),
		}
	}
	return out
}

// InferScope returns the explicit scope of s or one guessed from its label.
func InferScope(s QuerySpec) domain.QueryScope {
	if s.Scope != "" {
		return domain.QueryScope(s.Scope)
	}
	label := strings.ToLower(s.Label)
	switch {
	case strings.HasPrefix(label, "brand"):
		return domain.ScopeBrand
	case strings.HasPrefix(label, "competitor"):
		return domain.ScopeCompetitor
	case s.Subreddit != "":
		return domain.ScopeSubredditScan
	}
	return domain.ScopeKeyword
}

// Rules returns the classification vocabulary.
func (c *Config) Rules() classify.Rules {
	kw := make([]string, 0, len(c.Keywords.Relevance)+len(c.Keywords.Geographic))
	kw = append(kw, c.Keywords.Relevance...)
	kw = append(kw, c.Keywords.Geographic...)
	return classify.Rules{
		BrandAliases: c.BrandTerms(),
		Competitors:  c.Competitors.Names,
		Subreddits:   c.Subreddits.HighValue,
		Keywords:     kw,
	}
}

// BrandTerms is the brand name followed by its aliases.
func (c *Config) BrandTerms() []string {
	return append([]string{c.Brand.Name}, c.Brand.Aliases...)
}

// DataPath joins name onto the data directory.
func (c *Config) DataPath(name ...string) string {
	return filepath.Join(append([]string{c.Settings.DataDir}, name...)...)
}

// StatePath is where the dedup state lives for the configured backend.
func (c *Config) StatePath() string {
	if c.Settings.StateBackend == BackendSQLite {
		return c.DataPath("state.db")
	}
	return c.DataPath("state.json")
}

// Location returns the schedule timezone, defaulting to local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone: %v", domain.ErrInvalidConfig, err)
	}
	return loc, nil
}
