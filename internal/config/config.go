package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Lease      LeaseConfig      `mapstructure:"lease"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Pilot      PilotConfig      `mapstructure:"pilot"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite
	DSN    string `mapstructure:"dsn"`    // Connection string
}

// LeaseConfig selects the per-source lease backend
type LeaseConfig struct {
	Backend       string        `mapstructure:"backend"` // memory or redis
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// AnthropicConfig holds Claude API settings for the semantic dedup signal
type AnthropicConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// FetcherConfig holds outbound HTTP settings shared by every external check
type FetcherConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// MetricsConfig points at the ingestion metrics service
type MetricsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	APIKey  string        `mapstructure:"api_key"`
}

// DedupWeights are the signal weights for the combined duplicate score
type DedupWeights struct {
	URL      float64 `mapstructure:"url"`
	Content  float64 `mapstructure:"content"`
	Metadata float64 `mapstructure:"metadata"`
	Semantic float64 `mapstructure:"semantic"`
}

// Sum returns the total weight
func (w DedupWeights) Sum() float64 {
	return w.URL + w.Content + w.Metadata + w.Semantic
}

// DedupCutoffs are the per-signal exact-duplicate cutoffs
type DedupCutoffs struct {
	URL      float64 `mapstructure:"url"`
	Content  float64 `mapstructure:"content"`
	Metadata float64 `mapstructure:"metadata"`
	Semantic float64 `mapstructure:"semantic"`
}

// DedupConfig holds deduplication engine settings
type DedupConfig struct {
	Weights            DedupWeights  `mapstructure:"weights"`
	Cutoffs            DedupCutoffs  `mapstructure:"cutoffs"`
	MergeThreshold     float64       `mapstructure:"merge_threshold"`
	ReviewThreshold    float64       `mapstructure:"review_threshold"`
	AmountTolerance    float64       `mapstructure:"amount_tolerance"`
	DeadlineTolerance  time.Duration `mapstructure:"deadline_tolerance"`
	CandidateCap       int           `mapstructure:"candidate_cap"`
	SemanticEnabled    bool          `mapstructure:"semantic_enabled"`
	SemanticCandidates int           `mapstructure:"semantic_candidates"`
}

// AdmissionWeights are the check weights for the admission score
type AdmissionWeights struct {
	Reachability float64 `mapstructure:"reachability"`
	Relevance    float64 `mapstructure:"relevance"`
	Authority    float64 `mapstructure:"authority"`
	Policy       float64 `mapstructure:"policy"`
	Duplicate    float64 `mapstructure:"duplicate"`
	Feasibility  float64 `mapstructure:"feasibility"`
	Samples      float64 `mapstructure:"samples"`
}

// Sum returns the total weight
func (w AdmissionWeights) Sum() float64 {
	return w.Reachability + w.Relevance + w.Authority + w.Policy + w.Duplicate + w.Feasibility + w.Samples
}

// AdmissionConfig holds admission validator settings
type AdmissionConfig struct {
	Weights               AdmissionWeights `mapstructure:"weights"`
	AcceptThreshold       float64          `mapstructure:"accept_threshold"`
	ManualReviewThreshold float64          `mapstructure:"manual_review_threshold"`
	RejectThreshold       float64          `mapstructure:"reject_threshold"`
	MaxInFlight           int              `mapstructure:"max_in_flight"`
	CheckTimeout          time.Duration    `mapstructure:"check_timeout"`
	MaxSampleURLs         int              `mapstructure:"max_sample_urls"`
	VocabularyFile        string           `mapstructure:"vocabulary_file"`
	SlowResponse          time.Duration    `mapstructure:"slow_response"`
}

// ClassifierConfig holds source classifier settings
type ClassifierConfig struct {
	RefineBelow float64 `mapstructure:"refine_below"`
}

// PilotConfig holds pilot lifecycle settings
type PilotConfig struct {
	Duration         time.Duration `mapstructure:"duration"`
	MaxExtensions    int           `mapstructure:"max_extensions"`
	PromoteThreshold float64       `mapstructure:"promote_threshold"`
	ExtendThreshold  float64       `mapstructure:"extend_threshold"`
	Workers          int           `mapstructure:"workers"`
}

// EvaluationWeights are the group weights for the overall performance score
type EvaluationWeights struct {
	Volume    float64 `mapstructure:"volume"`
	Quality   float64 `mapstructure:"quality"`
	Technical float64 `mapstructure:"technical"`
	Value     float64 `mapstructure:"value"`
}

// Sum returns the total weight
func (w EvaluationWeights) Sum() float64 {
	return w.Volume + w.Quality + w.Technical + w.Value
}

// MinimumGates are the hard minimums a pilot must meet for promotion
type MinimumGates struct {
	ApprovalRate  float64 `mapstructure:"approval_rate"`
	DuplicateRate float64 `mapstructure:"duplicate_rate"`
	Reliability   float64 `mapstructure:"reliability"`
}

// EvaluationConfig holds performance evaluator settings
type EvaluationConfig struct {
	Weights           EvaluationWeights `mapstructure:"weights"`
	Minimums          MinimumGates      `mapstructure:"minimums"`
	Failing           MinimumGates      `mapstructure:"failing"`
	ExcellentBand     float64           `mapstructure:"excellent_band"`
	GoodBand          float64           `mapstructure:"good_band"`
	AcceptableBand    float64           `mapstructure:"acceptable_band"`
	MinContributions  int               `mapstructure:"min_contributions"`
	MinMonitoringDays int               `mapstructure:"min_monitoring_days"`
	TrendWindow       int               `mapstructure:"trend_window"`
	TrendDelta        float64           `mapstructure:"trend_delta"`
	TargetVolume      float64           `mapstructure:"target_volume"`
	TargetUnique      float64           `mapstructure:"target_unique"`
	TargetHighValue   float64           `mapstructure:"target_high_value"`
	TargetDownstream  float64           `mapstructure:"target_downstream"`
	LatencyGood       time.Duration     `mapstructure:"latency_good"`
	LatencyBad        time.Duration     `mapstructure:"latency_bad"`
	ProductionWindow  time.Duration     `mapstructure:"production_window"`
}

// SchedulerConfig holds scheduler settings
type SchedulerConfig struct {
	PilotSweepCron  string `mapstructure:"pilot_sweep_cron"`
	ProductionCron  string `mapstructure:"production_cron"`
	ResumeOnStartup bool   `mapstructure:"resume_on_startup"`
	HealthPort      string `mapstructure:"health_port"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	FetchRequestsPerSecond     float64 `mapstructure:"fetch_requests_per_second"`
	AnthropicRequestsPerMinute int     `mapstructure:"anthropic_requests_per_minute"`
	MetricsRequestsPerSecond   float64 `mapstructure:"metrics_requests_per_second"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// TrackerConfig holds Google Sheets lifecycle ledger settings
type TrackerConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SpreadsheetID      string `mapstructure:"spreadsheet_id"`
	SheetName          string `mapstructure:"sheet_name"`
	CredentialsFile    string `mapstructure:"credentials_file"`
	ServiceAccountJSON string `mapstructure:"service_account_json"`
}

// Load loads configuration from file and environment variables and validates it
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".source-vetting"))
		}
	}

	v.SetEnvPrefix("VETTING")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("anthropic.api_key", "VETTING_ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.enabled", "VETTING_ANTHROPIC_ENABLED")
	v.BindEnv("database.dsn", "VETTING_DATABASE_DSN")
	v.BindEnv("lease.backend", "VETTING_LEASE_BACKEND")
	v.BindEnv("lease.redis_addr", "VETTING_LEASE_REDIS_ADDR")
	v.BindEnv("lease.redis_password", "VETTING_LEASE_REDIS_PASSWORD")
	v.BindEnv("metrics.base_url", "VETTING_METRICS_BASE_URL")
	v.BindEnv("metrics.api_key", "VETTING_METRICS_API_KEY")
	v.BindEnv("tracker.enabled", "VETTING_TRACKER_ENABLED")
	v.BindEnv("tracker.spreadsheet_id", "VETTING_TRACKER_SPREADSHEET_ID")
	v.BindEnv("tracker.credentials_file", "VETTING_TRACKER_CREDENTIALS_FILE")
	v.BindEnv("tracker.service_account_json", "VETTING_TRACKER_SERVICE_ACCOUNT_JSON")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the built-in configuration without reading files or environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults are static and always decode
	_ = v.Unmarshal(&config)
	return &config
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/vetting.db")

	v.SetDefault("lease.backend", "memory")
	v.SetDefault("lease.ttl", "5m")
	v.SetDefault("lease.redis_addr", "localhost:6379")
	v.SetDefault("lease.redis_db", 0)
	v.SetDefault("lease.key_prefix", "vetting:lease:")

	v.SetDefault("anthropic.enabled", false)
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("anthropic.temperature", 0.0)

	v.SetDefault("fetcher.timeout", "15s")
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.retry_backoff", "500ms")
	v.SetDefault("fetcher.user_agent", "SourceVetting/1.0 (+https://example.org/bot)")
	v.SetDefault("fetcher.max_body_bytes", 4<<20)

	v.SetDefault("metrics.base_url", "http://localhost:8090")
	v.SetDefault("metrics.timeout", "10s")

	v.SetDefault("dedup.weights.url", 0.30)
	v.SetDefault("dedup.weights.content", 0.35)
	v.SetDefault("dedup.weights.metadata", 0.20)
	v.SetDefault("dedup.weights.semantic", 0.15)
	v.SetDefault("dedup.cutoffs.url", 1.0)
	v.SetDefault("dedup.cutoffs.content", 0.95)
	v.SetDefault("dedup.cutoffs.metadata", 1.0)
	v.SetDefault("dedup.cutoffs.semantic", 0.9)
	v.SetDefault("dedup.merge_threshold", 0.8)
	v.SetDefault("dedup.review_threshold", 0.5)
	v.SetDefault("dedup.amount_tolerance", 0.10)
	v.SetDefault("dedup.deadline_tolerance", "168h")
	v.SetDefault("dedup.candidate_cap", 100)
	v.SetDefault("dedup.semantic_enabled", false)
	v.SetDefault("dedup.semantic_candidates", 3)

	v.SetDefault("admission.weights.reachability", 0.15)
	v.SetDefault("admission.weights.relevance", 0.25)
	v.SetDefault("admission.weights.authority", 0.10)
	v.SetDefault("admission.weights.policy", 0.10)
	v.SetDefault("admission.weights.duplicate", 0.10)
	v.SetDefault("admission.weights.feasibility", 0.15)
	v.SetDefault("admission.weights.samples", 0.15)
	v.SetDefault("admission.accept_threshold", 0.8)
	v.SetDefault("admission.manual_review_threshold", 0.6)
	v.SetDefault("admission.reject_threshold", 0.4)
	v.SetDefault("admission.max_in_flight", 4)
	v.SetDefault("admission.check_timeout", "45s")
	v.SetDefault("admission.max_sample_urls", 5)
	v.SetDefault("admission.vocabulary_file", "")
	v.SetDefault("admission.slow_response", "5s")

	v.SetDefault("classifier.refine_below", 0.9)

	v.SetDefault("pilot.duration", "720h") // 30 days
	v.SetDefault("pilot.max_extensions", 2)
	v.SetDefault("pilot.promote_threshold", 0.6)
	v.SetDefault("pilot.extend_threshold", 0.4)
	v.SetDefault("pilot.workers", 4)

	v.SetDefault("evaluation.weights.volume", 0.25)
	v.SetDefault("evaluation.weights.quality", 0.35)
	v.SetDefault("evaluation.weights.technical", 0.25)
	v.SetDefault("evaluation.weights.value", 0.15)
	v.SetDefault("evaluation.minimums.approval_rate", 0.70)
	v.SetDefault("evaluation.minimums.duplicate_rate", 0.20)
	v.SetDefault("evaluation.minimums.reliability", 0.95)
	v.SetDefault("evaluation.failing.approval_rate", 0.50)
	v.SetDefault("evaluation.failing.duplicate_rate", 0.40)
	v.SetDefault("evaluation.failing.reliability", 0.80)
	v.SetDefault("evaluation.excellent_band", 0.9)
	v.SetDefault("evaluation.good_band", 0.75)
	v.SetDefault("evaluation.acceptable_band", 0.6)
	v.SetDefault("evaluation.min_contributions", 10)
	v.SetDefault("evaluation.min_monitoring_days", 7)
	v.SetDefault("evaluation.trend_window", 3)
	v.SetDefault("evaluation.trend_delta", 0.05)
	v.SetDefault("evaluation.target_volume", 20.0)
	v.SetDefault("evaluation.target_unique", 15.0)
	v.SetDefault("evaluation.target_high_value", 5.0)
	v.SetDefault("evaluation.target_downstream", 2.0)
	v.SetDefault("evaluation.latency_good", "2s")
	v.SetDefault("evaluation.latency_bad", "10s")
	v.SetDefault("evaluation.production_window", "720h")

	v.SetDefault("scheduler.pilot_sweep_cron", "0 * * * *") // Hourly
	v.SetDefault("scheduler.production_cron", "0 3 * * 1")  // Mondays 3am
	v.SetDefault("scheduler.resume_on_startup", true)
	v.SetDefault("scheduler.health_port", "10000")

	v.SetDefault("rate_limit.fetch_requests_per_second", 2.0)
	v.SetDefault("rate_limit.anthropic_requests_per_minute", 10)
	v.SetDefault("rate_limit.metrics_requests_per_second", 5.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("tracker.enabled", false)
	v.SetDefault("tracker.sheet_name", "Lifecycle")
}
