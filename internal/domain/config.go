package domain

import (
	"time"
)

// Config represents the main application configuration.
type Config struct {
	Run           RunConfig           `mapstructure:"run"`
	Evaluator     EvaluatorConfig     `mapstructure:"evaluator"`
	Severity      SeverityConfig      `mapstructure:"severity"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Similarity    SimilarityConfig    `mapstructure:"similarity"`
	TextAnalytics TextAnalyticsConfig `mapstructure:"text_analytics"`
	Taxonomy      TaxonomyConfig      `mapstructure:"taxonomy"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// RunConfig describes one benchmark run.
type RunConfig struct {
	ExperimentName        string `mapstructure:"experiment_name"`
	ExperimentDescription string `mapstructure:"experiment_description"`
	DatasetPath           string `mapstructure:"dataset_path"`
	OutputDir             string `mapstructure:"output_dir"`
	PromptPath            string `mapstructure:"prompt_path"`
	// GenerateDDX enables the generation phase; when false the dataset is
	// expected to arrive with DDX lists already attached.
	GenerateDDX bool `mapstructure:"generate_ddx"`
	// ExtractCodes enables the code-extraction phase for generated DDX.
	ExtractCodes bool `mapstructure:"extract_codes"`
	// MaxWorkers bounds the per-case worker pool.
	MaxWorkers int `mapstructure:"max_workers"`
	// PersistResults stores the run in the results database when enabled.
	PersistResults bool `mapstructure:"persist_results"`
}

// EvaluatorConfig holds the cascade thresholds and search flags.
type EvaluatorConfig struct {
	// AcceptanceThreshold is the minimum similarity for a semantic match to
	// be considered at all.
	AcceptanceThreshold float64 `mapstructure:"acceptance_threshold"`
	// AutoconfirmThreshold is the similarity above which a semantic match
	// is accepted without judge adjudication. Must be >= AcceptanceThreshold.
	AutoconfirmThreshold     float64 `mapstructure:"autoconfirm_threshold"`
	EnableICD10ParentSearch  bool    `mapstructure:"enable_icd10_parent_search"`
	EnableICD10SiblingSearch bool    `mapstructure:"enable_icd10_sibling_search"`
	// JudgeCandidates is how many DDX entries (by position) the judge sees.
	JudgeCandidates int `mapstructure:"judge_candidates"`
}

// SeverityConfig drives the batched severity-assignment phase.
type SeverityConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BatchSize  int    `mapstructure:"batch_size"`
	PromptPath string `mapstructure:"prompt_path"`
}

// MetricsConfig holds the ranking-metric parameters.
type MetricsConfig struct {
	// MatchThreshold is applied to the unified per-DDX score: 1.0 for coded
	// matches, the raw similarity for semantic matches.
	MatchThreshold float64 `mapstructure:"match_threshold"`
}

// LLMConfig represents the Azure OpenAI-style chat endpoint used for DDX
// generation, judging and severity assignment.
type LLMConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	APIKey          string        `mapstructure:"api_key"`
	APIVersion      string        `mapstructure:"api_version"`
	Deployment      string        `mapstructure:"deployment"`
	JudgeDeployment string        `mapstructure:"judge_deployment"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RetryCount      int           `mapstructure:"retry_count"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
}

// SimilarityConfig represents the BERT similarity endpoint.
type SimilarityConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RetryCount int           `mapstructure:"retry_count"`
}

// TextAnalyticsConfig represents the Text Analytics for Health endpoint
// used for medical code extraction.
type TextAnalyticsConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RetryCount int           `mapstructure:"retry_count"`
	BatchSize  int           `mapstructure:"batch_size"`
}

// TaxonomyConfig locates the local ICD-10 taxonomy snapshot.
type TaxonomyConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// DatabaseConfig represents the optional Postgres results store.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents the similarity/severity cache tiers.
type CacheConfig struct {
	// MemorySize is the entry capacity of the in-memory LRU tier.
	MemorySize int `mapstructure:"memory_size"`
	// RedisEnabled turns on the distributed tier.
	RedisEnabled bool          `mapstructure:"redis_enabled"`
	RedisURL     string        `mapstructure:"redis_url"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
}

// ServerConfig represents the report HTTP server. Enabled controls whether
// the benchmark binary also serves live progress while a run executes.
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
