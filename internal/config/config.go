// Package config provides configuration management for the benchmark
// harness using Viper: YAML file, DXGPT_* environment overrides and
// defaults, with fatal validation at startup.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// Manager loads and validates the application configuration.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment and defaults.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/dxgpt-bench/")

	viper.SetEnvPrefix("DXGPT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars cover everything.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values.
func (m *Manager) setDefaults() {
	// Run defaults
	viper.SetDefault("run.experiment_name", "dxgpt-bench")
	viper.SetDefault("run.output_dir", "./output")
	viper.SetDefault("run.generate_ddx", false)
	viper.SetDefault("run.extract_codes", false)
	viper.SetDefault("run.max_workers", 3)
	viper.SetDefault("run.persist_results", false)

	// Evaluator defaults
	viper.SetDefault("evaluator.acceptance_threshold", 0.80)
	viper.SetDefault("evaluator.autoconfirm_threshold", 0.90)
	viper.SetDefault("evaluator.enable_icd10_parent_search", true)
	viper.SetDefault("evaluator.enable_icd10_sibling_search", true)
	viper.SetDefault("evaluator.judge_candidates", 5)

	// Severity defaults
	viper.SetDefault("severity.enabled", true)
	viper.SetDefault("severity.batch_size", 50)

	// Metrics defaults
	viper.SetDefault("metrics.match_threshold", 0.8)

	// LLM defaults
	viper.SetDefault("llm.api_version", "2024-02-15-preview")
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("llm.rate_limit", 5)
	viper.SetDefault("llm.retry_count", 3)
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.max_tokens", 2048)

	// Similarity endpoint defaults
	viper.SetDefault("similarity.timeout", "60s")
	viper.SetDefault("similarity.rate_limit", 10)
	viper.SetDefault("similarity.retry_count", 3)

	// Text Analytics defaults
	viper.SetDefault("text_analytics.timeout", "60s")
	viper.SetDefault("text_analytics.rate_limit", 10)
	viper.SetDefault("text_analytics.retry_count", 3)
	viper.SetDefault("text_analytics.batch_size", 5)

	// Taxonomy defaults
	viper.SetDefault("taxonomy.db_path", "./data/icd10.db")

	// Database defaults
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "dxgpt_bench")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "./migrations/results")

	// Cache defaults
	viper.SetDefault("cache.memory_size", 4096)
	viper.SetDefault("cache.redis_enabled", false)
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "24h")

	// Server defaults
	viper.SetDefault("server.enabled", false)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Validate validates the configuration. Invalid threshold ordering or
// missing required keys are fatal at startup.
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration independently of the manager, so tests
// and callers with hand-built configs share the same rules.
func Validate(config *domain.Config) error {
	ev := config.Evaluator
	if ev.AcceptanceThreshold < 0 || ev.AcceptanceThreshold > 1 {
		return domain.NewValidationError("evaluator.acceptance_threshold",
			fmt.Sprintf("must be in [0,1], got %v", ev.AcceptanceThreshold))
	}
	if ev.AutoconfirmThreshold < 0 || ev.AutoconfirmThreshold > 1 {
		return domain.NewValidationError("evaluator.autoconfirm_threshold",
			fmt.Sprintf("must be in [0,1], got %v", ev.AutoconfirmThreshold))
	}
	if ev.AcceptanceThreshold > ev.AutoconfirmThreshold {
		return domain.NewValidationError("evaluator.acceptance_threshold",
			fmt.Sprintf("acceptance threshold %v exceeds autoconfirm threshold %v",
				ev.AcceptanceThreshold, ev.AutoconfirmThreshold))
	}
	if ev.JudgeCandidates <= 0 {
		return domain.NewValidationError("evaluator.judge_candidates",
			fmt.Sprintf("must be positive, got %d", ev.JudgeCandidates))
	}

	if config.Run.MaxWorkers <= 0 {
		return domain.NewValidationError("run.max_workers",
			fmt.Sprintf("must be positive, got %d", config.Run.MaxWorkers))
	}
	if config.Run.DatasetPath == "" {
		return domain.NewValidationError("run.dataset_path", "dataset path is required")
	}

	if config.Metrics.MatchThreshold < 0 || config.Metrics.MatchThreshold > 1 {
		return domain.NewValidationError("metrics.match_threshold",
			fmt.Sprintf("must be in [0,1], got %v", config.Metrics.MatchThreshold))
	}

	if config.Severity.Enabled && config.Severity.BatchSize <= 0 {
		return domain.NewValidationError("severity.batch_size",
			fmt.Sprintf("must be positive, got %d", config.Severity.BatchSize))
	}

	if config.Database.Enabled {
		if config.Database.Host == "" {
			return domain.NewValidationError("database.host", "database host is required")
		}
		if config.Database.Database == "" {
			return domain.NewValidationError("database.database", "database name is required")
		}
	}

	if config.Cache.RedisEnabled && config.Cache.RedisURL == "" {
		return domain.NewValidationError("cache.redis_url", "redis URL is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return domain.NewValidationError("logging.level",
			fmt.Sprintf("invalid log level: %s", config.Logging.Level))
	}

	return nil
}

// GetDatabaseConnectionString returns a pgx-compatible connection string.
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}
