package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

func validConfig() *domain.Config {
	return &domain.Config{
		Run: domain.RunConfig{
			DatasetPath: "dataset.json",
			MaxWorkers:  3,
		},
		Evaluator: domain.EvaluatorConfig{
			AcceptanceThreshold:  0.80,
			AutoconfirmThreshold: 0.90,
			JudgeCandidates:      5,
		},
		Severity: domain.SeverityConfig{Enabled: true, BatchSize: 50},
		Metrics:  domain.MetricsConfig{MatchThreshold: 0.8},
		Logging:  domain.LoggingConfig{Level: "info"},
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidate_RejectsInvertedThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Evaluator.AcceptanceThreshold = 0.95
	cfg.Evaluator.AutoconfirmThreshold = 0.90

	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "acceptance_threshold")
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		field  string
	}{
		{
			name:   "threshold out of range",
			mutate: func(c *domain.Config) { c.Evaluator.AutoconfirmThreshold = 1.5 },
			field:  "autoconfirm_threshold",
		},
		{
			name:   "zero workers",
			mutate: func(c *domain.Config) { c.Run.MaxWorkers = 0 },
			field:  "max_workers",
		},
		{
			name:   "missing dataset",
			mutate: func(c *domain.Config) { c.Run.DatasetPath = "" },
			field:  "dataset_path",
		},
		{
			name:   "zero judge candidates",
			mutate: func(c *domain.Config) { c.Evaluator.JudgeCandidates = 0 },
			field:  "judge_candidates",
		},
		{
			name:   "zero severity batch",
			mutate: func(c *domain.Config) { c.Severity.BatchSize = 0 },
			field:  "batch_size",
		},
		{
			name: "database enabled without host",
			mutate: func(c *domain.Config) {
				c.Database.Enabled = true
				c.Database.Host = ""
			},
			field: "database.host",
		},
		{
			name:   "bad log level",
			mutate: func(c *domain.Config) { c.Logging.Level = "verbose" },
			field:  "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_EqualThresholdsAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Evaluator.AcceptanceThreshold = 0.85
	cfg.Evaluator.AutoconfirmThreshold = 0.85
	assert.NoError(t, Validate(cfg))
}
