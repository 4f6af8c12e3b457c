package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/foundation29org/dxgpt-bench-lab/internal/api"
	"github.com/foundation29org/dxgpt-bench-lab/internal/config"
	"github.com/foundation29org/dxgpt-bench-lab/internal/database"
	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/internal/evaluator"
	"github.com/foundation29org/dxgpt-bench-lab/internal/parse"
	"github.com/foundation29org/dxgpt-bench-lab/internal/progress"
	"github.com/foundation29org/dxgpt-bench-lab/internal/repository"
	"github.com/foundation29org/dxgpt-bench-lab/internal/resolver"
	"github.com/foundation29org/dxgpt-bench-lab/internal/taxonomy"
	"github.com/foundation29org/dxgpt-bench-lab/pkg/external"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configManager, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Benchmark run failed")
	}
}

func run(ctx context.Context, configManager *config.Manager, cfg *domain.Config, logger *logrus.Logger) error {
	cases, err := parse.LoadDataset(cfg.Run.DatasetPath)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"experiment": cfg.Run.ExperimentName,
		"cases":      len(cases),
	}).Info("Dataset loaded")

	store, err := taxonomy.NewStore(cfg.Taxonomy.DBPath)
	if err != nil {
		return fmt.Errorf("opening taxonomy store: %w", err)
	}
	defer store.Close()

	chat := external.NewResilientChatLLM(
		external.NewChatClient(cfg.LLM, logger), "chat", logger)

	judgeLLM := chat
	if cfg.LLM.JudgeDeployment != "" && cfg.LLM.JudgeDeployment != cfg.LLM.Deployment {
		judgeCfg := cfg.LLM
		judgeCfg.Deployment = judgeCfg.JudgeDeployment
		judgeLLM = external.NewResilientChatLLM(
			external.NewChatClient(judgeCfg, logger), "judge", logger)
	}
	judge := external.NewJudge(judgeLLM, cfg.LLM, logger)

	scorer := external.NewResilientSimilarityScorer(
		external.NewBERTClient(cfg.Similarity, logger), logger)

	cache, err := external.NewSimilarityCache(cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("creating similarity cache: %w", err)
	}

	caseEvaluator := evaluator.NewCaseEvaluator(
		resolver.New(store, scorer, cache, judge, cfg.Evaluator, logger), logger)

	opts := []evaluator.PipelineOption{evaluator.WithWarmUp(scorer)}
	if cfg.Run.GenerateDDX {
		prompt, err := loadPrompt(cfg.Run.PromptPath)
		if err != nil {
			return err
		}
		opts = append(opts, evaluator.WithGenerator(chat, prompt))
	}
	if cfg.Run.ExtractCodes {
		linker := external.NewResilientEntityLinker(
			external.NewTextAnalyticsClient(cfg.TextAnalytics, logger), logger)
		opts = append(opts, evaluator.WithCodeExtraction(linker))
	}
	if cfg.Severity.Enabled {
		prompt, err := loadPrompt(cfg.Severity.PromptPath)
		if err != nil {
			return err
		}
		opts = append(opts, evaluator.WithSeverity(
			evaluator.NewSeverityAssigner(chat, cfg.Severity, prompt, logger)))
	}

	if cfg.Server.Enabled {
		hub := progress.NewHub(logger)
		defer hub.Close()
		opts = append(opts, evaluator.WithObserver(progress.Multi{
			progress.NewLogObserver(logger),
			hub,
		}))

		server := api.NewServer(cfg.Server, nil, hub, cfg.Logging.Level, logger)
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.WithError(err).Error("Live progress server failed")
			}
		}()
	}

	pipeline := evaluator.NewPipeline(*cfg, caseEvaluator, logger, opts...)
	out, err := pipeline.Run(ctx, cases)
	if err != nil {
		return fmt.Errorf("running evaluation: %w", err)
	}

	outputDir := filepath.Join(cfg.Run.OutputDir, out.RunID)
	if err := evaluator.WriteReports(outputDir, out, logger); err != nil {
		return fmt.Errorf("writing reports: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"run_id":     out.RunID,
		"output_dir": outputDir,
		"matched":    out.Summary.MatchedCases,
		"total":      out.Summary.TotalCases,
	}).Info("Run complete")

	if cfg.Database.Enabled && cfg.Run.PersistResults {
		if err := persistRun(ctx, configManager, cfg, out, logger); err != nil {
			return fmt.Errorf("persisting run: %w", err)
		}
	}
	return nil
}

func persistRun(ctx context.Context, configManager *config.Manager, cfg *domain.Config, out *evaluator.RunOutput, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(
		configManager.GetDatabaseConnectionString(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		return err
	}
	if err := runner.Up(ctx); err != nil {
		runner.Close()
		return err
	}
	runner.Close()

	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.NewRunRepository(db.Pool, logger).SaveRun(ctx, out); err != nil {
		return err
	}
	logger.WithField("run_id", out.RunID).Info("Run persisted to results store")
	return nil
}

// loadPrompt reads a prompt override file; an empty path keeps the
// built-in template.
func loadPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt %s: %w", path, err)
	}
	return string(data), nil
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	}
	return logger
}
