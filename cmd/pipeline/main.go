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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devco/forumblog-pipeline/internal/alerting"
	"github.com/devco/forumblog-pipeline/internal/audit"
	"github.com/devco/forumblog-pipeline/internal/config"
	"github.com/devco/forumblog-pipeline/internal/httpserver"
	"github.com/devco/forumblog-pipeline/internal/platform"
	"github.com/devco/forumblog-pipeline/internal/telemetry"
	"github.com/devco/forumblog-pipeline/pkg/blog"
	"github.com/devco/forumblog-pipeline/pkg/collector"
	"github.com/devco/forumblog-pipeline/pkg/forum"
	"github.com/devco/forumblog-pipeline/pkg/llm"
	"github.com/devco/forumblog-pipeline/pkg/processor"
	"github.com/devco/forumblog-pipeline/pkg/publisher"
	"github.com/devco/forumblog-pipeline/pkg/queue"
	"github.com/devco/forumblog-pipeline/pkg/quota"
	"github.com/devco/forumblog-pipeline/pkg/scheduler"
	"github.com/devco/forumblog-pipeline/pkg/store"
	"github.com/devco/forumblog-pipeline/pkg/takedown"
)

func main() {
	mode := flag.String("mode", "", "run mode: scheduler or migrate (overrides PIPELINE_MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting forumblog-pipeline", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	alerts := alerting.NewNotifier(cfg.AlertWebhookURL, logger)

	ledger := quota.NewLedger(rdb, db, logger, map[string]int64{
		quota.ServiceForum: cfg.ForumDailyCallsLimit,
		quota.ServiceLLM:   cfg.LLMDailyTokensLimit,
	})

	q := queue.New(db, rdb, logger)
	postStore := store.NewStore(db)

	forumClient, err := forum.NewClient(forum.Config{
		ClientID:       cfg.ForumClientID,
		ClientSecret:   cfg.ForumClientSecret,
		TokenURL:       cfg.ForumTokenURL,
		APIBaseURL:     cfg.ForumAPIBaseURL,
		UserAgent:      cfg.ForumUserAgent,
		CallsPerMinute: 60,
	})
	if err != nil {
		return fmt.Errorf("building forum client: %w", err)
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLMAPIKey,
		APIBaseURL:     cfg.LLMAPIBaseURL,
		PrimaryModel:   cfg.LLMPrimaryModel,
		FallbackModel:  cfg.LLMFallbackModel,
		TargetLanguage: cfg.LLMTargetLanguage,
	})

	blogClient, err := blog.NewClient(blog.Config{
		BaseURL:        cfg.BlogAPIURL,
		AdminKey:       cfg.BlogAdminKey,
		DefaultOGImage: cfg.DefaultOGImage,
	})
	if err != nil {
		return fmt.Errorf("building blog client: %w", err)
	}

	collectorStage := collector.New(forumClient, postStore, q, ledger, alerts, logger)
	processorStage := processor.New(llmClient, postStore, q, ledger, auditWriter, alerts, logger)
	publisherStage := publisher.New(blogClient, postStore, auditWriter, publisher.Config{DefaultOGImage: cfg.DefaultOGImage}, logger)
	takedownStage := takedown.New(blogClient, postStore, q, auditWriter, alerts, logger)

	collectInterval, err := time.ParseDuration(cfg.CollectInterval)
	if err != nil {
		return fmt.Errorf("parsing collect interval %q: %w", cfg.CollectInterval, err)
	}
	queueDepthWindow, err := time.ParseDuration(cfg.QueueDepthAlertWindow)
	if err != nil {
		return fmt.Errorf("parsing queue depth alert window %q: %w", cfg.QueueDepthAlertWindow, err)
	}

	deps := scheduler.Deps{
		Queue:     q,
		Collector: collectorStage,
		Processor: processorStage,
		Publisher: publisherStage,
		Takedown:  takedownStage,
		Alerts:    alerts,
		Logger:    logger,

		CollectPolicy: collector.Policy{
			Communities: cfg.Communities,
			Sort:        forum.Sort(cfg.Sort),
			TimeFilter:  cfg.TimeFilter,
			BatchSize:   cfg.BatchSize,
			MinScore:    cfg.MinScore,
			MinComments: cfg.MinComments,
		},
		CollectInterval:    collectInterval,
		CollectConcurrency: cfg.CollectConcurrency,
		ProcessConcurrency: cfg.ProcessConcurrency,
		PublishConcurrency: cfg.PublishConcurrency,

		QueueDepthAlertThreshold: cfg.QueueDepthAlertThreshold,
		QueueDepthAlertWindow:    queueDepthWindow,
	}

	admin := httpserver.NewServer(logger, db, rdb, metricsReg, cfg.MetricsPath)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpserver.Run(ctx, cfg.ListenAddr(), admin) })
	g.Go(func() error { return scheduler.Run(ctx, deps) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
