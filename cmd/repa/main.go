package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mixelka/repa/internal/config"
	"github.com/mixelka/repa/internal/database"
	"github.com/mixelka/repa/internal/extractor"
	"github.com/mixelka/repa/internal/fetcher"
	"github.com/mixelka/repa/internal/formatter"
	"github.com/mixelka/repa/internal/llm"
	"github.com/mixelka/repa/internal/metrics"
	"github.com/mixelka/repa/internal/monitor"
	"github.com/mixelka/repa/internal/parser"
	"github.com/mixelka/repa/internal/pipeline"
	"github.com/mixelka/repa/internal/report"
	"github.com/mixelka/repa/internal/scrape"
	"github.com/mixelka/repa/internal/secret"
	"github.com/mixelka/repa/internal/telegram"
	"github.com/mixelka/repa/internal/vision"
	"github.com/mixelka/repa/pkg/models"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting apartment match bot")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	sealer, err := secret.NewSealer(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to create sealer", "error", err)
		os.Exit(1)
	}

	// External clients
	llmClient := llm.NewClient(llm.Config{
		BaseURL:           cfg.LLMBaseURL,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.LLMModel,
		Timeout:           cfg.LLMTimeout,
		RequestsPerSecond: cfg.LLMRequestsPerSecond,
	})
	scrapeClient := scrape.NewClient(scrape.Config{
		BaseURL:           cfg.ScraperURL,
		APIKey:            cfg.ScraperAPIKey,
		Timeout:           cfg.ScraperTimeout,
		RequestsPerSecond: cfg.ScraperRequestsPerSecond,
	})

	// Pipeline
	orchestrator := pipeline.New(pipeline.Deps{
		Extractor: extractor.New(llmClient, cfg.LLMModel, logger),
		Fetcher: fetcher.New(scrapeClient, fetcher.Config{
			MaxBodyBytes:   cfg.ListingMaxBodyBytes,
			MaxImages:      cfg.ListingMaxImages,
			RetryMax:       cfg.FetchRetryMax,
			BackoffInitial: cfg.FetchBackoffInitial,
			BackoffMax:     cfg.FetchBackoffMax,
		}, logger),
		Analyzer: vision.New(llmClient, vision.Config{
			Model:        cfg.LLMVisionModel,
			Concurrency:  cfg.ImageConcurrency,
			ImageTimeout: cfg.LLMTimeout,
		}, logger),
		Generator: report.New(llmClient, cfg.LLMModel, logger),
		Timeouts: pipeline.Timeouts{
			Extract: cfg.ExtractTimeout,
			Fetch:   cfg.FetchTimeout,
			Images:  cfg.ImagesTimeout,
			Report:  cfg.ReportTimeout,
		},
		Logger: logger,
	})

	dialer := monitor.IMAPDialer(logger)
	defaultKeywords := models.ParseKeywords(cfg.DefaultSubjectKeywords)

	// Create bot
	bot, err := telegram.NewBot(telegram.BotDeps{
		Token:     cfg.TelegramToken,
		Store:     db,
		Runner:    orchestrator,
		Extractor: extractor.New(llmClient, cfg.LLMModel, logger),
		Dialer:    dialer,
		Sealer:    sealer,
		Formatter: formatter.NewTelegramFormatter(),
		Config: telegram.Config{
			DialTimeout:            cfg.IMAPDialTimeout,
			DefaultSenderFilter:    cfg.DefaultSenderFilter,
			DefaultSubjectKeywords: defaultKeywords,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	// Inbox monitor delivers through the bot
	inbox := monitor.New(monitor.Deps{
		Store:  db,
		Runner: orchestrator,
		Dialer: dialer,
		Links:  parser.NewLinkExtractor(cfg.ListingDomains),
		Sink:   bot,
		Open:   sealer.Open,
		Config: monitor.Config{
			TickTimeout:            cfg.MonitorTickTimeout,
			DialTimeout:            cfg.IMAPDialTimeout,
			UserConcurrency:        cfg.MonitorUserConcurrency,
			URLConcurrency:         cfg.MonitorURLConcurrency,
			RunConcurrency:         cfg.MonitorRunConcurrency,
			DefaultSenderFilter:    cfg.DefaultSenderFilter,
			DefaultSubjectKeywords: defaultKeywords,
		},
		Logger: logger,
	})
	bot.SetChecker(inbox)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsEnabled() {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	scheduler := monitor.NewScheduler(inbox, cfg.EmailPollInterval, nil, logger)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	// Start bot
	logger.Info("bot is running, press Ctrl+C to stop")
	bot.Start(ctx)

	logger.Info("shutting down...")
	<-schedulerDone
	bot.Wait()

	logger.Info("bot stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
