package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/handler"
	"github.com/metagame/sourcecred-sync/internal/kafka"
	"github.com/metagame/sourcecred-sync/internal/migration"
	"github.com/metagame/sourcecred-sync/internal/postgres"
	"github.com/metagame/sourcecred-sync/internal/redis"
	"github.com/metagame/sourcecred-sync/internal/sourcecred"
	"github.com/metagame/sourcecred-sync/internal/websocket"
	"github.com/metagame/sourcecred-sync/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// SourceCred instance client and season math
	scClient := sourcecred.NewClient(&cfg.SourceCred)
	season := sourcecred.NewSeason(&cfg.Season)

	// Reconciliation runner
	runner := migration.NewRunner(repo, scClient, season, &cfg.Migration, logger)

	// Rank reads come from the Redis mirror when enabled, otherwise
	// straight from Postgres; live per-player ranks need the mirror
	var boards handler.BoardReader = repo
	var ranks handler.RankReader

	// Initialize the optional Redis rank mirror
	var mirror *redis.RankMirror
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		mirror, err = redis.NewRankMirror(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer mirror.Close()
		logger.Info("connected to Redis")

		runner.SetMirror(mirror)
		boards = mirror
		ranks = mirror
	}

	// Initialize the optional Kafka sync-event producer
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka producer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		producer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without Kafka", "error", err)
		} else {
			runner.SetPublisher(producer)
			logger.Info("Kafka producer started successfully")
		}
	}

	// Initialize WebSocket hub for run-progress broadcasts
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	runner.SetNotifier(wsHub)
	logger.Info("WebSocket hub initialized")

	// Optional scheduled update-only runs
	scheduler := worker.NewScheduler(runner, &cfg.Sync, logger)
	if cfg.Sync.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("failed to start run scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(runner, boards, repo, ranks, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop scheduler
	if err := scheduler.Stop(); err != nil {
		logger.Error("failed to stop run scheduler", "error", err)
	}

	// Stop Kafka producer
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
