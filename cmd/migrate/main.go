package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/migration"
	"github.com/metagame/sourcecred-sync/internal/postgres"
	"github.com/metagame/sourcecred-sync/internal/sourcecred"
)

// One-shot reconciliation run from the command line, for operators and
// cron jobs that do not want to keep the HTTP server around.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	force := flag.Bool("force", false, "Insert players that do not exist yet")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx := context.Background()

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	scClient := sourcecred.NewClient(&cfg.SourceCred)
	season := sourcecred.NewSeason(&cfg.Season)
	runner := migration.NewRunner(repo, scClient, season, &cfg.Migration, logger)

	summary, err := runner.Run(ctx, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error migrating SourceCred accounts: %s\n", err.Error())
		os.Exit(1)
	}

	out := map[string]int{
		"numSkipped":           summary.NumSkipped,
		summary.WrittenLabel(): summary.NumWritten,
	}
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		logger.Error("failed to encode summary", "error", err)
		os.Exit(1)
	}
}
