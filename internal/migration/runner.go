package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/domain"
	"github.com/metagame/sourcecred-sync/internal/sourcecred"
)

// SnapshotSource provides the upstream SourceCred data for a run
type SnapshotSource interface {
	ReloadLedger(ctx context.Context) error
	LoadAccounts(ctx context.Context) ([]domain.SnapshotAccount, error)
}

// SeasonInfo answers the season-boundary questions at run start
type SeasonInfo interface {
	NumWeeksInSeason() int
	IsNewSeason() bool
}

// RankMirror receives the derived records after a successful run, e.g.
// to serve rank reads from Redis
type RankMirror interface {
	MirrorRecords(ctx context.Context, records []domain.PlayerRecord) error
}

// EventPublisher publishes sync events for downstream consumers
type EventPublisher interface {
	Publish(event domain.SyncEvent) error
}

// Notifier observes run lifecycle transitions
type Notifier interface {
	RunStarted(runID string, force bool, total int)
	RunCompleted(summary domain.RunSummary)
}

// Runner orchestrates one reconciliation run: preconditions, snapshot
// load, derivation, and the bounded-concurrency reconcile loop
type Runner struct {
	store       Store
	source      SnapshotSource
	season      SeasonInfo
	reconciler  *Reconciler
	rankOf      sourcecred.RankFunc
	concurrency int
	logger      *slog.Logger

	// optional collaborators, nil when disabled
	mirror    RankMirror
	publisher EventPublisher
	notifier  Notifier
}

// NewRunner creates a runner over the given collaborators
func NewRunner(
	store Store,
	source SnapshotSource,
	season SeasonInfo,
	cfg *config.MigrationConfig,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		store:       store,
		source:      source,
		season:      season,
		reconciler:  NewReconciler(store, logger),
		rankOf:      sourcecred.ZeroBasedRank,
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
}

// SetMirror sets the rank mirror used after successful runs
func (r *Runner) SetMirror(mirror RankMirror) {
	r.mirror = mirror
}

// SetPublisher sets the sync-event publisher
func (r *Runner) SetPublisher(publisher EventPublisher) {
	r.publisher = publisher
}

// SetNotifier sets the run lifecycle observer
func (r *Runner) SetNotifier(notifier Notifier) {
	r.notifier = notifier
}

// SetRankFunc overrides the default positional rank function
func (r *Runner) SetRankFunc(rankOf sourcecred.RankFunc) {
	r.rankOf = rankOf
}

// Run executes one reconciliation run. Ledger reload, snapshot load and
// the season reset are run-fatal; everything after that is isolated per
// record. Concurrent Runs are not coordinated against each other.
func (r *Runner) Run(ctx context.Context, force bool) (domain.RunSummary, error) {
	runID := uuid.New().String()
	start := time.Now()

	if err := r.source.ReloadLedger(ctx); err != nil {
		return domain.RunSummary{}, fmt.Errorf("unable to load ledger: %w", err)
	}

	r.logger.Debug("updating players from SourceCred", "run_id", runID, "force", force)

	accounts, err := r.source.LoadAccounts(ctx)
	if err != nil {
		return domain.RunSummary{}, err
	}

	// Explicitly reset everybody's seasonal XP at the beginning of a season
	if r.season.IsNewSeason() {
		reset, err := r.store.ResetAllSeasonXP(ctx)
		if err != nil {
			return domain.RunSummary{}, fmt.Errorf("resetting season xp: %w", err)
		}
		r.logger.Info("new season, reset seasonal xp", "run_id", runID, "players", reset)
	}

	records := sourcecred.BuildPlayerRecords(r.logger, accounts, r.season.NumWeeksInSeason(), r.rankOf)

	if r.notifier != nil {
		r.notifier.RunStarted(runID, force, len(records))
	}

	skipped := r.reconcileAll(ctx, runID, records, force)

	summary := domain.RunSummary{
		RunID:      runID,
		Force:      force,
		Total:      len(records),
		NumSkipped: skipped,
		NumWritten: len(records) - skipped,
		Duration:   time.Since(start),
	}

	r.finishRun(ctx, records, summary)
	return summary, nil
}

// reconcileAll runs the reconciler over all records with a fixed
// concurrency ceiling and returns the skipped count. Completion order
// is not significant; the skipped set is collected in a concurrent map
// keyed by record index, so duplicate addresses each keep their entry.
func (r *Runner) reconcileAll(ctx context.Context, runID string, records []domain.PlayerRecord, force bool) int {
	skipped := xsync.NewMap[int, string]()

	pool := pond.NewPool(r.concurrency)
	for index, record := range records {
		index, rec := index, record
		pool.Submit(func() {
			result := r.reconciler.Reconcile(ctx, rec, force)
			switch result.Outcome {
			case OutcomeSkipped:
				skipped.Store(index, result.Reason)
			case OutcomeInserted:
				r.publish(domain.SyncEvent{
					Type:            domain.SyncEventPlayerSynced,
					RunID:           runID,
					EthereumAddress: rec.EthereumAddress,
					Rank:            rec.Rank,
					TotalXP:         rec.TotalXP,
					SeasonXP:        rec.SeasonXP,
					Timestamp:       time.Now(),
				})
			}
		})
	}
	pool.StopAndWait()

	skipped.Range(func(index int, reason string) bool {
		r.logger.Info("skipped player", "ethereum_address", records[index].EthereumAddress, "reason", reason)
		return true
	})

	return skipped.Size()
}

// finishRun handles the post-batch side effects: mirror, events,
// notifications. None of them can fail the run.
func (r *Runner) finishRun(ctx context.Context, records []domain.PlayerRecord, summary domain.RunSummary) {
	if r.mirror != nil {
		if err := r.mirror.MirrorRecords(ctx, records); err != nil {
			r.logger.Warn("failed to mirror ranks", "run_id", summary.RunID, "error", err)
		}
	}

	r.publish(domain.SyncEvent{
		Type:       domain.SyncEventRunCompleted,
		RunID:      summary.RunID,
		NumSkipped: summary.NumSkipped,
		NumWritten: summary.NumWritten,
		Timestamp:  time.Now(),
	})

	if r.notifier != nil {
		r.notifier.RunCompleted(summary)
	}

	r.logger.Info("reconciliation run completed",
		"run_id", summary.RunID,
		"force", summary.Force,
		"total", summary.Total,
		"skipped", summary.NumSkipped,
		"written", summary.NumWritten,
		"duration", summary.Duration,
	)
}

func (r *Runner) publish(event domain.SyncEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(event); err != nil {
		r.logger.Warn("failed to publish sync event", "type", event.Type, "error", err)
	}
}
