package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metagame/sourcecred-sync/internal/domain"
)

// Store is the persistence surface the reconciler writes through
type Store interface {
	UpdatePlayerStats(ctx context.Context, update domain.StatsUpdate) (domain.StatsUpdateResult, error)
	InsertPlayer(ctx context.Context, update domain.StatsUpdate) (string, error)
	UpsertAccounts(ctx context.Context, playerID string, accounts []domain.Alias) error
	ResetAllSeasonXP(ctx context.Context) (int64, error)
}

// Outcome classifies the result of reconciling a single record
type Outcome int

const (
	// OutcomeUpdated means an existing player row was updated
	OutcomeUpdated Outcome = iota
	// OutcomeInserted means a new player row was created (force mode)
	OutcomeInserted
	// OutcomeSkipped means the record was not written; Reason says why
	OutcomeSkipped
)

// RecordResult is the per-record reconciliation outcome. Failures stay
// inside the record that produced them; the runner folds these into the
// run summary.
type RecordResult struct {
	Record  domain.PlayerRecord
	Outcome Outcome
	Reason  string
}

// Reconciler matches one derived record against the stored player set
// and applies the update or insert
type Reconciler struct {
	store  Store
	logger *slog.Logger
}

// NewReconciler creates a reconciler over the given store
func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
	}
}

// Reconcile applies one record. force controls whether unmatched records
// are inserted or skipped. All failures are absorbed into the returned
// result; Reconcile never propagates an error to the caller.
func (r *Reconciler) Reconcile(ctx context.Context, record domain.PlayerRecord, force bool) RecordResult {
	update := domain.StatsUpdate{
		EthereumAddress: record.EthereumAddress,
		Rank:            record.Rank,
		TotalXP:         record.TotalXP,
		SeasonXP:        record.SeasonXP,
		DiscordID:       record.DiscordID,
	}

	result, err := r.store.UpdatePlayerStats(ctx, update)
	if err != nil {
		r.logger.Warn("failed to update player",
			"ethereum_address", record.EthereumAddress,
			"error", err,
		)
		return skipped(record, err.Error())
	}

	if result.DiscordCleared > 0 {
		r.logger.Debug("cleared discord link",
			"ethereum_address", record.EthereumAddress,
		)
	}

	outcome := OutcomeUpdated
	playerID := result.PlayerID

	switch {
	case result.Affected > 1:
		// More than one row on one address means the table itself is
		// inconsistent; never pile an insert on top of that.
		err := fmt.Errorf("%w: %d rows for %s", domain.ErrPlayerConflict, result.Affected, record.EthereumAddress)
		r.logger.Warn("failed to update player",
			"ethereum_address", record.EthereumAddress,
			"error", err,
		)
		return skipped(record, err.Error())

	case result.Affected == 0:
		if !force {
			return skipped(record, "no matching player")
		}

		playerID, err = r.store.InsertPlayer(ctx, update)
		if err != nil {
			r.logger.Warn("failed to insert player",
				"ethereum_address", record.EthereumAddress,
				"error", err,
			)
			return skipped(record, err.Error())
		}
		outcome = OutcomeInserted
	}

	if playerID != "" {
		// The player write already landed; a failed account upsert is
		// logged but does not reclassify the record.
		if err := r.store.UpsertAccounts(ctx, playerID, record.Accounts); err != nil {
			r.logger.Error("failed to upsert linked accounts",
				"player_id", playerID,
				"ethereum_address", record.EthereumAddress,
				"accounts", len(record.Accounts),
				"error", err,
			)
		}
	}

	return RecordResult{Record: record, Outcome: outcome}
}

func skipped(record domain.PlayerRecord, reason string) RecordResult {
	return RecordResult{
		Record:  record,
		Outcome: OutcomeSkipped,
		Reason:  reason,
	}
}
