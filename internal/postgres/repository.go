package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	// ethereum_address is intentionally NOT unique: duplicate rows are a
	// data-consistency condition the reconciler must be able to detect
	// and report rather than one the schema silently prevents.
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id UUID PRIMARY KEY,
			ethereum_address VARCHAR(42) NOT NULL,
			username VARCHAR(255),
			discord_id VARCHAR(64),
			rank INT,
			total_xp DOUBLE PRECISION NOT NULL DEFAULT 0,
			season_xp DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS player_accounts (
			id BIGSERIAL PRIMARY KEY,
			player_id UUID NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			type VARCHAR(16) NOT NULL,
			identifier VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(identifier, type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_ethereum_address ON players(lower(ethereum_address))`,
		`CREATE INDEX IF NOT EXISTS idx_players_total_xp ON players(total_xp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_player_accounts_player ON player_accounts(player_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// UpdatePlayerStats updates the player matching the given address with
// new rank and XP values. A stale Discord link is always cleared first,
// in the same transaction, so the player-row write is visible before any
// account writes. Matching zero or multiple rows is not an error here;
// the caller decides what either means.
func (r *Repository) UpdatePlayerStats(ctx context.Context, update domain.StatsUpdate) (domain.StatsUpdateResult, error) {
	var result domain.StatsUpdateResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("beginning stats update: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	clearQuery := `
		UPDATE players
		SET discord_id = NULL, updated_at = $3
		WHERE lower(ethereum_address) = $1
		  AND discord_id IS NOT NULL
		  AND discord_id IS DISTINCT FROM NULLIF($2, '')
	`
	cleared, err := tx.Exec(ctx, clearQuery, update.EthereumAddress, update.DiscordID, now)
	if err != nil {
		return result, fmt.Errorf("clearing discord link: %w", err)
	}
	result.DiscordCleared = cleared.RowsAffected()

	statsQuery := `
		UPDATE players
		SET rank = $2,
		    total_xp = $3,
		    season_xp = $4,
		    discord_id = COALESCE(NULLIF($5, ''), discord_id),
		    updated_at = $6
		WHERE lower(ethereum_address) = $1
		RETURNING id
	`
	rows, err := tx.Query(ctx, statsQuery,
		update.EthereumAddress,
		update.Rank,
		update.TotalXP,
		update.SeasonXP,
		update.DiscordID,
		now,
	)
	if err != nil {
		return result, fmt.Errorf("updating player stats: %w", err)
	}

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return result, fmt.Errorf("scanning updated player id: %w", err)
		}
		if result.PlayerID == "" {
			result.PlayerID = id
		}
		result.Affected++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("updating player stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("committing stats update: %w", err)
	}
	return result, nil
}

// InsertPlayer creates a new player row and returns its generated id
func (r *Repository) InsertPlayer(ctx context.Context, update domain.StatsUpdate) (string, error) {
	id := uuid.New().String()
	query := `
		INSERT INTO players (id, ethereum_address, rank, total_xp, season_xp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	now := time.Now()
	_, err := r.pool.Exec(ctx, query,
		id,
		update.EthereumAddress,
		update.Rank,
		update.TotalXP,
		update.SeasonXP,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("inserting player: %w", err)
	}
	return id, nil
}

// UpsertAccounts links external accounts to a player. The key is
// (identifier, type); an existing row on the same key is left untouched,
// so re-linking is a no-op rather than an ownership transfer.
func (r *Repository) UpsertAccounts(ctx context.Context, playerID string, accounts []domain.Alias) error {
	if len(accounts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO player_accounts (player_id, type, identifier, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identifier, type) DO NOTHING
	`
	now := time.Now()

	for _, account := range accounts {
		batch.Queue(query, playerID, string(account.Type), account.Identifier, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range accounts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting account: %w", err)
		}
	}
	return nil
}

// ResetAllSeasonXP zeroes every player's seasonal XP; called once at the
// start of the first run of a new season
func (r *Repository) ResetAllSeasonXP(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `UPDATE players SET season_xp = 0, updated_at = $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("resetting season xp: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetPlayerByAddress retrieves a single player by Ethereum address
func (r *Repository) GetPlayerByAddress(ctx context.Context, address string) (*domain.Player, error) {
	query := `
		SELECT id, ethereum_address, COALESCE(username, ''), COALESCE(discord_id, ''),
		       COALESCE(rank, 0), total_xp, season_xp, created_at, updated_at
		FROM players
		WHERE lower(ethereum_address) = lower($1)
		LIMIT 1
	`
	var p domain.Player
	err := r.pool.QueryRow(ctx, query, address).Scan(
		&p.ID,
		&p.EthereumAddress,
		&p.Username,
		&p.DiscordID,
		&p.Rank,
		&p.TotalXP,
		&p.SeasonXP,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &p, nil
}

// TopN retrieves the highest ranked players for a board, descending by
// the board's XP column. Fallback read path when the Redis mirror is
// disabled.
func (r *Repository) TopN(ctx context.Context, board string, limit int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT ethereum_address, total_xp
		FROM players
		ORDER BY total_xp DESC
		LIMIT $1
	`
	if board == "season" {
		query = `
		SELECT ethereum_address, season_xp
		FROM players
		ORDER BY season_xp DESC
		LIMIT $1
	`
	}
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing top players: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		if err := rows.Scan(&entry.EthereumAddress, &entry.XP); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entry.Rank = len(entries)
		entries = append(entries, entry)
	}
	return entries, nil
}
