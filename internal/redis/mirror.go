package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Boards served from the mirror
const (
	BoardTotal  = "total"
	BoardSeason = "season"
)

// RankMirror keeps sorted-set copies of the reconciled XP values so
// rank reads never touch Postgres
type RankMirror struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRankMirror creates a new Redis rank mirror
func NewRankMirror(cfg *config.RedisConfig, logger *slog.Logger) (*RankMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RankMirror{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (m *RankMirror) Close() error {
	return m.client.Close()
}

// boardKey returns the Redis key for a board's sorted set
func (m *RankMirror) boardKey(board string) string {
	return fmt.Sprintf("sourcecred:leaderboard:%s", board)
}

// MirrorRecords replaces both boards with the given records. The swap
// is a pipeline of DEL + ZADD per board, so a crashed run leaves at
// worst one stale board, never a half-written one.
func (m *RankMirror) MirrorRecords(ctx context.Context, records []domain.PlayerRecord) error {
	if len(records) == 0 {
		return nil
	}

	total := make([]redis.Z, len(records))
	season := make([]redis.Z, len(records))
	for i, record := range records {
		total[i] = redis.Z{Score: record.TotalXP, Member: record.EthereumAddress}
		season[i] = redis.Z{Score: record.SeasonXP, Member: record.EthereumAddress}
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.boardKey(BoardTotal))
	pipe.ZAdd(ctx, m.boardKey(BoardTotal), total...)
	pipe.Del(ctx, m.boardKey(BoardSeason))
	pipe.ZAdd(ctx, m.boardKey(BoardSeason), season...)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirroring records: %w", err)
	}

	m.logger.Debug("mirrored records to redis", "count", len(records))
	return nil
}

// TopN returns the top N entries from a board (descending by XP)
func (m *RankMirror) TopN(ctx context.Context, board string, n int) ([]domain.LeaderboardEntry, error) {
	results, err := m.client.ZRevRangeWithScores(ctx, m.boardKey(board), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		entries[i] = domain.LeaderboardEntry{
			Rank:            i,
			EthereumAddress: result.Member.(string),
			XP:              result.Score,
		}
	}
	return entries, nil
}

// PlayerRank returns a player's 0-based rank on a board
func (m *RankMirror) PlayerRank(ctx context.Context, board, address string) (int64, error) {
	rank, err := m.client.ZRevRank(ctx, m.boardKey(board), address).Result()
	if err == redis.Nil {
		return 0, domain.ErrPlayerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("getting player rank: %w", err)
	}
	return rank, nil
}
