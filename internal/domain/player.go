package domain

import "time"

// Player represents a stored player row
type Player struct {
	ID              string    `json:"id"`
	EthereumAddress string    `json:"ethereum_address"`
	Username        string    `json:"username,omitempty"`
	DiscordID       string    `json:"discord_id,omitempty"`
	Rank            int       `json:"rank"`
	TotalXP         float64   `json:"total_xp"`
	SeasonXP        float64   `json:"season_xp"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PlayerRecord is one derived reconciliation unit: the stats and linked
// accounts for a single snapshot identity, keyed by its most recently
// associated Ethereum address (lowercased)
type PlayerRecord struct {
	EthereumAddress string  `json:"ethereum_address"`
	TotalXP         float64 `json:"total_xp"`
	SeasonXP        float64 `json:"season_xp"`
	Rank            int     `json:"rank"`
	DiscordID       string  `json:"discord_id,omitempty"`
	// Accounts excludes DISCORD; that link lives directly on the player row
	Accounts []Alias `json:"accounts"`
}

// StatsUpdate carries the per-player fields written by a reconciliation run
type StatsUpdate struct {
	EthereumAddress string
	Rank            int
	TotalXP         float64
	SeasonXP        float64
	DiscordID       string
}

// StatsUpdateResult reports the effects of a stats update: how many
// rows matched, the first matched id, and whether a stale Discord link
// was cleared
type StatsUpdateResult struct {
	PlayerID       string
	Affected       int64
	DiscordCleared int64
}

// RunSummary is the terminal report of one reconciliation run
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Force      bool          `json:"force"`
	Total      int           `json:"total"`
	NumSkipped int           `json:"num_skipped"`
	NumWritten int           `json:"num_written"`
	Duration   time.Duration `json:"duration"`
}

// WrittenLabel returns the summary key for the written count; the label
// follows the run mode, matching the action's historical response shape
func (s RunSummary) WrittenLabel() string {
	if s.Force {
		return "numInserted"
	}
	return "numUpdated"
}

// LeaderboardEntry is a single row served from the rank mirror
type LeaderboardEntry struct {
	Rank            int     `json:"rank"`
	EthereumAddress string  `json:"ethereum_address"`
	XP              float64 `json:"xp"`
}

// SyncEvent is published to Kafka for downstream consumers when
// reconciliation writes occur
type SyncEvent struct {
	Type            string    `json:"type"`
	RunID           string    `json:"run_id"`
	EthereumAddress string    `json:"ethereum_address,omitempty"`
	Rank            int       `json:"rank,omitempty"`
	TotalXP         float64   `json:"total_xp,omitempty"`
	SeasonXP        float64   `json:"season_xp,omitempty"`
	NumSkipped      int       `json:"num_skipped,omitempty"`
	NumWritten      int       `json:"num_written,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Sync event types
const (
	SyncEventRunCompleted = "run_completed"
	SyncEventPlayerSynced = "player_synced"
)
