package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/metagame/sourcecred-sync/internal/domain"
	"github.com/metagame/sourcecred-sync/internal/websocket"
)

// MigrationRunner executes one reconciliation run
type MigrationRunner interface {
	Run(ctx context.Context, force bool) (domain.RunSummary, error)
}

// BoardReader serves rank reads; implemented by the Redis mirror and,
// as a fallback, by the Postgres repository
type BoardReader interface {
	TopN(ctx context.Context, board string, n int) ([]domain.LeaderboardEntry, error)
}

// PlayerReader serves single-player reads from the store
type PlayerReader interface {
	GetPlayerByAddress(ctx context.Context, address string) (*domain.Player, error)
}

// RankReader answers live rank lookups; nil when the mirror is disabled
type RankReader interface {
	PlayerRank(ctx context.Context, board, address string) (int64, error)
}

// Handler provides the HTTP surface of the sync service
type Handler struct {
	runner  MigrationRunner
	boards  BoardReader
	players PlayerReader
	ranks   RankReader
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(runner MigrationRunner, boards BoardReader, players PlayerReader, ranks RankReader, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		runner:  runner,
		boards:  boards,
		players: players,
		ranks:   ranks,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket run-progress stream
	r.Get("/ws", h.HandleWebSocket)

	// Action endpoints, signature-compatible with the old backend
	r.Route("/actions", func(r chi.Router) {
		r.Post("/migrateSourceCredAccounts", h.MigrateSourceCredAccounts)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/leaderboard/top", h.GetTop)
		r.Get("/player/{address}", h.GetPlayer)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// MigrateSourceCredAccounts triggers one reconciliation run. The force
// query parameter (any value) enables inserting players that do not
// exist yet; without it missing players are skipped. Response shapes
// match the original action: a bare JSON summary on success, a plain
// text message on run-level failure.
func (h *Handler) MigrateSourceCredAccounts(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Has("force")

	summary, err := h.runner.Run(r.Context(), force)
	if err != nil {
		msg := fmt.Sprintf("Error migrating SourceCred accounts: %s", err.Error())
		h.logger.Warn("migration run failed", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(msg))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int{
		"numSkipped":           summary.NumSkipped,
		summary.WrittenLabel(): summary.NumWritten,
	})
}

// GetTop returns the top N players from a board
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	board := r.URL.Query().Get("board")
	if board == "" {
		board = "total"
	}
	if board != "total" && board != "season" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	entries, err := h.boards.TopN(r.Context(), board, limit)
	if err != nil {
		h.logger.Error("failed to get top players", "board", board, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, entries)
}

// GetPlayer returns one player's stored profile by Ethereum address.
// When the rank mirror is enabled the stored rank is replaced with the
// live one; a player missing from the mirror keeps the stored rank.
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	player, err := h.players.GetPlayerByAddress(r.Context(), address)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to get player", "address", address, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	if h.ranks != nil {
		rank, err := h.ranks.PlayerRank(r.Context(), "total", player.EthereumAddress)
		if err == nil {
			player.Rank = int(rank)
		} else if !errors.Is(err, domain.ErrPlayerNotFound) {
			h.logger.Warn("failed to get live rank", "address", address, "error", err)
		}
	}

	h.writeSuccess(w, player)
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"status":         "healthy",
		"ws_connections": h.hub.GetTotalConnections(),
	})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}
