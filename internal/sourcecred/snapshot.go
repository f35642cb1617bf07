package sourcecred

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/domain"
)

// Client fetches data from a published SourceCred instance
type Client struct {
	accountsURL string
	ledgerURL   string
	httpClient  *http.Client
}

// NewClient creates a SourceCred client from configuration
func NewClient(cfg *config.SourceCredConfig) *Client {
	return &Client{
		accountsURL: cfg.AccountsURL,
		ledgerURL:   cfg.LedgerURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// LoadAccounts fetches and decodes the accounts snapshot. Any fetch or
// decode failure is returned as-is; there is no partial-snapshot mode.
func (c *Client) LoadAccounts(ctx context.Context) ([]domain.SnapshotAccount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating accounts request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching accounts snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching accounts snapshot: unexpected status code %d", resp.StatusCode)
	}

	var snapshot domain.AccountsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("parsing accounts snapshot: %w", err)
	}

	return snapshot.Accounts, nil
}

// ledgerEvent is one entry of the append-only ledger log. Only the
// fields needed for validation are decoded.
type ledgerEvent struct {
	Action struct {
		Type string `json:"type"`
	} `json:"action"`
	Ledger    json.RawMessage `json:"ledger,omitempty"`
	Timestamp int64           `json:"ledgerTimestamp,omitempty"`
	UUID      string          `json:"uuid,omitempty"`
	Version   string          `json:"version,omitempty"`
}

// ReloadLedger fetches the instance ledger and verifies it decodes.
// The ledger is the source of truth for identity merges, so a run must
// not start from a snapshot whose ledger cannot be read.
func (c *Client) ReloadLedger(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ledgerURL, nil)
	if err != nil {
		return fmt.Errorf("%w: creating ledger request: %v", domain.ErrLedgerUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching ledger: %v", domain.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status code %d", domain.ErrLedgerUnavailable, resp.StatusCode)
	}

	// The ledger is serialized as JSON lines, one event per line
	decoder := json.NewDecoder(resp.Body)
	events := 0
	for decoder.More() {
		var event ledgerEvent
		if err := decoder.Decode(&event); err != nil {
			return fmt.Errorf("%w: parsing ledger event %d: %v", domain.ErrLedgerUnavailable, events, err)
		}
		events++
	}

	return nil
}
