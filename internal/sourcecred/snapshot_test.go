package sourcecred

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accountsFixture = `{
	"accounts": [
		{
			"account": {
				"identity": {
					"id": "id-1",
					"name": "alice",
					"subtype": "USER",
					"aliases": [
						{"address": "sourcecred\u0000ethereum\u00000xA\u0000", "description": "alice's wallet"}
					]
				}
			},
			"totalCred": 420.5,
			"cred": [1.5, 2, 3]
		},
		{
			"account": {
				"identity": {"id": "id-2", "name": "bot", "subtype": "BOT", "aliases": []}
			},
			"totalCred": 99,
			"cred": []
		}
	]
}`

func testClient(url string) *Client {
	return NewClient(&config.SourceCredConfig{
		AccountsURL: url + "/output/accounts.json",
		LedgerURL:   url + "/data/ledger.json",
		Timeout:     5 * time.Second,
	})
}

func TestLoadAccounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/output/accounts.json", r.URL.Path)
		w.Write([]byte(accountsFixture))
	}))
	defer server.Close()

	accounts, err := testClient(server.URL).LoadAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	alice := accounts[0]
	assert.Equal(t, "alice", alice.Account.Identity.Name)
	assert.Equal(t, domain.IdentitySubtypeUser, alice.Account.Identity.Subtype)
	assert.Equal(t, 420.5, alice.TotalCred)
	assert.Equal(t, []float64{1.5, 2, 3}, alice.Cred)
	require.Len(t, alice.Account.Identity.Aliases, 1)
	assert.Equal(t, "sourcecred\x00ethereum\x000xA\x00", alice.Account.Identity.Aliases[0].Address)
}

func TestLoadAccountsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testClient(server.URL).LoadAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 404")
}

func TestLoadAccountsBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	_, err := testClient(server.URL).LoadAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing accounts snapshot")
}

func TestReloadLedger(t *testing.T) {
	ledger := `{"action":{"type":"CREATE_IDENTITY"},"ledgerTimestamp":1,"uuid":"a","version":"1"}
{"action":{"type":"ADD_ALIAS"},"ledgerTimestamp":2,"uuid":"b","version":"1"}
`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/ledger.json", r.URL.Path)
		w.Write([]byte(ledger))
	}))
	defer server.Close()

	err := testClient(server.URL).ReloadLedger(context.Background())
	assert.NoError(t, err)
}

func TestReloadLedgerUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	err := testClient(server.URL).ReloadLedger(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestReloadLedgerCorrupt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"action":{"type":"CREATE_IDENTITY"}}` + "\n" + `{"action":`))
	}))
	defer server.Close()

	err := testClient(server.URL).ReloadLedger(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}
