package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	accounts  []domain.SnapshotAccount
	ledgerErr error
	loadErr   error

	ledgerCalls int
	loadCalls   int
}

func (s *fakeSource) ReloadLedger(ctx context.Context) error {
	s.ledgerCalls++
	return s.ledgerErr
}

func (s *fakeSource) LoadAccounts(ctx context.Context) ([]domain.SnapshotAccount, error) {
	s.loadCalls++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.accounts, nil
}

type fakeSeason struct {
	weeks int
	fresh bool
}

func (s *fakeSeason) NumWeeksInSeason() int { return s.weeks }
func (s *fakeSeason) IsNewSeason() bool     { return s.fresh }

type fakeMirror struct {
	mu      sync.Mutex
	records []domain.PlayerRecord
	err     error
}

func (m *fakeMirror) MirrorRecords(ctx context.Context, records []domain.PlayerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	return m.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.SyncEvent
	err    error
}

func (p *fakePublisher) Publish(event domain.SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *fakePublisher) byType(eventType string) []domain.SyncEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.SyncEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	started   int
	total     int
	completed []domain.RunSummary
}

func (n *fakeNotifier) RunStarted(runID string, force bool, total int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
	n.total = total
}

func (n *fakeNotifier) RunCompleted(summary domain.RunSummary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, summary)
}

func userAccount(ethAddress string, totalCred float64) domain.SnapshotAccount {
	var a domain.SnapshotAccount
	a.Account.Identity.Subtype = domain.IdentitySubtypeUser
	a.Account.Identity.Name = ethAddress
	a.Account.Identity.Aliases = []domain.SnapshotAlias{
		{Address: "sourcecred\x00ethereum\x00" + ethAddress + "\x00"},
	}
	a.TotalCred = totalCred
	a.Cred = []float64{totalCred}
	return a
}

func newTestRunner(store Store, source *fakeSource, season *fakeSeason) *Runner {
	return NewRunner(store, source, season, &config.MigrationConfig{Concurrency: 10}, testLogger())
}

func TestRunUpdateOnly(t *testing.T) {
	store := newFakeStore("0xaa", "0xbb")
	source := &fakeSource{accounts: []domain.SnapshotAccount{
		userAccount("0xAA", 50),
		userAccount("0xBB", 30),
		userAccount("0xCC", 10), // not in the store, skipped without force
	}}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 4})

	summary, err := runner.Run(context.Background(), false)
	require.NoError(t, err)

	assert.False(t, summary.Force)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.NumSkipped)
	assert.Equal(t, 2, summary.NumWritten)
	assert.Equal(t, "numUpdated", summary.WrittenLabel())
	assert.Zero(t, store.insertCount())
	assert.NotEmpty(t, summary.RunID)
}

func TestRunForceInserts(t *testing.T) {
	store := newFakeStore("0xaa")
	source := &fakeSource{accounts: []domain.SnapshotAccount{
		userAccount("0xAA", 50),
		userAccount("0xBB", 30),
	}}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 4})

	summary, err := runner.Run(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, summary.Force)
	assert.Equal(t, 0, summary.NumSkipped)
	assert.Equal(t, 2, summary.NumWritten)
	assert.Equal(t, "numInserted", summary.WrittenLabel())
	assert.Equal(t, 1, store.insertCount())
}

func TestRunCountsEverySkipOnDuplicateAddresses(t *testing.T) {
	// Nothing dedupes snapshot identities, so two of them can share an
	// ethereum alias. Both records must show up in the skip accounting.
	store := newFakeStore()
	source := &fakeSource{accounts: []domain.SnapshotAccount{
		userAccount("0xAA", 50),
		userAccount("0xAA", 30),
	}}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 4})

	summary, err := runner.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.NumSkipped)
	assert.Equal(t, 0, summary.NumWritten)
}

func TestRunLedgerFailureAbortsBeforeSnapshot(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{ledgerErr: errors.New("ref not found")}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 4})

	_, err := runner.Run(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to load ledger")
	assert.Zero(t, source.loadCalls)
	assert.Empty(t, store.updates)
}

func TestRunSnapshotFailureAbortsBeforeReconciliation(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{loadErr: errors.New("fetch failed")}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 4})

	_, err := runner.Run(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch failed")
	assert.Empty(t, store.updates)
}

func TestRunNewSeasonResetsSeasonXP(t *testing.T) {
	store := newFakeStore("0xaa")
	source := &fakeSource{accounts: []domain.SnapshotAccount{userAccount("0xAA", 50)}}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 1, fresh: true})

	_, err := runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, store.resetCalls)
}

func TestRunSeasonResetFailureIsFatal(t *testing.T) {
	store := newFakeStore("0xaa")
	store.resetErr = errors.New("table locked")
	source := &fakeSource{accounts: []domain.SnapshotAccount{userAccount("0xAA", 50)}}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 1, fresh: true})

	_, err := runner.Run(context.Background(), false)
	require.Error(t, err)
	assert.Empty(t, store.updates)
}

func TestRunMidSeasonDoesNotReset(t *testing.T) {
	store := newFakeStore("0xaa")
	source := &fakeSource{accounts: []domain.SnapshotAccount{userAccount("0xAA", 50)}}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 6})

	_, err := runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, store.resetCalls)
}

// gateStore tracks how many UpdatePlayerStats calls are in flight at
// once, to observe the concurrency ceiling
type gateStore struct {
	*fakeStore
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *gateStore) UpdatePlayerStats(ctx context.Context, update domain.StatsUpdate) (domain.StatsUpdateResult, error) {
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return s.fakeStore.UpdatePlayerStats(ctx, update)
}

func TestRunBatchUnderConcurrencyCeiling(t *testing.T) {
	addresses := make([]string, 25)
	accounts := make([]domain.SnapshotAccount, 25)
	for i := range accounts {
		addresses[i] = fmt.Sprintf("0x%02d", i)
		accounts[i] = userAccount(addresses[i], float64(100-i))
	}
	// Half the players exist; the rest are skipped in update-only mode
	store := &gateStore{fakeStore: newFakeStore(addresses[:13]...)}
	source := &fakeSource{accounts: accounts}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 4})

	summary, err := runner.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 25, summary.Total)
	assert.Equal(t, 25, summary.NumSkipped+summary.NumWritten)
	assert.Equal(t, 12, summary.NumSkipped)
	assert.LessOrEqual(t, store.peak.Load(), int32(10))
}

func TestRunSideEffects(t *testing.T) {
	store := newFakeStore("0xaa")
	source := &fakeSource{accounts: []domain.SnapshotAccount{
		userAccount("0xAA", 50),
		userAccount("0xBB", 30),
	}}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 4})

	mirror := &fakeMirror{}
	publisher := &fakePublisher{}
	notifier := &fakeNotifier{}
	runner.SetMirror(mirror)
	runner.SetPublisher(publisher)
	runner.SetNotifier(notifier)

	summary, err := runner.Run(context.Background(), true)
	require.NoError(t, err)

	// Mirror sees the full derived batch, in rank order
	require.Len(t, mirror.records, 2)
	assert.Equal(t, "0xaa", mirror.records[0].EthereumAddress)

	// One player was inserted, one event per insert plus the summary
	inserted := publisher.byType(domain.SyncEventPlayerSynced)
	require.Len(t, inserted, 1)
	assert.Equal(t, "0xbb", inserted[0].EthereumAddress)
	assert.Equal(t, summary.RunID, inserted[0].RunID)

	completed := publisher.byType(domain.SyncEventRunCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, summary.NumWritten, completed[0].NumWritten)

	assert.Equal(t, 1, notifier.started)
	assert.Equal(t, 2, notifier.total)
	require.Len(t, notifier.completed, 1)
	assert.Equal(t, summary.RunID, notifier.completed[0].RunID)
}

func TestRunSideEffectFailuresDoNotFailRun(t *testing.T) {
	store := newFakeStore("0xaa")
	source := &fakeSource{accounts: []domain.SnapshotAccount{userAccount("0xAA", 50)}}
	runner := newTestRunner(store, source, &fakeSeason{weeks: 4})

	runner.SetMirror(&fakeMirror{err: errors.New("redis down")})
	runner.SetPublisher(&fakePublisher{err: errors.New("broker down")})

	summary, err := runner.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NumWritten)
}
