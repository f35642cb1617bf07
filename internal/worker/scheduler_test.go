package worker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metagame/sourcecred-sync/internal/config"
	"github.com/metagame/sourcecred-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls     atomic.Int32
	lastForce atomic.Bool
}

func (r *countingRunner) Run(ctx context.Context, force bool) (domain.RunSummary, error) {
	r.calls.Add(1)
	r.lastForce.Store(force)
	return domain.RunSummary{}, nil
}

func TestSchedulerTriggersUpdateOnlyRuns(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, &config.SyncConfig{Interval: 10 * time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool {
		return runner.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	// Scheduled runs never force-insert
	assert.False(t, runner.lastForce.Load())
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, &config.SyncConfig{Interval: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}
