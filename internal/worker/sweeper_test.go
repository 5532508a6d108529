package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReleaser struct {
	mu      sync.Mutex
	pending int
	calls   int
	limits  []int
	err     error
}

func (f *fakeReleaser) ReleaseExpiredReservations(ctx context.Context, now time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return 0, f.err
	}
	n := f.pending
	if n > limit {
		n = limit
	}
	f.pending -= n
	return n, nil
}

func (f *fakeReleaser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSweep_DrainsInBatches(t *testing.T) {
	releaser := &fakeReleaser{pending: 25}
	sweeper := NewSweeper(releaser, SweeperConfig{Interval: time.Minute, BatchSize: 10}, zap.NewNop())

	released, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, released)
	assert.Equal(t, 3, releaser.calls)
	assert.Equal(t, []int{10, 10, 10}, releaser.limits)
	assert.Zero(t, releaser.pending)
}

func TestSweep_StopsOnError(t *testing.T) {
	releaser := &fakeReleaser{pending: 5, err: errors.New("connection reset")}
	sweeper := NewSweeper(releaser, SweeperConfig{Interval: time.Minute}, zap.NewNop())

	_, err := sweeper.Sweep(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, releaser.calls)
	assert.Equal(t, []int{DefaultBatchSize}, releaser.limits)
}

func TestSweeper_StartStop(t *testing.T) {
	releaser := &fakeReleaser{}
	sweeper := NewSweeper(releaser, SweeperConfig{Interval: 5 * time.Millisecond}, zap.NewNop())

	require.NoError(t, sweeper.Start(context.Background()))
	assert.Error(t, sweeper.Start(context.Background()), "second start is rejected")

	assert.Eventually(t, func() bool { return releaser.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sweeper.Stop(ctx))
	require.NoError(t, sweeper.Stop(ctx), "stop is idempotent")

	calls := releaser.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, releaser.callCount(), "no sweeps after stop")
}

func TestSweeper_RejectsZeroInterval(t *testing.T) {
	sweeper := NewSweeper(&fakeReleaser{}, SweeperConfig{}, zap.NewNop())
	assert.Error(t, sweeper.Start(context.Background()))
}
