package undulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/energyctl/internal/hw/device"
)

func newTestUndulator(t *testing.T, move time.Duration) *Undulator {
	t.Helper()
	sim := NewSimulator("test/u20/1", SimConfig{
		Gap:          8.0,
		GapOffset:    4.0,
		GapPerKeV:    0.5,
		MinGap:       5.5,
		MoveDuration: move,
	})
	t.Cleanup(func() { _ = sim.Close() })
	return New(sim)
}

func TestUndulator_ComputedGap(t *testing.T) {
	u := newTestUndulator(t, time.Millisecond)
	ctx := context.Background()

	gap, err := u.ComputedGap(ctx, 10.0)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, gap, 1e-12)

	actual, err := u.Gap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8.0, actual, "computing a gap must not move")
}

func TestUndulator_SetGapMoves(t *testing.T) {
	u := newTestUndulator(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, u.SetGap(ctx, 7.0))
	st, err := u.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, device.StateMoving, st)

	assert.Eventually(t, func() bool {
		st, err := u.State(ctx)
		return err == nil && st == device.StateStandby
	}, time.Second, 5*time.Millisecond)

	gap, err := u.Gap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, gap)
}

func TestUndulator_SetGapBelowMinimum(t *testing.T) {
	u := newTestUndulator(t, time.Millisecond)
	assert.Error(t, u.SetGap(context.Background(), 5.0))
}

func TestUndulator_EnergyFromGap(t *testing.T) {
	u := newTestUndulator(t, time.Millisecond)
	e, err := u.Energy(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 8.0, e, 1e-12)
}
