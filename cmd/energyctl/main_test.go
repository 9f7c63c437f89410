package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/energyctl/internal/config"
	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/logic/backlash"
	"github.com/cjeanneret/energyctl/internal/logic/motion"
)

// ---------- validateMoveFlags ----------

func TestValidateMoveFlags_Valid(t *testing.T) {
	cases := []struct {
		name string
		e, w float64
	}{
		{"energy", 12.4, 0},
		{"wavelength", 0, 1.0},
		{"small_energy", 0.001, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, validateMoveFlags(tc.e, tc.w))
		})
	}
}

func TestValidateMoveFlags_Rejected(t *testing.T) {
	cases := []struct {
		name string
		e, w float64
	}{
		{"none", 0, 0},
		{"both", 12, 1},
		{"negative_energy", -1, 0},
		{"negative_wavelength", 0, -1},
		{"nan_energy", math.NaN(), 0},
		{"inf_energy", math.Inf(1), 0},
		{"inf_wavelength", 0, math.Inf(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, validateMoveFlags(tc.e, tc.w))
		})
	}
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, validatePort(0))
	assert.NoError(t, validatePort(8980))
	assert.Error(t, validatePort(-1))
	assert.Error(t, validatePort(70000))
}

// ---------- backlashParams ----------

func TestBacklashParams(t *testing.T) {
	cfg, err := config.Parse([]byte("devices:\n  primary: m\n  secondary: u\nbacklash:\n  distance_mm: 0.2\n  gap_limit_mm: 6\n"))
	require.NoError(t, err)

	assert.Equal(t, backlash.Params{
		Backlash:     0.2,
		GapLimit:     6,
		PollInterval: 200 * time.Millisecond,
		Timeout:      30 * time.Second,
		SettleDelay:  time.Second,
	}, backlashParams(cfg))
}

// ---------- waitForMove ----------

func TestWaitForMove(t *testing.T) {
	cases := []struct {
		name    string
		publish []events.Event
		wantErr error
	}{
		{"finished", []events.Event{events.StatusChanged{Status: "moving"}, events.MoveStarted{}, events.MoveFinished{}}, nil},
		{"failed", []events.Event{events.MoveStarted{}, events.MoveFailed{Reason: "cancelled"}}, errMoveFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bus := events.NewBus(8)
			ch, unsub := bus.Subscribe()
			defer unsub()
			for _, e := range tc.publish {
				bus.Publish(e)
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			err := waitForMove(ctx, ch)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestWaitForMove_Timeout(t *testing.T) {
	bus := events.NewBus(8)
	ch, unsub := bus.Subscribe()
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, waitForMove(ctx, ch), context.DeadlineExceeded)
}

func TestWaitForMove_ClosedStream(t *testing.T) {
	bus := events.NewBus(8)
	ch, unsub := bus.Subscribe()
	unsub()
	assert.Error(t, waitForMove(context.Background(), ch))
}

// ---------- commands ----------

const testConfig = `
devices:
  primary: "bl/mono/energy"
  secondary: "bl/u20/gap"
simulation:
  energy: 10
  min_energy: 5
  max_energy: 25
  mono_move_ms: 20
  gap_move_ms: 10
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	require.NoError(t, os.Mkdir(dir, 0o755))
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLimitsCommand(t *testing.T) {
	out, err := runCmd(t, "--config", writeTestConfig(t, testConfig), "limits")
	require.NoError(t, err)
	assert.Contains(t, out, "energy:     5.00000 - 25.00000 keV")
	assert.Contains(t, out, "wavelength: 0.49594 - 2.47968 A")
}

func TestStatusCommand(t *testing.T) {
	out, err := runCmd(t, "--config", writeTestConfig(t, testConfig), "status")
	require.NoError(t, err)

	var d motion.Diagnostics
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.True(t, d.CanMove)
	assert.Equal(t, "STANDBY", d.State)
	require.NotNil(t, d.Position)
	assert.Equal(t, 10.0, *d.Position)
	assert.NotNil(t, d.Gap)
	assert.Empty(t, d.Errors)
}

func TestMoveCommand_Wait(t *testing.T) {
	out, err := runCmd(t, "--config", writeTestConfig(t, testConfig), "move", "--energy", "12", "--wait", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "energy 12.00000 keV committed")
	assert.Contains(t, out, "move finished")
}

func TestMoveCommand_RejectsBothTargets(t *testing.T) {
	_, err := runCmd(t, "--config", writeTestConfig(t, testConfig), "move", "--energy", "12", "--wavelength", "1")
	assert.Error(t, err)
}

func TestCommand_RejectsConfigOutsideConfigsDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	_, err := runCmd(t, "--config", path, "limits")
	assert.Error(t, err)
}

func TestNewBeamline_UnsupportedTransport(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	cfg.Devices.Transport = "mqtt"
	_, err = newBeamline(cfg, events.NewBus(0))
	assert.ErrorContains(t, err, "unsupported devices.transport")
}
