package indicator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cjeanneret/energyctl/internal/events"
	"github.com/cjeanneret/energyctl/internal/hw/gpio"
	"github.com/cjeanneret/energyctl/internal/logic/lifecycle"
)

var testPins = Pins{Ready: 17, Moving: 27, Fault: 22}

// failingDriver fails every write.
type failingDriver struct{ gpio.MockDriver }

func (d *failingDriver) WritePin(int, gpio.Level) error { return errors.New("bus error") }

func lamps(t *testing.T, drv gpio.Driver) (ready, moving, fault gpio.Level) {
	t.Helper()
	var err error
	ready, err = drv.ReadPin(testPins.Ready)
	require.NoError(t, err)
	moving, err = drv.ReadPin(testPins.Moving)
	require.NoError(t, err)
	fault, err = drv.ReadPin(testPins.Fault)
	require.NoError(t, err)
	return ready, moving, fault
}

func TestLamps_Apply(t *testing.T) {
	cases := []struct {
		name                 string
		event                events.Event
		ready, moving, fault gpio.Level
	}{
		{"ready", events.StatusChanged{Status: lifecycle.StatusReady}, gpio.High, gpio.Low, gpio.Low},
		{"moving", events.StatusChanged{Status: lifecycle.StatusMoving}, gpio.Low, gpio.High, gpio.Low},
		{"error", events.StatusChanged{Status: lifecycle.StatusError}, gpio.Low, gpio.Low, gpio.High},
		{"outlimits", events.StatusChanged{Status: lifecycle.StatusOutLimits}, gpio.Low, gpio.Low, gpio.High},
		{"unknown", events.StatusChanged{Status: lifecycle.StatusUnknown}, gpio.Low, gpio.Low, gpio.Low},
		{"move_started", events.MoveStarted{}, gpio.Low, gpio.High, gpio.Low},
		{"move_failed", events.MoveFailed{Reason: "cancelled"}, gpio.Low, gpio.Low, gpio.High},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drv := gpio.NewMockDriver()
			l, err := New(drv, testPins)
			require.NoError(t, err)

			require.NoError(t, l.Apply(tc.event))
			r, m, f := lamps(t, drv)
			assert.Equal(t, tc.ready, r, "ready lamp")
			assert.Equal(t, tc.moving, m, "moving lamp")
			assert.Equal(t, tc.fault, f, "fault lamp")
		})
	}
}

func TestLamps_IgnoresOtherEvents(t *testing.T) {
	drv := gpio.NewMockDriver()
	l, err := New(drv, testPins)
	require.NoError(t, err)
	require.NoError(t, l.Apply(events.StatusChanged{Status: lifecycle.StatusReady}))

	require.NoError(t, l.Apply(events.EnergyChanged{Energy: 12, Wavelength: 1.03}))
	r, _, _ := lamps(t, drv)
	assert.Equal(t, gpio.High, r)
}

func TestLamps_WriteError(t *testing.T) {
	_, err := New(&failingDriver{}, testPins)
	assert.ErrorContains(t, err, "write lamp pin 17")
}

func TestLamps_RunSwitchesOffOnExit(t *testing.T) {
	defer goleak.VerifyNone(t)

	drv := gpio.NewMockDriver()
	l, err := New(drv, testPins)
	require.NoError(t, err)

	bus := events.NewBus(0)
	ch, unsub := bus.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, ch) }()

	bus.Publish(events.StatusChanged{Status: lifecycle.StatusMoving})
	require.Eventually(t, func() bool {
		_, m, _ := lamps(t, drv)
		return m == gpio.High
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	r, m, f := lamps(t, drv)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.Low, gpio.Low}, []gpio.Level{r, m, f})
}
