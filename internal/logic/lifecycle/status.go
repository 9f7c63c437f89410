package lifecycle

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/energyctl/internal/hw/device"
)

// ErrUnmappedState marks a raw state without an externally visible status.
// It is a configuration error, never defaulted.
var ErrUnmappedState = errors.New("device state has no status mapping")

// Status is the externally visible status derived from a device state.
type Status string

const (
	StatusError     Status = "error"
	StatusMoving    Status = "moving"
	StatusReady     Status = "ready"
	StatusUnknown   Status = "unknown"
	StatusOutLimits Status = "outlimits"
)

var statusTable = map[device.State]Status{
	device.StateAlarm:   StatusError,
	device.StateFault:   StatusError,
	device.StateRunning: StatusMoving,
	device.StateMoving:  StatusMoving,
	device.StateStandby: StatusReady,
	device.StateDisable: StatusError,
	device.StateUnknown: StatusUnknown,
	device.StateExtract: StatusOutLimits,
}

func init() {
	if err := checkStatusTable(device.States()); err != nil {
		panic(err)
	}
}

// checkStatusTable verifies the mapping is total over states.
func checkStatusTable(states []device.State) error {
	for _, st := range states {
		if _, ok := statusTable[st]; !ok {
			return fmt.Errorf("%s: %w", st, ErrUnmappedState)
		}
	}
	return nil
}

// StatusOf maps a device state to its status.
func StatusOf(st device.State) (Status, error) {
	s, ok := statusTable[st]
	if !ok {
		return "", fmt.Errorf("%s: %w", st, ErrUnmappedState)
	}
	return s, nil
}
