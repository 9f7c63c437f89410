package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownState is returned when a device reports a state outside the
// known enumeration.
var ErrUnknownState = errors.New("unknown device state")

// State is the raw state reported by an actuator.
type State int

const (
	StateUnknown State = iota
	StateAlarm
	StateFault
	StateRunning
	StateMoving
	StateStandby
	StateDisable
	StateExtract
)

var stateNames = map[State]string{
	StateUnknown: "UNKNOWN",
	StateAlarm:   "ALARM",
	StateFault:   "FAULT",
	StateRunning: "RUNNING",
	StateMoving:  "MOVING",
	StateStandby: "STANDBY",
	StateDisable: "DISABLE",
	StateExtract: "EXTRACT",
}

// States lists every known state.
func States() []State {
	return []State{
		StateAlarm, StateFault, StateRunning, StateMoving,
		StateStandby, StateDisable, StateUnknown, StateExtract,
	}
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState converts a raw state name as reported by the device.
func ParseState(raw string) (State, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for st, n := range stateNames {
		if n == name {
			return st, nil
		}
	}
	return StateUnknown, fmt.Errorf("%q: %w", raw, ErrUnknownState)
}

// StateOf converts a reading to a State.
func StateOf(v Value) (State, error) {
	if st, ok := v.(State); ok {
		return st, nil
	}
	raw, err := String(v)
	if err != nil {
		return StateUnknown, err
	}
	return ParseState(raw)
}
