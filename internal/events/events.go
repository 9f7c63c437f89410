package events

import (
	"time"

	"github.com/cjeanneret/energyctl/internal/logic/energy"
	"github.com/cjeanneret/energyctl/internal/logic/lifecycle"
)

// Kind identifies an event type on the wire.
type Kind string

const (
	KindStatusChanged           Kind = "statusChanged"
	KindEnergyChanged           Kind = "energyChanged"
	KindEnergyLimitsChanged     Kind = "energyLimitsChanged"
	KindWavelengthLimitsChanged Kind = "wavelengthLimitsChanged"
	KindMoveStarted             Kind = "moveStarted"
	KindMoveFinished            Kind = "moveFinished"
	KindMoveFailed              Kind = "moveFailed"
	KindMoveReady               Kind = "moveReady"
	KindLog                     Kind = "log"
)

// Event is implemented by every payload type.
type Event interface {
	Kind() Kind
}

type StatusChanged struct {
	Status lifecycle.Status `json:"status"`
}

type EnergyChanged struct {
	Energy     float64 `json:"energy"`
	Wavelength float64 `json:"wavelength"`
}

type EnergyLimitsChanged struct {
	Limits energy.Limits `json:"limits"`
}

// WavelengthLimitsChanged carries nil Limits when either bound could not be
// resolved.
type WavelengthLimitsChanged struct {
	Limits *energy.Limits `json:"limits"`
}

type MoveStarted struct {
	MoveID string  `json:"move_id,omitempty"`
	Target float64 `json:"target,omitempty"`
}

type MoveFinished struct{}

type MoveFailed struct {
	Reason string `json:"reason,omitempty"`
}

type MoveReady struct {
	Ready bool `json:"ready"`
}

// LogLine mirrors a log record onto the event stream.
type LogLine struct {
	Level string `json:"level,omitempty"`
	Msg   string `json:"msg"`
}

func (StatusChanged) Kind() Kind           { return KindStatusChanged }
func (EnergyChanged) Kind() Kind           { return KindEnergyChanged }
func (EnergyLimitsChanged) Kind() Kind     { return KindEnergyLimitsChanged }
func (WavelengthLimitsChanged) Kind() Kind { return KindWavelengthLimitsChanged }
func (MoveStarted) Kind() Kind             { return KindMoveStarted }
func (MoveFinished) Kind() Kind            { return KindMoveFinished }
func (MoveFailed) Kind() Kind              { return KindMoveFailed }
func (MoveReady) Kind() Kind               { return KindMoveReady }
func (LogLine) Kind() Kind                 { return KindLog }

// Envelope is what subscribers receive.
type Envelope struct {
	Kind  Kind      `json:"kind"`
	Time  time.Time `json:"t"`
	Event Event     `json:"data"`
}

// Wrap stamps an event.
func Wrap(e Event) Envelope {
	return Envelope{Kind: e.Kind(), Time: time.Now(), Event: e}
}
