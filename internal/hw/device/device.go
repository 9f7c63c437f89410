package device

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnreachable is returned when the communication layer cannot satisfy a request.
var ErrUnreachable = errors.New("device unreachable")

// Value is a scalar attribute reading: float64 for physical quantities,
// string for enumerated states.
type Value = any

// Proxy is the device-communication layer seen by the rest of the
// application. It represents a named remote device regardless of how it is
// reached (simulator, control-system binding, etc.).
type Proxy interface {
	// Name returns the device identifier from configuration.
	Name() string
	Read(ctx context.Context, attr string) (Value, error)
	Write(ctx context.Context, attr string, v Value) error
	// Subscribe registers fn for pushed value changes of attr. Calls to fn
	// are ordered and never concurrent for a given subscription.
	Subscribe(attr string, fn func(Value)) (cancel func(), err error)
	Command(ctx context.Context, name string) error
	// Limits returns the declared operating range of attr.
	Limits(ctx context.Context, attr string) (min, max float64, err error)
}

// Float converts a reading to float64.
func Float(v Value) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

// String converts a reading to its string form. States are reported as
// strings by every transport.
func String(v Value) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", fmt.Errorf("value %v (%T) is not a string", v, v)
	}
}

// ReadFloat reads attr and converts it to float64.
func ReadFloat(ctx context.Context, p Proxy, attr string) (float64, error) {
	v, err := p.Read(ctx, attr)
	if err != nil {
		return 0, err
	}
	f, err := Float(v)
	if err != nil {
		return 0, fmt.Errorf("%s/%s: %w", p.Name(), attr, err)
	}
	return f, nil
}
