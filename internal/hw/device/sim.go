package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/energyctl/internal/debug"
)

// ErrNoAttribute is returned by Sim for attributes it does not expose.
var ErrNoAttribute = errors.New("no such attribute")

// WriteHook replaces the default store-and-notify behaviour of a write.
// Hooks run outside the Sim lock and may call Set.
type WriteHook func(ctx context.Context, v Value) error

// Sim is an in-process Proxy implementation. It holds attributes in memory,
// delivers notifications asynchronously in order on a dedicated goroutine,
// and can be switched offline to inject communication failures.
// Used by the simulators and by tests.
type Sim struct {
	name string

	mu       sync.Mutex
	attrs    map[string]Value
	limits   map[string][2]float64
	hooks    map[string]WriteHook
	commands map[string]func(ctx context.Context) error
	subs     map[string]map[int]func(Value)
	nextSub  int
	offline  bool
	closed   bool
	pending  []notification

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

type notification struct {
	attr  string
	value Value
}

// NewSim creates a simulated device and starts its notification pump.
// Close must be called to stop the pump.
func NewSim(name string) *Sim {
	s := &Sim{
		name:     name,
		attrs:    make(map[string]Value),
		limits:   make(map[string][2]float64),
		hooks:    make(map[string]WriteHook),
		commands: make(map[string]func(ctx context.Context) error),
		subs:     make(map[string]map[int]func(Value)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.pump()
	return s
}

func (s *Sim) Name() string { return s.name }

// Set stores v and notifies subscribers of attr.
func (s *Sim) Set(attr string, v Value) {
	s.mu.Lock()
	s.attrs[attr] = v
	s.enqueueLocked(attr, v)
	s.mu.Unlock()
	debug.Attr("set", s.name, attr, v)
}

// Get returns the stored value without going through the offline check.
func (s *Sim) Get(attr string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[attr]
	return v, ok
}

// SetLimits declares the operating range of attr.
func (s *Sim) SetLimits(attr string, min, max float64) {
	s.mu.Lock()
	s.limits[attr] = [2]float64{min, max}
	s.mu.Unlock()
}

// OnWrite installs a hook replacing the default write behaviour of attr.
func (s *Sim) OnWrite(attr string, hook WriteHook) {
	s.mu.Lock()
	s.hooks[attr] = hook
	s.mu.Unlock()
}

// OnCommand installs the handler for a named command.
func (s *Sim) OnCommand(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.commands[name] = fn
	s.mu.Unlock()
}

// SetOffline makes every subsequent request fail with ErrUnreachable.
func (s *Sim) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

func (s *Sim) unreachable() error {
	return fmt.Errorf("%s: %w", s.name, ErrUnreachable)
}

func (s *Sim) Read(ctx context.Context, attr string) (Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, s.unreachable()
	}
	v, ok := s.attrs[attr]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", s.name, attr, ErrNoAttribute)
	}
	debug.Attr("read", s.name, attr, v)
	return v, nil
}

func (s *Sim) Write(ctx context.Context, attr string, v Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return s.unreachable()
	}
	hook := s.hooks[attr]
	s.mu.Unlock()

	debug.Attr("write", s.name, attr, v)
	if hook != nil {
		return hook(ctx, v)
	}
	s.Set(attr, v)
	return nil
}

func (s *Sim) Command(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return s.unreachable()
	}
	fn, ok := s.commands[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: unknown command %q", s.name, name)
	}
	debug.Attr("command", s.name, name, nil)
	return fn(ctx)
}

func (s *Sim) Limits(ctx context.Context, attr string) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return 0, 0, s.unreachable()
	}
	l, ok := s.limits[attr]
	if !ok {
		return 0, 0, fmt.Errorf("%s/%s: no limits declared: %w", s.name, attr, ErrNoAttribute)
	}
	return l[0], l[1], nil
}

func (s *Sim) Subscribe(attr string, fn func(Value)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, s.unreachable()
	}
	if s.subs[attr] == nil {
		s.subs[attr] = make(map[int]func(Value))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[attr][id] = fn

	cancel := func() {
		s.mu.Lock()
		delete(s.subs[attr], id)
		s.mu.Unlock()
	}
	return cancel, nil
}

// Close stops notification delivery. Pending notifications are discarded.
func (s *Sim) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *Sim) enqueueLocked(attr string, v Value) {
	if s.closed || len(s.subs[attr]) == 0 {
		return
	}
	s.pending = append(s.pending, notification{attr: attr, value: v})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sim) pump() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, n := range batch {
			select {
			case <-s.done:
				return
			default:
			}
			for _, fn := range s.subscribers(n.attr) {
				fn(n.value)
			}
		}
	}
}

func (s *Sim) subscribers(attr string) []func(Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fns := make([]func(Value), 0, len(s.subs[attr]))
	for _, fn := range s.subs[attr] {
		fns = append(fns, fn)
	}
	return fns
}
