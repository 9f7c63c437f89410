package events

import (
	"strings"
	"sync"

	"github.com/cjeanneret/energyctl/internal/metrics"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Bus distributes events to multiple subscribers.
// Slow subscribers miss events (non-blocking, buffered).
type Bus struct {
	mu      sync.RWMutex
	clients map[chan Envelope]struct{}
	buffer  int
}

// NewBus creates a bus with the given per-subscriber buffer (DefaultBuffer if <= 0).
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		clients: make(map[chan Envelope]struct{}),
		buffer:  buffer,
	}
}

// Subscribe returns a channel that receives published events and a cleanup
// function. replay events are queued on the new channel ahead of anything
// published after Subscribe returns. The caller must call cleanup when done.
func (b *Bus) Subscribe(replay ...Event) (<-chan Envelope, func()) {
	ch := make(chan Envelope, b.buffer+len(replay))
	for _, e := range replay {
		ch <- Wrap(e)
	}

	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish sends e to all subscribers.
func (b *Bus) Publish(e Event) {
	env := Wrap(e)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- env:
		default:
			metrics.RecordDroppedEvent(string(env.Kind))
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Writer wraps Bus as io.Writer for use with debug.SetOutput.
// Each non-empty write is published as a LogLine.
type Writer struct {
	b *Bus
}

// NewWriter returns a Writer publishing to b.
func NewWriter(b *Bus) *Writer {
	return &Writer{b: b}
}

func (w *Writer) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.Publish(LogLine{Level: "info", Msg: msg})
	}
	return len(p), nil
}
