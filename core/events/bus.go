package events

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/Ayush1832/tg-escrow-bot-sub001/core/types"
)

const (
	busHistoryLimit   = 1024
	busSubscriberSize = 32
)

// Envelope is a sequenced event published on a Bus.
type Envelope struct {
	Sequence uint64       `json:"sequence"`
	Cursor   string       `json:"cursor"`
	Event    *types.Event `json:"event"`
}

func cloneEnvelope(env Envelope) Envelope {
	env.Event = env.Event.Clone()
	return env
}

// Bus is an Emitter that fans events out to any number of subscribers and keeps
// a bounded history so late subscribers can resume from a cursor. Slow
// subscribers drop events rather than blocking the publisher.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan Envelope
	history []Envelope
	sinks   []Emitter
}

// NewBus constructs an empty bus. Optional sinks receive every event
// synchronously before subscribers are notified.
func NewBus(sinks ...Emitter) *Bus {
	return &Bus{subs: make(map[uint64]chan Envelope), sinks: sinks}
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	for _, sink := range b.sinks {
		if sink != nil {
			sink.Emit(evt)
		}
	}
	var payload *types.Event
	if p, ok := evt.(Payload); ok && p.Event() != nil {
		payload = p.Event().Clone()
	} else {
		payload = &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	}

	b.mu.Lock()
	b.seq++
	env := Envelope{Sequence: b.seq, Cursor: strconv.FormatUint(b.seq, 10), Event: payload}
	b.history = append(b.history, env)
	if len(b.history) > busHistoryLimit {
		excess := len(b.history) - busHistoryLimit
		trimmed := make([]Envelope, busHistoryLimit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
	}
	// sends never block, and holding the lock keeps cancel from closing a
	// channel mid-send
	for _, ch := range b.subs {
		select {
		case ch <- cloneEnvelope(env):
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribe registers a subscriber for events published after cursor. It
// returns the live channel, a cancel function and the backlog of retained
// events newer than cursor.
func (b *Bus) Subscribe(ctx context.Context, cursor string) (<-chan Envelope, func(), []Envelope) {
	updates := make(chan Envelope, busSubscriberSize)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	history := make([]Envelope, len(b.history))
	copy(history, b.history)
	b.mu.Unlock()

	backlog := make([]Envelope, 0, len(history))
	for _, env := range history {
		if env.Sequence > since {
			backlog = append(backlog, cloneEnvelope(env))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
