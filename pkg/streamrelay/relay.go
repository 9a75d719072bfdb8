package streamrelay

import (
	"sync"

	"github.com/YixiaoOneSmile/QMChatStudio/pkg/llm"
)

// Relay connects the goroutine pulling model deltas to the goroutine writing
// the outward transport. It preserves delta order, delivers exactly one
// terminal event (done or error), and lets the consumer side signal early
// cancellation back to the producer.
type Relay struct {
	events chan llm.StreamEvent

	cancelled  chan struct{}
	cancelOnce sync.Once
	closeOnce  sync.Once
}

func New(buffer int) *Relay {
	if buffer <= 0 {
		buffer = 16
	}
	return &Relay{
		events:    make(chan llm.StreamEvent, buffer),
		cancelled: make(chan struct{}),
	}
}

// Events is the consumer side. The channel is closed after the terminal
// event has been delivered, or after Cancel.
func (r *Relay) Events() <-chan llm.StreamEvent {
	return r.events
}

// Cancel tells the producer the consumer is gone (transport closed). After
// Cancel, Publish returns false and no further events are delivered.
func (r *Relay) Cancel() {
	r.cancelOnce.Do(func() {
		close(r.cancelled)
	})
}

// Cancelled is closed once the consumer has cancelled.
func (r *Relay) Cancelled() <-chan struct{} {
	return r.cancelled
}

// Publish forwards one delta. It blocks while the consumer is slower than
// the producer (bounded buffer) and returns false once the consumer has
// cancelled.
func (r *Relay) Publish(content string) bool {
	select {
	case <-r.cancelled:
		return false
	default:
	}

	select {
	case r.events <- llm.StreamEvent{Content: content}:
		return true
	case <-r.cancelled:
		return false
	}
}

// Close delivers the terminal done marker. Safe to call more than once and
// after Fail; only the first terminal wins.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		select {
		case r.events <- llm.StreamEvent{Done: true}:
		case <-r.cancelled:
		}
		close(r.events)
	})
}

// Fail delivers a terminal error. It does not retry or reorder; the stream
// ends here.
func (r *Relay) Fail(err error) {
	r.closeOnce.Do(func() {
		select {
		case r.events <- llm.StreamEvent{Err: err}:
		case <-r.cancelled:
		}
		close(r.events)
	})
}
