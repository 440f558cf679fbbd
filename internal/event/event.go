// Package event carries domain findings (splice signals, decoded
// captions) from the analysis stages to whatever consumes them, without
// the stages blocking on a slow consumer.
package event

import (
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Kind labels the event families the probe emits.
type Kind string

const (
	KindSplice  Kind = "splice"
	KindCaption Kind = "caption"
	KindXDS     Kind = "xds"
)

// Event is one domain finding.
type Event struct {
	Kind    Kind              `json:"kind"`
	PID     uint16            `json:"pid"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}

// Bus is a bounded, non-blocking publish channel. Publishing to a full
// bus drops the event and counts the drop; analysis never stalls on the
// consumer.
type Bus struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewBus creates a bus buffering up to size events.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 1024
	}
	return &Bus{ch: make(chan Event, size)}
}

// Publish enqueues an event, stamping it with the current time.
func (b *Bus) Publish(ev Event) {
	ev.At = time.Now()
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
		log.WithField("kind", ev.Kind).Debug("Event bus full, event dropped")
	}
}

// Events returns the receive side of the bus.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Dropped returns how many events were discarded on a full bus.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the bus; publishers must have stopped.
func (b *Bus) Close() {
	close(b.ch)
}
