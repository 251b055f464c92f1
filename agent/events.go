package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/martinemde/agentcore/protocol"
)

// ErrSessionClosed is returned once the session has shut down and every
// queued event has been read.
var ErrSessionClosed = errors.New("agent: session closed")

// EventEmitter delivers protocol events to the host application. The queue
// is unbounded so a slow reader never stalls a task and no event is lost;
// events emitted after Close are dropped.
type EventEmitter struct {
	mu     sync.Mutex
	queue  []protocol.Event
	closed bool
	ready  chan struct{}
}

// NewEventEmitter creates an empty emitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{ready: make(chan struct{}, 1)}
}

// Emit appends ev to the queue.
func (e *EventEmitter) Emit(ev protocol.Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()
	e.signal()
}

// Next returns the oldest queued event, waiting for one if necessary. It is
// meant for a single reader.
func (e *EventEmitter) Next(ctx context.Context) (protocol.Event, error) {
	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			ev := e.queue[0]
			e.queue[0] = protocol.Event{}
			e.queue = e.queue[1:]
			e.mu.Unlock()
			return ev, nil
		}
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return protocol.Event{}, ErrSessionClosed
		}

		select {
		case <-e.ready:
		case <-ctx.Done():
			return protocol.Event{}, ctx.Err()
		}
	}
}

// Close stops accepting events. Events already queued can still be read.
// Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.signal()
}

func (e *EventEmitter) signal() {
	select {
	case e.ready <- struct{}{}:
	default:
	}
}
