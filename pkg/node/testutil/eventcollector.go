// Package testutil holds helpers shared by tests that drive nodes.
package testutil

import (
	"sync"
	"time"

	"github.com/juanpablocruz/merklediff/pkg/node"
)

// EventCollector drains a node's event channel into a buffer so tests can
// assert on the sequence once the comparison returns.
type EventCollector struct {
	ch     chan node.Event
	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	mu  sync.Mutex
	buf []node.Event
}

func NewEventCollector(buffer int) *EventCollector {
	return &EventCollector{
		ch:     make(chan node.Event, buffer),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Attach must be called before the node starts comparing.
func (ec *EventCollector) Attach(n *node.Node) {
	n.AttachEvents(ec.ch)
	go ec.loop()
}

// Close stops collecting after draining whatever is already queued.
func (ec *EventCollector) Close() {
	close(ec.stop)
	<-ec.done
}

func (ec *EventCollector) loop() {
	defer close(ec.done)
	for {
		select {
		case e := <-ec.ch:
			ec.add(e)
		case <-ec.stop:
			for {
				select {
				case e := <-ec.ch:
					ec.add(e)
				default:
					return
				}
			}
		}
	}
}

func (ec *EventCollector) add(e node.Event) {
	ec.mu.Lock()
	ec.buf = append(ec.buf, e)
	ec.mu.Unlock()
	select {
	case ec.notify <- struct{}{}:
	default:
	}
}

func (ec *EventCollector) Snapshot() []node.Event {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]node.Event, len(ec.buf))
	copy(out, ec.buf)
	return out
}

// Types lists the event types seen so far, in order.
func (ec *EventCollector) Types() []node.EventType {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]node.EventType, len(ec.buf))
	for i, e := range ec.buf {
		out[i] = e.Type
	}
	return out
}

// First returns the first event of type t.
func (ec *EventCollector) First(t node.EventType) (node.Event, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for _, e := range ec.buf {
		if e.Type == t {
			return e, true
		}
	}
	return node.Event{}, false
}

// WaitFor waits up to timeout for an event of type t.
func (ec *EventCollector) WaitFor(t node.EventType, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if _, ok := ec.First(t); ok {
			return true
		}
		select {
		case <-ec.notify:
		case <-deadline:
			return false
		}
	}
}
