package node

import "time"

type EventType string

const (
	EventConnected EventType = "connected"
	EventHello     EventType = "hello"
	EventWarn      EventType = "warn"
	EventPhase     EventType = "phase"
	EventAbort     EventType = "abort"
	EventDone      EventType = "done"
	EventFailed    EventType = "failed"
)

type Event struct {
	Time   time.Time
	Node   string
	Type   EventType
	Fields map[string]any
}
