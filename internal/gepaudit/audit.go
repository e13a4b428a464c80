// Package gepaudit implements a batched audit trail for producer and
// consumer engine events, adapted from the teacher's internal/audit package
// (itself event/sink/batching shaped) from S3 encrypt/decrypt/key-rotation
// events to produce/consume/coverage events.
package gepaudit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventType identifies the kind of protocol event being recorded.
type EventType string

const (
	EventTypeProduce        EventType = "produce"
	EventTypeConsume        EventType = "consume"
	EventTypeCoverageSearch EventType = "coverage_search"
	EventTypeKeyRequest     EventType = "key_request"
	EventTypeDelegationFailover EventType = "delegation_failover"
)

// Event is a single audit record.
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  EventType              `json:"event_type"`
	Operation  string                 `json:"operation"`
	GroupName  string                 `json:"group_name,omitempty"`
	Consumer   string                 `json:"consumer,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	Duration   time.Duration          `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Log(event *Event) error
	LogProduce(name, groupName string, success bool, err error, duration time.Duration, metadata map[string]interface{})
	LogConsume(name, consumer string, success bool, err error, duration time.Duration, metadata map[string]interface{})
	LogCoverageSearch(name string, success bool, err error, duration time.Duration)
	LogDelegationFailover(name string, attempt int)
	Events() []*Event
	Close() error
}

// EventWriter writes one event to a sink.
type EventWriter interface {
	WriteEvent(event *Event) error
}

type auditLogger struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
	writer    EventWriter
}

// NewLogger creates a Logger that keeps at most maxEvents in memory and
// forwards every event to writer (nil defaults to a stdout sink).
func NewLogger(maxEvents int, writer EventWriter) Logger {
	if writer == nil {
		writer = &StdoutSink{}
	}
	return &auditLogger{
		events:    make([]*Event, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

func (l *auditLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}
	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	return nil
}

func (l *auditLogger) LogProduce(name, groupName string, success bool, err error, duration time.Duration, metadata map[string]interface{}) {
	l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeProduce,
		Operation: "produce",
		Name:      name,
		GroupName: groupName,
		Success:   success,
		Error:     errString(err),
		Duration:  duration,
		Metadata:  metadata,
	})
}

func (l *auditLogger) LogConsume(name, consumer string, success bool, err error, duration time.Duration, metadata map[string]interface{}) {
	l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeConsume,
		Operation: "consume",
		Name:      name,
		Consumer:  consumer,
		Success:   success,
		Error:     errString(err),
		Duration:  duration,
		Metadata:  metadata,
	})
}

func (l *auditLogger) LogCoverageSearch(name string, success bool, err error, duration time.Duration) {
	l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeCoverageSearch,
		Operation: "coverage_search",
		Name:      name,
		Success:   success,
		Error:     errString(err),
		Duration:  duration,
	})
}

func (l *auditLogger) LogDelegationFailover(name string, attempt int) {
	l.Log(&Event{
		Timestamp: time.Now(),
		EventType: EventTypeDelegationFailover,
		Operation: "delegation_failover",
		Name:      name,
		Success:   true,
		Metadata:  map[string]interface{}{"attempt": attempt},
	})
}

func (l *auditLogger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *auditLogger) Close() error {
	if c, ok := l.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// StdoutSink writes one JSON event per line to stdout.
type StdoutSink struct{}

func (s *StdoutSink) WriteEvent(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
