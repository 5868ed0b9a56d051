// Package progress delivers workflow progress events to observers.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EventType names a progress event.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventPlanProduced   EventType = "plan_produced"
	EventFilesProduced  EventType = "files_produced"
	EventReviewFeedback EventType = "review_feedback"
	EventRunCompleted   EventType = "run_completed"
	EventRunFailed      EventType = "run_failed"
)

// Event is one observation of a workflow run.
type Event struct {
	Type  EventType              `json:"type"`
	RunID string                 `json:"run_id"`
	Seq   int64                  `json:"seq,omitempty"`
	Time  time.Time              `json:"time"`
	Node  string                 `json:"node,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Sink receives progress events. Emit must not block the caller for long.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(event Event) {
	f(event)
}

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event.
var Discard Sink = discard{}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event Event) {
	e := s.logger.Info()
	if event.Type == EventRunFailed {
		e = s.logger.Error()
	}
	e.Str("event", string(event.Type)).
		Str("run_id", event.RunID).
		Str("node", event.Node).
		Fields(event.Data).
		Msg("Workflow progress")
}

// ChanSink forwards events to a buffered channel, dropping events when the
// buffer is full.
type ChanSink struct {
	events  chan Event
	dropped atomic.Int64
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{events: make(chan Event, buffer)}
}

func (s *ChanSink) Emit(event Event) {
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the channel.
func (s *ChanSink) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events did not fit the buffer.
func (s *ChanSink) Dropped() int64 {
	return s.dropped.Load()
}

// Drain returns every buffered event without blocking.
func (s *ChanSink) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-s.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

// MultiSink fans events out to several sinks in order.
type MultiSink struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMultiSink creates a MultiSink, skipping nil sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add appends a sink.
func (m *MultiSink) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

func (m *MultiSink) Emit(event Event) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	for _, s := range sinks {
		s.Emit(event)
	}
}
