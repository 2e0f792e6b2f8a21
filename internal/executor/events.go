package executor

import (
	"time"

	"radiopipe/internal/task"
)

// EventType tags a stage lifecycle event.
type EventType string

const (
	EventStageStart  EventType = "stage_start"
	EventPhase       EventType = "phase"
	EventStageDone   EventType = "stage_done"
	EventStageFailed EventType = "stage_failed"
	EventRunDone     EventType = "run_done"
	EventRunFailed   EventType = "run_failed"
)

// Event is one entry of the stage lifecycle feed.
type Event struct {
	Time    time.Time  `json:"time"`
	RunID   string     `json:"run_id"`
	Context string     `json:"context"`
	Type    EventType  `json:"type"`
	Stage   int        `json:"stage,omitempty"`
	Task    string     `json:"task,omitempty"`
	Phase   task.Phase `json:"phase,omitempty"`
	Error   string     `json:"error,omitempty"`
	QAScore float64    `json:"qa_score,omitempty"`
}

// Sink receives lifecycle events. Publish must not block the stage loop;
// sinks that fan out to slow consumers drop rather than stall.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// MultiSink fans each event out to every sink. Nil entries are skipped.
type MultiSink []Sink

func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}
