// Package progress publishes run-progress events to interested observers:
// the structured log, and optionally a websocket hub for live dashboards.
package progress

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Phase names reported in events.
const (
	PhaseGenerate = "generate"
	PhaseExtract  = "extract"
	PhaseResolve  = "resolve"
	PhaseSeverity = "severity"
	PhaseMetrics  = "metrics"
)

// Event is one progress update for a run.
type Event struct {
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase"`
	CaseID    string    `json:"case_id,omitempty"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer receives progress events. Implementations must not block.
type Observer interface {
	Publish(event Event)
}

// Multi fans one event out to several observers.
type Multi []Observer

func (m Multi) Publish(event Event) {
	for _, o := range m {
		o.Publish(event)
	}
}

// LogObserver writes progress events to the run log.
type LogObserver struct {
	log *logrus.Logger
}

// NewLogObserver creates a log-backed observer.
func NewLogObserver(logger *logrus.Logger) *LogObserver {
	return &LogObserver{log: logger}
}

func (o *LogObserver) Publish(event Event) {
	o.log.WithFields(logrus.Fields{
		"run_id":    event.RunID,
		"phase":     event.Phase,
		"case_id":   event.CaseID,
		"completed": event.Completed,
		"total":     event.Total,
	}).Info(event.Message)
}

// Stamp fills the timestamp if unset.
func Stamp(event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event
}
