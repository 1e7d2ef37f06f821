package orchestrator

import (
	"time"

	"github.com/GriffinCanCode/livetag/internal/history"
)

// EventType distinguishes saved artifacts from skipped duplicates.
type EventType string

const (
	EventSaved     EventType = "saved"
	EventDuplicate EventType = "duplicate"
)

// Event is published for every pair that reaches the dedup check.
type Event struct {
	Type       EventType `json:"type"`
	Identifier string    `json:"identifier"`
	Serial     string    `json:"serial"`
	Path       string    `json:"path,omitempty"`
	Label      string    `json:"label,omitempty"`
	At         time.Time `json:"at"`
}

func newEvent(t EventType, p history.Pair, at time.Time) Event {
	return Event{Type: t, Identifier: p.Identifier, Serial: p.Serial, At: at}
}

// Sink receives events. syncx.Broadcaster satisfies it.
type Sink interface {
	Publish(Event) (dropped int)
}
