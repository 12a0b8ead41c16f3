package scan

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionOpened    EventType = "SessionOpened"
	EventModeChosen       EventType = "ModeChosen"
	EventCallStarted      EventType = "CallStarted"
	EventExtractionMerged EventType = "ExtractionMerged"
	EventLookupResolved   EventType = "LookupResolved"
	EventSearchResolved   EventType = "SearchResolved"
	EventResultPicked     EventType = "ResultPicked"
	EventConditionsRanked EventType = "ConditionsRanked"
	EventRecordEdited     EventType = "RecordEdited"
	EventCaptureFailed    EventType = "CaptureFailed"
	EventSessionCommitted EventType = "SessionCommitted"
	EventSessionCancelled EventType = "SessionCancelled"
	EventSessionClosed    EventType = "SessionClosed"
	EventStaleResult      EventType = "StaleResultDiscarded"
)

// Event is an entry in a session's audit trail. Details never carry patient
// data or label text.
type Event struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	EventType  EventType         `json:"event_type"`
	Mode       Mode              `json:"mode"`
	Generation uint64            `json:"generation"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

func newEvent(sessionID string, t EventType, mode Mode, gen uint64, at time.Time, details map[string]string) Event {
	return Event{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		EventType:  t,
		Mode:       mode,
		Generation: gen,
		Details:    details,
		Timestamp:  at.UTC(),
	}
}
