package medication

import (
	"encoding/json"
	"time"
)

// EventRecordCommitted is published when a capture session commits a record.
const EventRecordCommitted = "MedicationRecordCommitted"

// AggregateType identifies medication records on the outbox.
const AggregateType = "MedicationRecord"

// RecordCommitted is the payload of EventRecordCommitted
type RecordCommitted struct {
	RecordID    string    `json:"record_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Record      Record    `json:"record"`
	CommittedAt time.Time `json:"committed_at"`
}

// DecodeRecordCommitted parses an outbox payload.
func DecodeRecordCommitted(data []byte) (*RecordCommitted, error) {
	var ev RecordCommitted
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
