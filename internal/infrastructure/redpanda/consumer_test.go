package redpanda

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

func TestNewConsumedMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := newConsumedMessage(&kgo.Record{
		Topic:     TopicMedicationRecords,
		Partition: 2,
		Offset:    41,
		Key:       []byte("rec-1"),
		Value:     []byte(`{}`),
		Headers:   []kgo.RecordHeader{{Key: "traceparent", Value: []byte("00-abc")}},
		Timestamp: ts,
	})
	if msg.Partition != 2 || msg.Offset != 41 || string(msg.Key) != "rec-1" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Headers["traceparent"] != "00-abc" {
		t.Errorf("headers = %v", msg.Headers)
	}
	if !msg.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v", msg.Timestamp)
	}
}

func TestDeadLetterBody(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"json payload", `{"recordId":"rec-1"}`, `{"recordId":"rec-1"}`},
		{"text payload", "not json", `"not json"`},
	}
	for _, tt := range tests {
		msg := &ConsumedMessage{Topic: TopicMedicationRecords, Offset: 7, Value: []byte(tt.value)}
		var got struct {
			OriginalTopic string          `json:"original_topic"`
			Offset        int64           `json:"offset"`
			Payload       json.RawMessage `json:"payload"`
			Error         string          `json:"error"`
		}
		if err := json.Unmarshal(newDeadLetter(msg, errors.New("bad record")).encode(), &got); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got.OriginalTopic != TopicMedicationRecords || got.Offset != 7 || got.Error != "bad record" {
			t.Errorf("%s: body = %+v", tt.name, got)
		}
		if string(got.Payload) != tt.want {
			t.Errorf("%s: payload = %s, want %s", tt.name, got.Payload, tt.want)
		}
	}
}
