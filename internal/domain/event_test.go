package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() RawEvent {
	return RawEvent{
		Topic:     "test",
		EventID:   "evt-001",
		Timestamp: "2025-01-15T10:30:00Z",
		Source:    "unit-test",
		Payload:   json.RawMessage(`{"message": "hello", "level": "info"}`),
	}
}

func TestValidate_Success(t *testing.T) {
	event, err := Validate(validRaw())
	require.NoError(t, err)

	assert.Equal(t, "test", event.Topic)
	assert.Equal(t, "evt-001", event.EventID)
	assert.Equal(t, "unit-test", event.Source)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), event.Timestamp)
	assert.JSONEq(t, `{"message":"hello","level":"info"}`, string(event.Payload))
	assert.Equal(t, DedupKey{Topic: "test", EventID: "evt-001"}, event.Key())
	assert.Equal(t, "test:evt-001", event.Key().String())
}

func TestValidate_OffsetTimestampNormalizedToUTC(t *testing.T) {
	raw := validRaw()
	raw.Timestamp = "2025-01-15T12:30:00+02:00"

	event, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), event.Timestamp)
}

func TestValidate_ISO8601Forms(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"2025-01-15T10:30:00", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2025-01-15T10:30:00.123456", time.Date(2025, 1, 15, 10, 30, 0, 123456000, time.UTC)},
		{"2025-01-15 10:30:00+00:00", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2025-01-15 12:30:00.5+02:00", time.Date(2025, 1, 15, 10, 30, 0, 500000000, time.UTC)},
		{"2025-01-15 10:30:00", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2025-01-15T10:30:00+0000", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2025-01-15T10:30", time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2025-01-15", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			raw := validRaw()
			raw.Timestamp = tt.value

			event, err := Validate(raw)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(event.Timestamp), "got %s", event.Timestamp)
			assert.Equal(t, time.UTC, event.Timestamp.Location())
		})
	}
}

func TestValidate_MissingPayloadDefaultsToEmptyObject(t *testing.T) {
	for _, payload := range []json.RawMessage{nil, json.RawMessage("null"), json.RawMessage("  ")} {
		raw := validRaw()
		raw.Payload = payload

		event, err := Validate(raw)
		require.NoError(t, err)
		assert.Equal(t, "{}", string(event.Payload))
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RawEvent)
		field  string
	}{
		{"missing topic", func(r *RawEvent) { r.Topic = "" }, "topic"},
		{"missing event_id", func(r *RawEvent) { r.EventID = "" }, "event_id"},
		{"topic too long", func(r *RawEvent) { r.Topic = strings.Repeat("t", MaxFieldLength+1) }, "topic"},
		{"source too long", func(r *RawEvent) { r.Source = strings.Repeat("s", MaxFieldLength+1) }, "source"},
		{"bad timestamp", func(r *RawEvent) { r.Timestamp = "yesterday" }, "timestamp"},
		{"partial date", func(r *RawEvent) { r.Timestamp = "2025-01" }, "timestamp"},
		{"out of range date", func(r *RawEvent) { r.Timestamp = "2025-13-01" }, "timestamp"},
		{"array payload", func(r *RawEvent) { r.Payload = json.RawMessage(`[1,2,3]`) }, "payload"},
		{"scalar payload", func(r *RawEvent) { r.Payload = json.RawMessage(`"text"`) }, "payload"},
		{"truncated payload", func(r *RawEvent) { r.Payload = json.RawMessage(`{"a":`) }, "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)

			_, err := Validate(raw)
			require.Error(t, err)

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "inserted", OutcomeInserted.String())
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
