package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MaxFieldLength bounds topic, event_id and source
const MaxFieldLength = 255

// RawEvent is an event as submitted by a publisher, before validation
type RawEvent struct {
	Topic     string          `json:"topic"`
	EventID   string          `json:"event_id"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// Event is a validated, immutable inbound event
type Event struct {
	Topic     string
	EventID   string
	Timestamp time.Time
	Source    string
	Payload   json.RawMessage
}

// ProcessedRecord is an event the dedup store accepted and committed
type ProcessedRecord struct {
	Event
	ProcessedAt time.Time
}

// DedupKey identifies a logical event regardless of how often it was delivered
type DedupKey struct {
	Topic   string
	EventID string
}

func (k DedupKey) String() string {
	return k.Topic + ":" + k.EventID
}

// Key returns the dedup key of the event
func (e Event) Key() DedupKey {
	return DedupKey{Topic: e.Topic, EventID: e.EventID}
}

// ValidationError reports a malformed raw event
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// timestampLayouts are the ISO8601 forms publishers send. Fractional seconds are
// accepted after the seconds field by every layout that has one.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO8601 timestamp and returns it in UTC.
// Values without an offset are taken as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return parsed.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// Validate turns a raw event into an Event or returns a *ValidationError
func Validate(raw RawEvent) (Event, error) {
	if raw.Topic == "" {
		return Event{}, &ValidationError{Field: "topic", Reason: "is required"}
	}
	if raw.EventID == "" {
		return Event{}, &ValidationError{Field: "event_id", Reason: "is required"}
	}

	for _, f := range []struct{ name, value string }{
		{"topic", raw.Topic},
		{"event_id", raw.EventID},
		{"source", raw.Source},
	} {
		if len(f.value) > MaxFieldLength {
			return Event{}, &ValidationError{
				Field:  f.name,
				Reason: fmt.Sprintf("exceeds %d characters", MaxFieldLength),
			}
		}
	}

	var ts time.Time
	if raw.Timestamp != "" {
		parsed, err := ParseTimestamp(raw.Timestamp)
		if err != nil {
			return Event{}, &ValidationError{Field: "timestamp", Reason: "must be an ISO8601 timestamp"}
		}
		ts = parsed
	}

	payload, err := normalizePayload(raw.Payload)
	if err != nil {
		return Event{}, err
	}

	return Event{
		Topic:     raw.Topic,
		EventID:   raw.EventID,
		Timestamp: ts,
		Source:    raw.Source,
		Payload:   payload,
	}, nil
}

// normalizePayload accepts a JSON object; absent or null becomes {}
func normalizePayload(p json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(p)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}

	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, &ValidationError{Field: "payload", Reason: "must be a JSON object"}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: "must be a JSON object"}
	}

	return json.RawMessage(buf.Bytes()), nil
}
