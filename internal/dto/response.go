package dto

import (
	"encoding/json"
	"time"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// EventResult is the per-event outcome of a publish request
type EventResult struct {
	Topic   string `json:"topic"`
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// PublishResponse represents the answer to POST /publish
type PublishResponse struct {
	Status   string        `json:"status"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Invalid  int           `json:"invalid"`
	Results  []EventResult `json:"results"`
}

// EventRecord is a processed event as returned by the query endpoints
type EventRecord struct {
	Topic       string          `json:"topic"`
	EventID     string          `json:"event_id"`
	Timestamp   string          `json:"timestamp"`
	Source      string          `json:"source"`
	Payload     json.RawMessage `json:"payload"`
	ProcessedAt string          `json:"processed_at"`
}

// EventsResponse represents the answer to GET /events
type EventsResponse struct {
	Events          []EventRecord `json:"events"`
	Total           int           `json:"total"`
	FilteredByTopic *string       `json:"filtered_by_topic"`
}

// StatsResponse represents the aggregator counters
type StatsResponse struct {
	Received         int64    `json:"received"`
	UniqueProcessed  int64    `json:"unique_processed"`
	DuplicateDropped int64    `json:"duplicate_dropped"`
	Failed           int64    `json:"failed"`
	Topics           []string `json:"topics"`
	UptimeSeconds    float64  `json:"uptime_seconds"`
	StartedAt        string   `json:"started_at"`
	QueueDepth       int      `json:"queue_depth"`
	QueueCapacity    int      `json:"queue_capacity"`
}

// HealthResponse represents process liveness
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ServiceInfoResponse describes the service and its routes
type ServiceInfoResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

// NewEventResult converts a submission result
func NewEventResult(r domain.SubmitResult) EventResult {
	return EventResult{
		Topic:   r.Topic,
		EventID: r.EventID,
		Status:  string(r.Status),
		Error:   r.Error,
	}
}

// NewEventRecord converts a processed record. A missing event timestamp is rendered as "".
func NewEventRecord(r domain.ProcessedRecord) EventRecord {
	record := EventRecord{
		Topic:       r.Topic,
		EventID:     r.EventID,
		Source:      r.Source,
		Payload:     r.Payload,
		ProcessedAt: r.ProcessedAt.UTC().Format(time.RFC3339Nano),
	}
	if !r.Timestamp.IsZero() {
		record.Timestamp = r.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(record.Payload) == 0 {
		record.Payload = json.RawMessage(`{}`)
	}
	return record
}
