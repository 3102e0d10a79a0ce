package ingress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
)

var errNotObject = errors.New("message body is not a JSON object")

// JSONEventParser implements MessageParser for JSON-formatted event messages
type JSONEventParser struct{}

// NewJSONEventParser creates a new JSON event parser
func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{}
}

// Parse decodes a message body into a RawEvent. Field validation is left to
// the submitter so broker and HTTP events share the same rules.
func (p *JSONEventParser) Parse(body []byte) (*domain.RawEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}

	var raw domain.RawEvent
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}

	return &raw, nil
}
