package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	AuditRecorded = "audit.recorded"
)

// Stream names
const (
	AuditEventsStream = "audit.events"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Decode copies the event payload into v. Subscribers receive Data as a
// generic JSON value.
func (e Event) Decode(v any) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", e.Type, err)
	}
	return nil
}

// Audit events
type AuditRecordedEvent struct {
	AuditID     string    `json:"auditId"`
	OperationID string    `json:"operationId"`
	Sequence    uint64    `json:"sequence"`
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId"`
	Before      string    `json:"before,omitempty"`
	After       string    `json:"after,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	RecordedAt  time.Time `json:"recordedAt"`
}
