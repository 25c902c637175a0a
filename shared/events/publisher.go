package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eaglebank/core-banking/shared/models"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps each stream; XADD trims approximately past it.
const streamMaxLen = 100000

// Publisher appends events to Redis streams. Publishing is best effort: the
// local log files stay the record of truth.
type Publisher struct {
	client *redis.Client
	maxLen int64
	now    func() time.Time
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, maxLen: streamMaxLen, now: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	event := Event{
		Type:      eventType,
		Timestamp: p.now().UTC(),
		Data:      data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":  eventType,
			"event": eventJSON,
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// RecordAudit publishes rec on the audit stream.
func (p *Publisher) RecordAudit(ctx context.Context, rec models.AuditRecord) error {
	return p.Publish(ctx, AuditEventsStream, AuditRecorded, AuditRecordedEvent{
		AuditID:     rec.ID,
		OperationID: rec.OperationID,
		Sequence:    rec.Sequence,
		Actor:       rec.Actor,
		Action:      rec.Action,
		EntityType:  rec.EntityType,
		EntityID:    rec.EntityID,
		Before:      rec.Before,
		After:       rec.After,
		Detail:      rec.Detail,
		RecordedAt:  rec.Timestamp,
	})
}
