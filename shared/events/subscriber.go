package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Handler func(ctx context.Context, event Event) error

type Subscriber struct {
	client        *redis.Client
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	reclaimAfter  time.Duration
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	// ReclaimAfter is how long a delivered but unacknowledged message stays
	// with its consumer before Poll claims it again. Zero means one minute.
	ReclaimAfter time.Duration
}

func NewSubscriber(client *redis.Client, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.ReclaimAfter == 0 {
		config.ReclaimAfter = time.Minute
	}

	return &Subscriber{
		client:        client,
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		reclaimAfter:  config.ReclaimAfter,
	}
}

// Setup creates the consumer group, starting from the beginning of the stream.
func (s *Subscriber) Setup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.Setup(ctx); err != nil {
		return err
	}

	log.Printf("Subscriber started: stream=%s, group=%s, consumer=%s", s.stream, s.group, s.consumer)

	for {
		select {
		case <-ctx.Done():
			log.Printf("Subscriber stopping: %s", s.stream)
			return ctx.Err()
		default:
			if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Error reading messages: %v", err)
				time.Sleep(time.Second)
			}
		}
	}
}

// Poll retries stalled pending messages, then reads one new batch. Each
// message goes to the handler and is acknowledged only if the handler accepts
// it. Poll returns how many were acknowledged.
func (s *Subscriber) Poll(ctx context.Context) (int, error) {
	acked := 0
	stalled, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.reclaimAfter,
		Start:    "0-0",
		Count:    s.batchSize,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Printf("Failed to reclaim pending messages on %s: %v", s.stream, err)
	}
	acked += s.deliver(ctx, stalled)

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		acked += s.deliver(ctx, stream.Messages)
	}
	return acked, nil
}

func (s *Subscriber) deliver(ctx context.Context, messages []redis.XMessage) int {
	acked := 0
	for _, message := range messages {
		if err := s.processMessage(ctx, message); err != nil {
			log.Printf("Failed to process message %s: %v", message.ID, err)
			// left pending for redelivery
			continue
		}
		if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
			log.Printf("Failed to ACK message %s: %v", message.ID, err)
			continue
		}
		acked++
	}
	return acked
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return s.handler(ctx, event)
}
