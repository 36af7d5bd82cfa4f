package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/Sh00ty/projected-grid/internal/models"
)

type Config struct {
	Brokers         []string `envconfig:"QUEUE_BROKERS"`
	AllocationTopic string   `envconfig:"QUEUE_ALLOCATION_TOPIC,default=grid.allocations"`
	ReleaseTopic    string   `envconfig:"QUEUE_RELEASE_TOPIC,default=grid.releases"`
	EventsTopic     string   `envconfig:"QUEUE_EVENTS_TOPIC,default=grid.events"`
	MembershipTopic string   `envconfig:"QUEUE_MEMBERSHIP_TOPIC,default=grid.membership"`
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends allocation and release requests to the resource manager
// and grid events to whoever listens. Messages are keyed by projection so a
// projection's requests stay ordered within a partition.
type Publisher struct {
	writer          MessageWriter
	allocationTopic string
	releaseTopic    string
	eventsTopic     string
}

func NewPublisher(cfg Config) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newPublisher(writer, cfg)
}

func newPublisher(writer MessageWriter, cfg Config) *Publisher {
	return &Publisher{
		writer:          writer,
		allocationTopic: cfg.AllocationTopic,
		releaseTopic:    cfg.ReleaseTopic,
		eventsTopic:     cfg.EventsTopic,
	}
}

func (p *Publisher) Allocate(ctx context.Context, req models.AllocationRequest) error {
	msg, err := message(p.allocationTopic, req.Projection, req)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to publish allocation request %s: %w", req.RequestID, err)
	}
	return nil
}

func (p *Publisher) Release(ctx context.Context, req models.ReleaseRequest) error {
	msg, err := message(p.releaseTopic, req.Projection, req)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to publish release request %s: %w", req.RequestID, err)
	}
	return nil
}

// PublishEvents writes events as one batch and reports how many were written.
func (p *Publisher) PublishEvents(ctx context.Context, events []models.GridEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := message(p.eventsTopic, event.Projection, event)
		if err != nil {
			return 0, err
		}
		msgs = append(msgs, msg)
	}
	err := p.writer.WriteMessages(ctx, msgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to publish %d grid events: %w", len(events), err)
	}
	return len(events), nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func message(topic, key string, value any) (kafka.Message, error) {
	js, err := json.Marshal(value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode message for %s: %w", topic, err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: js,
	}, nil
}
