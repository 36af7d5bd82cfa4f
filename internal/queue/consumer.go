package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Sh00ty/projected-grid/internal/models"
)

// containerEvent is what the resource manager reports about containers it
// started or that completed.
type containerEvent struct {
	Type   string             `json:"type"`
	ID     models.MemberID    `json:"id"`
	Member *models.GridMember `json:"member,omitempty"`
}

const (
	containerAllocated = "allocated"
	containerCompleted = "completed"
)

type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// MembershipConsumer turns resource manager reports into membership events.
//
// The registry lives only in memory, so every start reads each partition of
// the membership topic from its first offset and never commits. The topic
// is expected to be compacted by container id: the latest report of every
// container is enough to rebuild the member set.
type MembershipConsumer struct {
	readers []partitionReader
}

type partitionReader struct {
	partition int
	reader    messageFetcher
}

func NewMembershipConsumer(ctx context.Context, cfg Config) (*MembershipConsumer, error) {
	partitions, err := topicPartitions(ctx, cfg.Brokers, cfg.MembershipTopic)
	if err != nil {
		return nil, err
	}
	readers := make([]partitionReader, 0, len(partitions))
	for _, partition := range partitions {
		readers = append(readers, partitionReader{
			partition: partition,
			reader: kafka.NewReader(kafka.ReaderConfig{
				Brokers:     cfg.Brokers,
				Topic:       cfg.MembershipTopic,
				Partition:   partition,
				MaxBytes:    10 * 1024 * 1024,
				StartOffset: kafka.FirstOffset,
			}),
		})
	}
	return &MembershipConsumer{readers: readers}, nil
}

func topicPartitions(ctx context.Context, brokers []string, topic string) ([]int, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no queue brokers configured")
	}
	var lastErr error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		partitions, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		ids := make([]int, 0, len(partitions))
		for _, p := range partitions {
			ids = append(ids, p.ID)
		}
		slices.Sort(ids)
		return ids, nil
	}
	return nil, fmt.Errorf("failed to read partitions of %s: %w", topic, lastErr)
}

// Run replays every partition and then follows it until ctx is done.
func (c *MembershipConsumer) Run(ctx context.Context, notify chan<- models.MemberShipEvent) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, pr := range c.readers {
		eg.Go(func() error {
			return consume(ctx, pr.partition, pr.reader, notify)
		})
	}
	return eg.Wait()
}

func consume(ctx context.Context, partition int, reader messageFetcher, notify chan<- models.MemberShipEvent) error {
	logger := log.With().Int("partition", partition).Logger()
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch membership message from partition %d: %w", partition, err)
		}
		event, err := decodeMembership(msg.Value)
		if err != nil {
			logger.Error().Err(err).Msgf("skipping membership message at offset %d", msg.Offset)
			continue
		}
		select {
		case notify <- event:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *MembershipConsumer) Close() error {
	var err error
	for _, pr := range c.readers {
		err = multierr.Append(err, pr.reader.Close())
	}
	return err
}

func decodeMembership(raw []byte) (models.MemberShipEvent, error) {
	msg := containerEvent{}
	err := json.Unmarshal(raw, &msg)
	if err != nil {
		return models.MemberShipEvent{}, fmt.Errorf("failed to decode message from json: %w", err)
	}
	switch msg.Type {
	case containerAllocated:
		if msg.Member == nil || msg.Member.ID == "" {
			return models.MemberShipEvent{}, fmt.Errorf("allocated container without member")
		}
		return models.MemberShipEvent{
			Type:   models.MemberShipJoined,
			ID:     msg.Member.ID,
			Member: msg.Member,
		}, nil
	case containerCompleted:
		id := msg.ID
		if id == "" && msg.Member != nil {
			id = msg.Member.ID
		}
		if id == "" {
			return models.MemberShipEvent{}, fmt.Errorf("completed container without id")
		}
		return models.MemberShipEvent{
			Type: models.MemberShipLeft,
			ID:   id,
		}, nil
	}
	return models.MemberShipEvent{}, fmt.Errorf("unknown container event type %q", msg.Type)
}
