package sender

import (
	"context"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/projected-grid/internal/models"
)

const (
	defaultBatchSize = 64
	publishAttempts  = 3
)

type EventPublisher interface {
	// PublishEvents returns how many events from the head of the slice
	// were published, also on error.
	PublishEvents(ctx context.Context, events []models.GridEvent) (int, error)
}

// SenderControler collects grid events into batches. A batch is published
// when it is full or when no more events are waiting in the channel. Events
// the publisher did not take stay in the backlog and go out ahead of new
// ones on the next resend tick.
type SenderControler struct {
	events        <-chan models.GridEvent
	publisher     EventPublisher
	batchSize     int
	resendTimeout time.Duration

	mu      sync.Mutex
	backlog []models.GridEvent
}

func NewSenderController(
	eventCh <-chan models.GridEvent,
	publisher EventPublisher,
	resendTimeout time.Duration,
) *SenderControler {
	return &SenderControler{
		events:        eventCh,
		publisher:     publisher,
		batchSize:     defaultBatchSize,
		resendTimeout: resendTimeout,
	}
}

func (c *SenderControler) Run(ctx context.Context) {
	resend := time.NewTicker(c.resendTimeout)
	defer resend.Stop()

	batch := make([]models.GridEvent, 0, c.batchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-resend.C:
			c.flushBacklog(ctx)
		case event, ok := <-c.events:
			if !ok {
				return
			}
			batch = c.drain(append(batch[:0], event))
			c.publish(ctx, batch)
		}
	}
}

// drain tops batch up with whatever is already queued, without waiting.
func (c *SenderControler) drain(batch []models.GridEvent) []models.GridEvent {
	for len(batch) < c.batchSize {
		select {
		case event, ok := <-c.events:
			if !ok {
				return batch
			}
			batch = append(batch, event)
		default:
			return batch
		}
	}
	return batch
}

func (c *SenderControler) publish(ctx context.Context, batch []models.GridEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.backlog) > 0 {
		// keep order: new events wait behind older unsent ones
		c.backlog = append(c.backlog, batch...)
		return
	}
	sent := 0
	err := retry.Do(
		func() error {
			done, err := c.publisher.PublishEvents(ctx, batch[sent:])
			sent += done
			return err
		},
		retry.Context(ctx),
		retry.Attempts(publishAttempts),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Error().Err(err).Int("batch", len(batch)).Int("sent", sent).Msg("failed to publish grid events, keep the rest")
		c.backlog = append(c.backlog, batch[sent:]...)
	}
}

func (c *SenderControler) flushBacklog(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.backlog) > 0 {
		chunk := c.backlog[:min(len(c.backlog), c.batchSize)]
		done, err := c.publisher.PublishEvents(ctx, chunk)
		c.backlog = c.backlog[done:]
		if err != nil {
			log.Warn().Err(err).Int("backlog", len(c.backlog)).Msg("failed to publish unsent grid events")
			break
		}
	}
	if len(c.backlog) == 0 {
		c.backlog = nil
	}
}

// Unsent is the number of events waiting for a resend.
func (c *SenderControler) Unsent() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.backlog)
}
