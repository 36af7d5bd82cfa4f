package sender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/projected-grid/internal/models"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []models.GridEvent
	calls     []int
	failing   bool
}

func (f *fakePublisher) PublishEvents(_ context.Context, events []models.GridEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, errors.New("broker unavailable")
	}
	f.published = append(f.published, events...)
	f.calls = append(f.calls, len(events))
	return len(events), nil
}

func (f *fakePublisher) projections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.published))
	for _, ev := range f.published {
		names = append(names, ev.Projection)
	}
	return names
}

func (f *fakePublisher) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestSenderPublishesAndResends(t *testing.T) {
	var (
		events    = make(chan models.GridEvent, 4)
		publisher = &fakePublisher{failing: true}
		sender    = NewSenderController(events, publisher, 20*time.Millisecond)
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.Run(ctx)

	events <- models.GridEvent{Type: models.GridEventMemberAdded}
	require.Eventually(t, func() bool {
		return sender.Unsent() == 1
	}, time.Second, 5*time.Millisecond)

	publisher.setFailing(false)
	require.Eventually(t, func() bool {
		return sender.Unsent() == 0 && publisher.count() == 1
	}, time.Second, 5*time.Millisecond)

	events <- models.GridEvent{Type: models.GridEventMemberRemoved}
	require.Eventually(t, func() bool {
		return publisher.count() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, sender.Unsent())
}

func TestSenderBatchesQueuedEvents(t *testing.T) {
	var (
		events    = make(chan models.GridEvent, 8)
		publisher = &fakePublisher{}
		sender    = NewSenderController(events, publisher, time.Hour)
	)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		events <- models.GridEvent{Type: models.GridEventProjectionAdded, Projection: name}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.Run(ctx)

	require.Eventually(t, func() bool {
		return publisher.count() == 5
	}, time.Second, 5*time.Millisecond)
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Equal(t, []int{5}, publisher.calls)
}

func TestSenderKeepsOrderBehindBacklog(t *testing.T) {
	var (
		events    = make(chan models.GridEvent, 4)
		publisher = &fakePublisher{failing: true}
		sender    = NewSenderController(events, publisher, 50*time.Millisecond)
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sender.Run(ctx)

	events <- models.GridEvent{Type: models.GridEventProjectionAdded, Projection: "first"}
	require.Eventually(t, func() bool {
		return sender.Unsent() == 1
	}, time.Second, 5*time.Millisecond)

	// the publisher is back but the backlog has not been flushed yet
	publisher.setFailing(false)
	events <- models.GridEvent{Type: models.GridEventProjectionAdded, Projection: "second"}

	require.Eventually(t, func() bool {
		return publisher.count() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, publisher.projections())
	assert.Zero(t, sender.Unsent())
}
