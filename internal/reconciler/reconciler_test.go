package reconciler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/projected-grid/internal/grid"
	"github.com/Sh00ty/projected-grid/internal/metrics"
	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/projectedgrid"
)

type fakeAllocator struct {
	mu          sync.Mutex
	allocations []models.AllocationRequest
	releases    []models.ReleaseRequest
	err         error
}

func (f *fakeAllocator) Allocate(_ context.Context, req models.AllocationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.allocations = append(f.allocations, req)
	return nil
}

func (f *fakeAllocator) Release(_ context.Context, req models.ReleaseRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.releases = append(f.releases, req)
	return nil
}

func (f *fakeAllocator) allocated() []models.AllocationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AllocationRequest(nil), f.allocations...)
}

type fakeMetrics struct {
	mu       sync.Mutex
	counters map[string]int
}

func (f *fakeMetrics) Increment(metric string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[metric]++
}

func (f *fakeMetrics) Duration(string, time.Duration) {}

func (f *fakeMetrics) Gauge(string, int) {}

func (f *fakeMetrics) count(metric string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[metric]
}

func testConfig() Config {
	return Config{
		MemberLostDelay:        time.Hour,
		ForceReconcileInterval: time.Hour,
		ReconcileTimeout:       time.Second,
		FailedReconcileDelay:   time.Hour,
		ResendInterval:         time.Hour,
		RequestsPerSecond:      1000,
		RequestsBurst:          1000,
		RetryAttempts:          1,
		RetryDelay:             time.Millisecond,
	}
}

type fixture struct {
	pg        *projectedgrid.ProjectedGrid
	allocator *fakeAllocator
	metrics   *fakeMetrics
	rec       *Reconciler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	pg, err := projectedgrid.New(grid.New(), nil)
	require.NoError(t, err)
	_, err = pg.ApplyProjectionData("pool", models.ProjectionData{
		Type:     models.ProjectionAny,
		Any:      2,
		Priority: models.Ptr(0),
		Memory:   models.Ptr(int64(512)),
	})
	require.NoError(t, err)

	f := &fixture{
		pg:        pg,
		allocator: &fakeAllocator{},
		metrics:   &fakeMetrics{counters: map[string]int{}},
	}
	f.rec = NewReconciler(pg, f.allocator, f.metrics, cfg, zerolog.Nop())
	return f
}

func joined(id string) models.MemberShipEvent {
	return models.MemberShipEvent{
		Type:   models.MemberShipJoined,
		ID:     models.MemberID(id),
		Member: &models.GridMember{ID: models.MemberID(id), Host: "h1"},
	}
}

func left(id string) models.MemberShipEvent {
	return models.MemberShipEvent{Type: models.MemberShipLeft, ID: models.MemberID(id)}
}

func (f *fixture) process(t *testing.T, msEvent models.MemberShipEvent, canSchedule bool) {
	t.Helper()
	event, ok := f.rec.toEvent(msEvent)
	require.True(t, ok)
	f.rec.processIncomingEvent(event, canSchedule)
}

func TestJoinedMemberTriggersAllocation(t *testing.T) {
	f := newFixture(t, testConfig())

	f.process(t, joined("c1"), true)

	assert.Equal(t, 1, f.pg.Grid().Size())
	allocations := f.allocator.allocated()
	require.Len(t, allocations, 1)
	assert.Equal(t, "pool", allocations[0].Projection)
	assert.Equal(t, 1, allocations[0].Allocate.Any)
	assert.Equal(t, int64(512), *allocations[0].Memory)
	assert.NotEmpty(t, allocations[0].RequestID)
}

func TestSameRequestIsNotResent(t *testing.T) {
	f := newFixture(t, testConfig())

	f.rec.reconcile()
	f.rec.reconcile()
	require.Len(t, f.allocator.allocated(), 1)

	_, err := f.pg.ApplyProjectionData("pool", models.ProjectionData{Any: 3})
	require.NoError(t, err)
	f.rec.reconcile()

	allocations := f.allocator.allocated()
	require.Len(t, allocations, 2)
	assert.Equal(t, 3, allocations[1].Allocate.Any)
	assert.NotEqual(t, allocations[0].RequestID, allocations[1].RequestID)
}

func TestResendAfterInterval(t *testing.T) {
	cfg := testConfig()
	cfg.ResendInterval = 0
	f := newFixture(t, cfg)

	f.rec.reconcile()
	f.rec.reconcile()
	assert.Len(t, f.allocator.allocated(), 2)
}

func TestLeftIsDelayed(t *testing.T) {
	f := newFixture(t, testConfig())
	f.process(t, joined("c1"), true)

	f.process(t, left("c1"), true)
	assert.Equal(t, 1, f.pg.Grid().Size(), "left waits for the grace period")
	assert.Equal(t, 1, f.rec.delayed.Len())

	f.process(t, left("c1"), false)
	assert.Equal(t, 0, f.pg.Grid().Size())
}

func TestDelayedLeftSkippedAfterRejoin(t *testing.T) {
	f := newFixture(t, testConfig())
	f.process(t, joined("c1"), true)

	leftEvent, ok := f.rec.toEvent(left("c1"))
	require.True(t, ok)
	f.rec.processIncomingEvent(leftEvent, true)

	f.process(t, joined("c1"), true)

	f.rec.processIncomingEvent(leftEvent, false)
	assert.Equal(t, 1, f.pg.Grid().Size(), "member joined after left was scheduled")
}

func TestSurplusMembersReleased(t *testing.T) {
	f := newFixture(t, testConfig())
	f.process(t, joined("c1"), true)
	f.process(t, joined("c2"), true)

	_, err := f.pg.ApplyProjectionData("pool", models.ProjectionData{Any: 1})
	require.NoError(t, err)
	f.rec.reconcile()
	f.rec.reconcile()

	f.allocator.mu.Lock()
	defer f.allocator.mu.Unlock()
	require.Len(t, f.allocator.releases, 1)
	assert.Equal(t, []models.MemberID{"c1"}, f.allocator.releases[0].Members)
	assert.Equal(t, 1, f.metrics.count(metrics.ReleaseRequested))
}

func TestFailedReconcileIsRetriedLater(t *testing.T) {
	f := newFixture(t, testConfig())
	f.allocator.err = errors.New("broker unavailable")

	f.rec.reconcile()
	assert.Equal(t, 1, f.metrics.count(metrics.ReconcileFailed))
	require.Equal(t, 1, f.rec.delayed.Len())
	assert.Equal(t, RunReconcile, f.rec.delayed[0].ev.Type)

	f.allocator.err = nil
	f.rec.reconcile()
	assert.Len(t, f.allocator.allocated(), 1, "failed request is not remembered as sent")
}

func TestDelayedEventsOrdered(t *testing.T) {
	f := newFixture(t, testConfig())
	f.rec.delayEvent(Event{Type: MemberLeft, ID: "late"}, time.Hour)
	f.rec.delayEvent(Event{Type: MemberLeft, ID: "early"}, time.Minute)
	f.rec.delayEvent(Event{Type: MemberLeft, ID: "middle"}, 30*time.Minute)

	ids := []models.MemberID{}
	for f.rec.delayed.Len() > 0 {
		ids = append(ids, heap.Pop(&f.rec.delayed).(delayedEvent).ev.ID)
	}
	assert.Equal(t, []models.MemberID{"early", "middle", "late"}, ids)
}

func TestUnknownEventsSkipped(t *testing.T) {
	f := newFixture(t, testConfig())
	_, ok := f.rec.toEvent(models.MemberShipEvent{Type: models.MemberShipUnknown, ID: "c1"})
	assert.False(t, ok)
	_, ok = f.rec.toEvent(models.MemberShipEvent{Type: models.MemberShipJoined, ID: "c1"})
	assert.False(t, ok, "joined without member")
}

func TestRunReconciler(t *testing.T) {
	cfg := testConfig()
	cfg.MemberLostDelay = 20 * time.Millisecond
	f := newFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.rec.RunReconciler(ctx)
	}()

	f.rec.GetEventsChan() <- joined("c1")
	require.Eventually(t, func() bool {
		return f.pg.Grid().Size() == 1
	}, time.Second, 5*time.Millisecond)

	f.rec.GetEventsChan() <- left("c1")
	require.Eventually(t, func() bool {
		return f.pg.Grid().Size() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 2, f.metrics.count(metrics.MembershipEventsReceived))
	assert.NotEmpty(t, f.allocator.allocated())
}
