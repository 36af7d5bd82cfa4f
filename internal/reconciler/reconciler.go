package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sh00ty/projected-grid/internal/metrics"
	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/projection"
)

type EventType string

const (
	MemberJoined EventType = "member-joined"
	MemberLeft   EventType = "member-left"
	RunReconcile EventType = "run-reconcile"
)

type Allocator interface {
	Allocate(ctx context.Context, req models.AllocationRequest) error
	Release(ctx context.Context, req models.ReleaseRequest) error
}

type ProjectedGrid interface {
	AddMember(member *models.GridMember) (bool, error)
	RemoveMember(id models.MemberID) (bool, error)
	Projections() []projection.Projection
}

type Config struct {
	MemberLostDelay        time.Duration `envconfig:"MEMBER_LOST_DELAY,default=10s"`
	ForceReconcileInterval time.Duration `envconfig:"FORCE_RECONCILE_INTERVAL,default=30s"`
	ReconcileTimeout       time.Duration `envconfig:"RECONCILE_TIMEOUT,default=10s"`
	FailedReconcileDelay   time.Duration `envconfig:"FAILED_RECONCILE_DELAY,default=30s"`
	ResendInterval         time.Duration `envconfig:"RESEND_INTERVAL,default=1m"`
	RequestsPerSecond      float64       `envconfig:"REQUESTS_PER_SECOND,default=20"`
	RequestsBurst          int           `envconfig:"REQUESTS_BURST,default=40"`
	RetryAttempts          uint          `envconfig:"RETRY_ATTEMPTS,default=3"`
	RetryDelay             time.Duration `envconfig:"RETRY_DELAY,default=100ms"`
}

type Event struct {
	Type   EventType
	ID     models.MemberID
	Member *models.GridMember

	// local timestamp of the event, lets a delayed event find out
	// whether something newer happened to the member after it was scheduled
	timestamp uint64
}

func (e Event) String() string {
	if e.ID != "" {
		return fmt.Sprintf("{type=%s, member_id=%s}", e.Type, e.ID)
	}
	return fmt.Sprintf("{type=%s}", e.Type)
}

type memberStatus struct {
	lastEvent EventType
	timestamp uint64
}

type sentRequest struct {
	fingerprint string
	at          time.Time
}

// Reconciler feeds membership changes into the projected grid and asks the
// allocator to close the gap between desired and tracked membership.
type Reconciler struct {
	grid      ProjectedGrid
	allocator Allocator
	metrics   metrics.Metrics
	cfg       Config

	members        map[models.MemberID]memberStatus
	sent           map[string]sentRequest
	eventTimestamp uint64

	eventCh              chan models.MemberShipEvent
	reconcileCh          chan struct{}
	forceReconcileTicker *time.Ticker
	delayEventTimer      *time.Timer
	delayed              delayQueue
	delaySeq             uint64
	limiter              *rate.Limiter

	log zerolog.Logger
}

func NewReconciler(
	grid ProjectedGrid,
	allocator Allocator,
	m metrics.Metrics,
	cfg Config,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		grid:      grid,
		allocator: allocator,
		metrics:   m,
		cfg:       cfg,

		members: make(map[models.MemberID]memberStatus),
		sent:    make(map[string]sentRequest),

		eventCh:              make(chan models.MemberShipEvent, 1024),
		reconcileCh:          make(chan struct{}, 1),
		forceReconcileTicker: time.NewTicker(cfg.ForceReconcileInterval),
		delayEventTimer:      time.NewTimer(time.Minute),
		limiter:              rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsBurst),

		eventTimestamp: 1,

		log: logger.With().Str("component", "reconciler").Logger(),
	}
}

func (r *Reconciler) GetEventsChan() chan models.MemberShipEvent {
	return r.eventCh
}

// RequestReconcile schedules a reconciliation without blocking the caller.
func (r *Reconciler) RequestReconcile() {
	select {
	case r.reconcileCh <- struct{}{}:
	default:
	}
}

func (r *Reconciler) RunReconciler(ctx context.Context) error {
	defer r.forceReconcileTicker.Stop()
	defer r.delayEventTimer.Stop()

	r.reconcile()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msEvent, ok := <-r.eventCh:
			if !ok {
				return nil
			}
			r.metrics.Increment(metrics.MembershipEventsReceived)
			event, ok := r.toEvent(msEvent)
			if !ok {
				continue
			}
			r.log.Info().Msgf("got new event: %v", event)
			r.processIncomingEvent(event, true)
		case <-r.reconcileCh:
			r.reconcile()
		case <-r.delayEventTimer.C:
			r.handleDelayedEvent()
		case <-r.forceReconcileTicker.C:
			r.reconcile()
		}
	}
}

func (r *Reconciler) toEvent(msEvent models.MemberShipEvent) (Event, bool) {
	r.eventTimestamp++
	event := Event{
		ID:        msEvent.ID,
		Member:    msEvent.Member,
		timestamp: r.eventTimestamp,
	}
	switch msEvent.Type {
	case models.MemberShipJoined:
		if msEvent.Member == nil {
			r.log.Error().Msgf("joined event of %s without member, skip", msEvent.ID)
			return Event{}, false
		}
		event.Type = MemberJoined
		if event.ID == "" {
			event.ID = msEvent.Member.ID
		}
	case models.MemberShipLeft:
		event.Type = MemberLeft
	default:
		r.log.Warn().Msgf("unknown membership event %s of %s, skip", msEvent.Type, msEvent.ID)
		return Event{}, false
	}
	return event, true
}

func (r *Reconciler) processIncomingEvent(event Event, canSchedule bool) {
	switch event.Type {
	case MemberLeft:
		if !canSchedule || r.cfg.MemberLostDelay <= 0 {
			r.handleMemberLeft(event)
			return
		}
		r.delayEvent(event, r.cfg.MemberLostDelay)
	case MemberJoined:
		r.handleMemberJoined(event)
	case RunReconcile:
		r.reconcile()
	}
}

func (r *Reconciler) handleMemberJoined(event Event) {
	status := r.members[event.ID]
	status.lastEvent = event.Type
	status.timestamp = max(event.timestamp, status.timestamp)
	r.members[event.ID] = status

	added, err := r.grid.AddMember(event.Member)
	if err != nil {
		r.log.Error().Err(err).Msgf("failed to add member %s", event.ID)
		return
	}
	if !added {
		r.log.Info().Msgf("member %s was not admitted: already known or no projection wants it", event.ID)
		return
	}
	r.reconcile()
}

func (r *Reconciler) handleMemberLeft(event Event) {
	status, known := r.members[event.ID]
	// a delayed event loses against a join observed after it was scheduled
	if known &&
		status.lastEvent == MemberJoined &&
		status.timestamp > event.timestamp {

		r.log.Warn().Msgf("skip left event of %s: member joined again", event.ID)
		return
	}
	delete(r.members, event.ID)

	removed, err := r.grid.RemoveMember(event.ID)
	if err != nil {
		r.log.Error().Err(err).Msgf("failed to remove member %s", event.ID)
		return
	}
	if !removed {
		r.log.Info().Msgf("skip event %s, member is not in grid", event)
		return
	}
	r.reconcile()
}
