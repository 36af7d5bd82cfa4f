package reconciler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hashicorp/go-uuid"
	"go.uber.org/multierr"

	"github.com/Sh00ty/projected-grid/internal/metrics"
	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/projection"
)

const (
	allocateRequest = "allocate"
	releaseRequest  = "release"
)

func (r *Reconciler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ReconcileTimeout)
	defer cancel()

	start := time.Now()
	err := r.reconcileAttempt(ctx)
	r.metrics.Duration(metrics.ReconcileDuration, time.Since(start))
	if err != nil {
		r.metrics.Increment(metrics.ReconcileFailed)
		r.log.Error().Err(err).Msg("failed to complete reconciliation, will try later")
		r.delayEvent(Event{Type: RunReconcile}, r.cfg.FailedReconcileDelay)
	}
}

// reconcileAttempt asks for the difference of every projection. Requests
// identical to one sent less than ResendInterval ago are skipped, the
// allocator is expected to be working on them.
func (r *Reconciler) reconcileAttempt(ctx context.Context) error {
	r.log.Debug().Msg("start reconciliation")

	var (
		errs error
		live = make(map[string]struct{})
	)
	for _, p := range r.grid.Projections() {
		live[requestKey(allocateRequest, p.Name())] = struct{}{}
		live[requestKey(releaseRequest, p.Name())] = struct{}{}

		state := p.SatisfyState()
		if state.AllocateData.IsEmpty() {
			delete(r.sent, requestKey(allocateRequest, p.Name()))
		} else {
			errs = multierr.Append(errs, r.requestAllocation(ctx, p, state.AllocateData))
		}
		if len(state.RemoveData) == 0 {
			delete(r.sent, requestKey(releaseRequest, p.Name()))
		} else {
			errs = multierr.Append(errs, r.requestRelease(ctx, p, state.RemoveData))
		}
	}
	for key := range r.sent {
		if _, ok := live[key]; !ok {
			delete(r.sent, key)
		}
	}
	return errs
}

func (r *Reconciler) requestAllocation(ctx context.Context, p projection.Projection, data models.AllocateData) error {
	fingerprint := fmt.Sprintf("any=%d hosts=%v racks=%v", data.Any, data.Hosts, data.Racks)
	return r.send(ctx, allocateRequest, p.Name(), fingerprint, func(ctx context.Context, reqID string) error {
		settings := p.ProjectionData()
		r.metrics.Increment(metrics.AllocationRequested)
		return r.allocator.Allocate(ctx, models.AllocationRequest{
			RequestID:    reqID,
			Projection:   p.Name(),
			Priority:     settings.Priority,
			Memory:       settings.Memory,
			VirtualCores: settings.VirtualCores,
			Allocate:     data,
			Time:         time.Now(),
		})
	})
}

func (r *Reconciler) requestRelease(ctx context.Context, p projection.Projection, members []*models.GridMember) error {
	ids := make([]models.MemberID, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID)
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		parts = append(parts, id.String())
	}
	fingerprint := strings.Join(parts, ",")

	return r.send(ctx, releaseRequest, p.Name(), fingerprint, func(ctx context.Context, reqID string) error {
		r.metrics.Increment(metrics.ReleaseRequested)
		return r.allocator.Release(ctx, models.ReleaseRequest{
			RequestID:  reqID,
			Projection: p.Name(),
			Members:    ids,
			Time:       time.Now(),
		})
	})
}

func (r *Reconciler) send(
	ctx context.Context,
	kind string,
	projectionName string,
	fingerprint string,
	request func(ctx context.Context, reqID string) error,
) error {
	key := requestKey(kind, projectionName)
	if prev, ok := r.sent[key]; ok &&
		prev.fingerprint == fingerprint &&
		time.Since(prev.at) < r.cfg.ResendInterval {

		r.log.Debug().Msgf("%s request for %s already sent at %s", kind, projectionName, prev.at.Format(time.DateTime))
		return nil
	}
	if !r.limiter.Allow() {
		r.log.Warn().Msgf("%s request for %s is rate limited, postponed", kind, projectionName)
		return nil
	}
	reqID, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("failed to generate uuid for request: %w", err)
	}
	err = retry.Do(
		func() error {
			return request(ctx, reqID)
		},
		retry.Context(ctx),
		retry.Attempts(max(r.cfg.RetryAttempts, 1)),
		retry.Delay(r.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			r.log.Warn().Err(err).Msgf("request %s: failed to send %s for %s, attempt: %d", reqID, kind, projectionName, attempt)
		}),
	)
	if err != nil {
		return fmt.Errorf("request %s: %s for projection %s: %w", reqID, kind, projectionName, err)
	}
	r.log.Info().Msgf("request %s: %s sent for %s: %s", reqID, kind, projectionName, fingerprint)
	r.sent[key] = sentRequest{fingerprint: fingerprint, at: time.Now()}
	return nil
}

func requestKey(kind, projectionName string) string {
	return kind + "/" + projectionName
}
