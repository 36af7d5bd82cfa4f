package etcd

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"

	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/projection"
)

type ProjectionApplier interface {
	ApplyProjectionData(name string, data models.ProjectionData) (projection.Projection, error)
	Projection(name string) (projection.Projection, bool)
	EvictProjection(p projection.Projection) (bool, error)
}

// ProjectionChangeHandler keeps projections in line with their durable
// definitions overlaid by the overrides stored in etcd.
type ProjectionChangeHandler struct {
	applier ProjectionApplier

	mu        sync.Mutex
	base      map[string]models.ProjectionData
	overrides map[string]models.ProjectionData
}

func NewProjectionChangeHandler(applier ProjectionApplier, base map[string]models.ProjectionData) *ProjectionChangeHandler {
	h := &ProjectionChangeHandler{
		applier:   applier,
		base:      make(map[string]models.ProjectionData, len(base)),
		overrides: make(map[string]models.ProjectionData),
	}
	for name, data := range base {
		h.base[name] = data.Clone()
	}
	return h
}

// Sync applies every known projection once, overrides come from the initial read.
func (h *ProjectionChangeHandler) Sync(overrides map[string]models.ProjectionData) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, data := range overrides {
		h.overrides[name] = data.Clone()
	}
	names := make([]string, 0, len(h.base)+len(h.overrides))
	for name := range h.base {
		names = append(names, name)
	}
	for name := range h.overrides {
		if _, ok := h.base[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var errs error
	for _, name := range names {
		errs = multierr.Append(errs, h.apply(name))
	}
	return errs
}

func (h *ProjectionChangeHandler) Handle(ctx context.Context, events []*clientv3.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs error
	for _, event := range events {
		if event.Kv == nil {
			continue
		}
		switch event.Type {
		case mvccpb.PUT:
			name, data, err := parseProjection(event.Kv)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			h.overrides[name] = data
			errs = multierr.Append(errs, h.apply(name))
		case mvccpb.DELETE:
			name, err := parseProjectionName(event.Kv)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			delete(h.overrides, name)
			errs = multierr.Append(errs, h.apply(name))
		}
	}
	return errs
}

// apply expects mu held.
func (h *ProjectionChangeHandler) apply(name string) error {
	base, hasBase := h.base[name]
	override, hasOverride := h.overrides[name]
	if !hasBase && !hasOverride {
		current, exists := h.applier.Projection(name)
		if !exists {
			return nil
		}
		log.Info().Msgf("projection %s is not defined anymore, evicting", name)
		if _, err := h.applier.EvictProjection(current); err != nil {
			return fmt.Errorf("failed to evict projection %s: %w", name, err)
		}
		return nil
	}
	data := base.Merge(override)
	if _, err := h.applier.ApplyProjectionData(name, data); err != nil {
		return fmt.Errorf("failed to apply projection %s: %w", name, err)
	}
	return nil
}
