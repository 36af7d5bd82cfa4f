package projectedgrid

import (
	"slices"
	"sync"

	"github.com/Sh00ty/projected-grid/internal/grid"
	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/projection"
)

type Listener interface {
	ProjectionAdded(p projection.Projection)
	ProjectionRemoved(p projection.Projection)
	MemberAdded(p projection.Projection, member *models.GridMember)
	MemberRemoved(p projection.Projection, member *models.GridMember)
}

// ListenerFuncs adapts plain functions to Listener, nil funcs are skipped.
type ListenerFuncs struct {
	OnProjectionAdded   func(p projection.Projection)
	OnProjectionRemoved func(p projection.Projection)
	OnMemberAdded       func(p projection.Projection, member *models.GridMember)
	OnMemberRemoved     func(p projection.Projection, member *models.GridMember)
}

func (f ListenerFuncs) ProjectionAdded(p projection.Projection) {
	if f.OnProjectionAdded != nil {
		f.OnProjectionAdded(p)
	}
}

func (f ListenerFuncs) ProjectionRemoved(p projection.Projection) {
	if f.OnProjectionRemoved != nil {
		f.OnProjectionRemoved(p)
	}
}

func (f ListenerFuncs) MemberAdded(p projection.Projection, member *models.GridMember) {
	if f.OnMemberAdded != nil {
		f.OnMemberAdded(p, member)
	}
}

func (f ListenerFuncs) MemberRemoved(p projection.Projection, member *models.GridMember) {
	if f.OnMemberRemoved != nil {
		f.OnMemberRemoved(p, member)
	}
}

type listeners struct {
	mu   sync.RWMutex
	list []Listener
}

func (l *listeners) register(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.list = append(l.list, listener)
}

func (l *listeners) each(event string, fn func(Listener)) {
	l.mu.RLock()
	list := slices.Clone(l.list)
	l.mu.RUnlock()

	for _, listener := range list {
		grid.Deliver(event, func() { fn(listener) })
	}
}

func (l *listeners) projectionAdded(p projection.Projection) {
	l.each("projection-added", func(listener Listener) { listener.ProjectionAdded(p) })
}

func (l *listeners) projectionRemoved(p projection.Projection) {
	l.each("projection-removed", func(listener Listener) { listener.ProjectionRemoved(p) })
}

func (l *listeners) memberAdded(p projection.Projection, member *models.GridMember) {
	l.each("projection-member-added", func(listener Listener) { listener.MemberAdded(p, member) })
}

func (l *listeners) memberRemoved(p projection.Projection, member *models.GridMember) {
	l.each("projection-member-removed", func(listener Listener) { listener.MemberRemoved(p, member) })
}
