package metrics

import (
	"github.com/Sh00ty/projected-grid/internal/grid"
	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/projection"
)

// GridListener counts grid membership changes.
type GridListener struct {
	metrics Metrics
	grid    *grid.Grid
}

func NewGridListener(m Metrics, g *grid.Grid) *GridListener {
	return &GridListener{metrics: m, grid: g}
}

func (l *GridListener) MemberAdded(*models.GridMember) {
	l.metrics.Increment(GridMemberAdded)
	l.metrics.Gauge(GridSize, l.grid.Size())
}

func (l *GridListener) MemberRemoved(*models.GridMember) {
	l.metrics.Increment(GridMemberRemoved)
	l.metrics.Gauge(GridSize, l.grid.Size())
}

// ProjectionListener counts projection lifecycle and keeps a membership
// gauge per projection.
type ProjectionListener struct {
	metrics Metrics
}

func NewProjectionListener(m Metrics) *ProjectionListener {
	return &ProjectionListener{metrics: m}
}

func (l *ProjectionListener) ProjectionAdded(p projection.Projection) {
	l.metrics.Increment(ProjectionAdded)
	l.metrics.Gauge(ProjectionMembers(p.Name()), len(p.Members()))
}

func (l *ProjectionListener) ProjectionRemoved(p projection.Projection) {
	l.metrics.Increment(ProjectionRemoved)
	l.metrics.Gauge(ProjectionMembers(p.Name()), 0)
}

func (l *ProjectionListener) MemberAdded(p projection.Projection, _ *models.GridMember) {
	l.metrics.Increment(ProjectionMemberAdded)
	l.metrics.Gauge(ProjectionMembers(p.Name()), len(p.Members()))
}

func (l *ProjectionListener) MemberRemoved(p projection.Projection, _ *models.GridMember) {
	l.metrics.Increment(ProjectionMemberRemoved)
	l.metrics.Gauge(ProjectionMembers(p.Name()), len(p.Members()))
}
