package projectedgrid

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/projected-grid/internal/grid"
	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/projection"
	"github.com/Sh00ty/projected-grid/internal/rack"
)

var (
	ErrNilGrid       = errors.New("grid must not be nil")
	ErrNilProjection = errors.New("projection must not be nil")
)

// ProjectedGrid lets projections claim workers of a grid. Every candidate is
// offered to projections in priority order and admitted only when one of
// them accepts it. Workers leaving the grid leave their projection as well.
type ProjectedGrid struct {
	grid     *grid.Grid
	resolver rack.Resolver

	mu          sync.RWMutex
	projections map[string]projection.Projection

	// accepted remembers which projection claimed a member between the
	// interceptor and the grid's member-added event.
	acceptedMu sync.Mutex
	accepted   map[models.MemberID]projection.Projection

	listeners listeners
}

// New wraps g. The resolver is handed to projections created through
// ApplyProjectionData and may be nil.
func New(g *grid.Grid, resolver rack.Resolver) (*ProjectedGrid, error) {
	if g == nil {
		return nil, ErrNilGrid
	}
	pg := &ProjectedGrid{
		grid:        g,
		resolver:    resolver,
		projections: make(map[string]projection.Projection),
		accepted:    make(map[models.MemberID]projection.Projection),
	}
	err := g.AddInterceptor(grid.InterceptorFunc(pg.acceptInterceptor))
	if err != nil {
		return nil, fmt.Errorf("failed to register projection interceptor: %w", err)
	}
	// any interceptor after ours could admit members no projection claimed
	g.LockInterceptors()
	err = g.AddListener(grid.ListenerFuncs{
		OnMemberAdded:   pg.handleMemberAdded,
		OnMemberRemoved: pg.handleMemberRemoved,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register projection listener: %w", err)
	}
	return pg, nil
}

// Grid returns the wrapped registry. Its interceptor chain is locked.
func (pg *ProjectedGrid) Grid() *grid.Grid {
	return pg.grid
}

func (pg *ProjectedGrid) AddMember(member *models.GridMember) (bool, error) {
	return pg.grid.AddMember(member)
}

func (pg *ProjectedGrid) RemoveMember(id models.MemberID) (bool, error) {
	return pg.grid.RemoveMember(id)
}

// AddProjection returns false when a projection with the same name exists.
func (pg *ProjectedGrid) AddProjection(p projection.Projection) (bool, error) {
	if p == nil {
		return false, ErrNilProjection
	}
	pg.mu.Lock()
	if _, exists := pg.projections[p.Name()]; exists {
		pg.mu.Unlock()
		return false, nil
	}
	pg.projections[p.Name()] = p
	pg.mu.Unlock()

	log.Info().Msgf("projection %s added: %s", p.Name(), p.ProjectionData())
	pg.listeners.projectionAdded(p)
	return true, nil
}

// RemoveProjection forgets p. Its members stay in the grid, see EvictProjection.
func (pg *ProjectedGrid) RemoveProjection(p projection.Projection) (bool, error) {
	if p == nil {
		return false, ErrNilProjection
	}
	pg.mu.Lock()
	current, exists := pg.projections[p.Name()]
	if !exists || current != p {
		pg.mu.Unlock()
		return false, nil
	}
	delete(pg.projections, p.Name())
	pg.mu.Unlock()

	log.Info().Msgf("projection %s removed", p.Name())
	pg.listeners.projectionRemoved(p)
	return true, nil
}

// EvictProjection removes p and then removes each of its members from the
// grid and from p itself.
func (pg *ProjectedGrid) EvictProjection(p projection.Projection) (bool, error) {
	removed, err := pg.RemoveProjection(p)
	if err != nil || !removed {
		return removed, err
	}
	for _, member := range p.Members() {
		if _, err := pg.grid.RemoveMember(member.ID); err != nil {
			return true, fmt.Errorf("failed to evict member %s of projection %s: %w", member.ID, p.Name(), err)
		}
		if evicted, ok := p.RemoveMember(member); ok {
			pg.listeners.memberRemoved(p, evicted)
		}
	}
	return true, nil
}

// ApplyProjectionData creates the named projection or replaces the desired
// state of the existing one. A type change replaces the projection and
// evicts the members of the old one.
func (pg *ProjectedGrid) ApplyProjectionData(name string, data models.ProjectionData) (projection.Projection, error) {
	if current, exists := pg.Projection(name); exists {
		if data.Type == "" || data.Type == current.Type() {
			current.SetProjectionData(data)
			log.Info().Msgf("projection %s desired state updated: %s", name, data)
			return current, nil
		}
		log.Warn().Msgf("projection %s changes type from %s to %s", name, current.Type(), data.Type)
		if _, err := pg.EvictProjection(current); err != nil {
			return nil, err
		}
	}
	p, err := projection.New(name, data, pg.resolver)
	if err != nil {
		return nil, fmt.Errorf("failed to create projection %s: %w", name, err)
	}
	added, err := pg.AddProjection(p)
	if err != nil {
		return nil, err
	}
	if !added {
		// lost a race against a concurrent apply of the same name
		existing, _ := pg.Projection(name)
		return existing, nil
	}
	return p, nil
}

func (pg *ProjectedGrid) Projection(name string) (projection.Projection, bool) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	p, exists := pg.projections[name]
	return p, exists
}

// Projections returns projections in the order candidates are offered to them.
func (pg *ProjectedGrid) Projections() []projection.Projection {
	pg.mu.RLock()
	result := make([]projection.Projection, 0, len(pg.projections))
	for _, p := range pg.projections {
		result = append(result, p)
	}
	pg.mu.RUnlock()

	slices.SortFunc(result, projection.ByPriority)
	return result
}

func (pg *ProjectedGrid) AddListener(listener Listener) error {
	if listener == nil {
		return grid.ErrNilListener
	}
	pg.listeners.register(listener)
	return nil
}

func (pg *ProjectedGrid) acceptInterceptor(member *models.GridMember, _ *grid.Grid) (*models.GridMember, bool) {
	for _, p := range pg.Projections() {
		if !p.AcceptMember(member) {
			continue
		}
		pg.acceptedMu.Lock()
		pg.accepted[member.ID] = p
		pg.acceptedMu.Unlock()
		return member, true
	}
	log.Debug().Msgf("no projection accepted member %s", member)
	return nil, false
}

func (pg *ProjectedGrid) handleMemberAdded(member *models.GridMember) {
	pg.acceptedMu.Lock()
	p, ok := pg.accepted[member.ID]
	delete(pg.accepted, member.ID)
	pg.acceptedMu.Unlock()

	if ok {
		pg.listeners.memberAdded(p, member)
	}
}

func (pg *ProjectedGrid) handleMemberRemoved(member *models.GridMember) {
	for _, p := range pg.Projections() {
		if removed, ok := p.RemoveMember(member); ok {
			pg.listeners.memberRemoved(p, removed)
		}
	}
}
