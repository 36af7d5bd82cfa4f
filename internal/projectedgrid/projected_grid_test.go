package projectedgrid

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/projected-grid/internal/grid"
	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/projection"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) listener() Listener {
	return ListenerFuncs{
		OnProjectionAdded:   func(p projection.Projection) { r.record("projection+%s", p.Name()) },
		OnProjectionRemoved: func(p projection.Projection) { r.record("projection-%s", p.Name()) },
		OnMemberAdded: func(p projection.Projection, m *models.GridMember) {
			r.record("member+%s/%s", p.Name(), m.ID)
		},
		OnMemberRemoved: func(p projection.Projection, m *models.GridMember) {
			r.record("member-%s/%s", p.Name(), m.ID)
		},
	}
}

func worker(id string, host string, priority int) *models.GridMember {
	return &models.GridMember{ID: models.MemberID(id), Host: host, Priority: priority}
}

func anyProjection(name string, count, priority int) projection.Projection {
	return projection.NewAny(name, models.ProjectionData{Any: count, Priority: models.Ptr(priority)})
}

func newProjectedGrid(t *testing.T) (*ProjectedGrid, *recorder) {
	t.Helper()
	pg, err := New(grid.New(), nil)
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, pg.AddListener(rec.listener()))
	return pg, rec
}

func TestNewNilGrid(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilGrid)
}

func TestAddRemoveProjection(t *testing.T) {
	pg, rec := newProjectedGrid(t)
	p := anyProjection("pool", 1, 0)

	added, err := pg.AddProjection(p)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = pg.AddProjection(anyProjection("pool", 5, 0))
	require.NoError(t, err)
	assert.False(t, added, "name already taken")

	_, err = pg.AddProjection(nil)
	assert.ErrorIs(t, err, ErrNilProjection)

	removed, err := pg.RemoveProjection(anyProjection("pool", 1, 0))
	require.NoError(t, err)
	assert.False(t, removed, "other instance with the same name")

	removed, err = pg.RemoveProjection(p)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, pg.Projections())
	assert.Equal(t, []string{"projection+pool", "projection-pool"}, rec.events)
}

func TestMemberClaimedByLowestPriorityValue(t *testing.T) {
	pg, rec := newProjectedGrid(t)
	first := projection.NewAny("first", models.ProjectionData{Any: 1, Priority: models.Ptr(1)})
	second := projection.NewAny("second", models.ProjectionData{Any: 1, Priority: models.Ptr(1)})
	other := projection.NewAny("other", models.ProjectionData{Any: 5, Priority: models.Ptr(2)})
	for _, p := range []projection.Projection{other, second, first} {
		_, err := pg.AddProjection(p)
		require.NoError(t, err)
	}
	rec.events = nil

	for _, w := range []*models.GridMember{worker("c1", "h", 1), worker("c2", "h", 1), worker("c3", "h", 1)} {
		_, err := pg.AddMember(w)
		require.NoError(t, err)
	}
	added, err := pg.AddMember(worker("c4", "h", 2))
	require.NoError(t, err)
	assert.True(t, added)

	assert.Len(t, first.Members(), 1)
	assert.Len(t, second.Members(), 1)
	assert.Len(t, other.Members(), 1)
	assert.Equal(t, 3, pg.Grid().Size(), "c3 has nowhere to go")
	_, exists := pg.Grid().Member("c3")
	assert.False(t, exists)
	assert.Equal(t, []string{"member+first/c1", "member+second/c2", "member+other/c4"}, rec.events)
}

func TestInterceptorChainLockedAfterNew(t *testing.T) {
	pg, _ := newProjectedGrid(t)
	_, err := pg.AddProjection(anyProjection("pool", 1, 0))
	require.NoError(t, err)

	admitAll := grid.InterceptorFunc(func(m *models.GridMember, _ *grid.Grid) (*models.GridMember, bool) {
		return m, true
	})
	assert.ErrorIs(t, pg.Grid().SetInterceptors([]grid.Interceptor{admitAll}), grid.ErrChainLocked)
	assert.ErrorIs(t, pg.Grid().AddInterceptor(admitAll), grid.ErrChainLocked)
	assert.Len(t, pg.Grid().Interceptors(), 1)

	_, err = pg.AddMember(worker("c1", "h", 0))
	require.NoError(t, err)
	added, err := pg.AddMember(worker("c2", "h", 0))
	require.NoError(t, err)
	assert.False(t, added, "pool is full and nothing else may admit")
	assert.Equal(t, 1, pg.Grid().Size())
}

func TestMemberRemovalPropagates(t *testing.T) {
	pg, rec := newProjectedGrid(t)
	p := anyProjection("pool", 2, 0)
	_, err := pg.AddProjection(p)
	require.NoError(t, err)

	_, err = pg.AddMember(worker("c1", "h", 0))
	require.NoError(t, err)
	rec.events = nil

	removed, err := pg.RemoveMember("c1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, p.Members())
	assert.Equal(t, 2, p.SatisfyState().AllocateData.Any)
	assert.Equal(t, []string{"member-pool/c1"}, rec.events)
}

func TestDuplicateMemberNotTrackedTwice(t *testing.T) {
	pg, _ := newProjectedGrid(t)
	first := anyProjection("first", 1, 0)
	second := anyProjection("second", 1, 0)
	for _, p := range []projection.Projection{first, second} {
		_, err := pg.AddProjection(p)
		require.NoError(t, err)
	}

	added, err := pg.AddMember(worker("c1", "h", 0))
	require.NoError(t, err)
	require.True(t, added)

	added, err = pg.AddMember(worker("c1", "h", 0))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, len(first.Members())+len(second.Members()))
}

func TestEvictProjection(t *testing.T) {
	pg, rec := newProjectedGrid(t)
	p := anyProjection("pool", 2, 0)
	keep := anyProjection("keep", 1, 5)
	for _, proj := range []projection.Projection{p, keep} {
		_, err := pg.AddProjection(proj)
		require.NoError(t, err)
	}
	for _, w := range []*models.GridMember{worker("c1", "h", 0), worker("c2", "h", 0), worker("c3", "h", 5)} {
		_, err := pg.AddMember(w)
		require.NoError(t, err)
	}
	rec.events = nil

	evicted, err := pg.EvictProjection(p)
	require.NoError(t, err)
	assert.True(t, evicted)

	assert.Empty(t, p.Members())
	assert.Equal(t, 1, pg.Grid().Size())
	_, exists := pg.Grid().Member("c3")
	assert.True(t, exists)
	assert.Equal(t, []string{"projection-pool", "member-pool/c1", "member-pool/c2"}, rec.events)
}

func TestRemoveProjectionKeepsMembers(t *testing.T) {
	pg, _ := newProjectedGrid(t)
	p := anyProjection("pool", 1, 0)
	_, err := pg.AddProjection(p)
	require.NoError(t, err)
	_, err = pg.AddMember(worker("c1", "h", 0))
	require.NoError(t, err)

	_, err = pg.RemoveProjection(p)
	require.NoError(t, err)
	assert.Equal(t, 1, pg.Grid().Size())
	assert.Len(t, p.Members(), 1)
}

func TestApplyProjectionData(t *testing.T) {
	pg, _ := newProjectedGrid(t)

	p, err := pg.ApplyProjectionData("pool", models.ProjectionData{
		Type:     models.ProjectionAny,
		Any:      1,
		Priority: models.Ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectionAny, p.Type())

	_, err = pg.AddMember(worker("c1", "h", 0))
	require.NoError(t, err)

	updated, err := pg.ApplyProjectionData("pool", models.ProjectionData{Any: 3})
	require.NoError(t, err)
	assert.Same(t, p, updated)
	assert.Len(t, updated.Members(), 1)
	assert.Equal(t, 2, updated.SatisfyState().AllocateData.Any)

	replaced, err := pg.ApplyProjectionData("pool", models.ProjectionData{
		Type:     models.ProjectionHosts,
		Hosts:    map[string]int{"h": 1},
		Priority: models.Ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectionHosts, replaced.Type())
	assert.Equal(t, 0, pg.Grid().Size(), "members of the replaced projection are evicted")

	_, err = pg.ApplyProjectionData("broken", models.ProjectionData{Type: "spread"})
	assert.ErrorIs(t, err, projection.ErrUnknownType)
}

func TestAtMostOneProjectionPerMember(t *testing.T) {
	pg, _ := newProjectedGrid(t)
	projections := []projection.Projection{
		anyProjection("a", 20, 0),
		anyProjection("b", 20, 0),
		projection.NewHosts("c", models.ProjectionData{Hosts: map[string]int{"h1": 10}, Priority: models.Ptr(0)}),
	}
	for _, p := range projections {
		_, err := pg.AddProjection(p)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := range 80 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// every id is offered twice
			_, _ = pg.AddMember(worker(fmt.Sprintf("c%d", i%40), "h1", 0))
		}()
	}
	wg.Wait()

	owners := map[models.MemberID]int{}
	for _, p := range projections {
		for _, m := range p.Members() {
			owners[m.ID]++
		}
	}
	assert.Len(t, owners, pg.Grid().Size())
	for id, count := range owners {
		assert.Equal(t, 1, count, id)
		_, exists := pg.Grid().Member(id)
		assert.True(t, exists, id)
	}
	assert.Equal(t, 40, pg.Grid().Size())
}
