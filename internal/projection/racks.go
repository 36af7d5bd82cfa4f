package projection

import (
	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/rack"
)

// RacksProjection wants a number of workers in each listed rack. A worker
// whose host can't be resolved to a rack is never accepted.
type RacksProjection struct {
	*base
}

func NewRacks(name string, data models.ProjectionData, resolver rack.Resolver) *RacksProjection {
	return &RacksProjection{
		base: newBase(name, models.ProjectionRacks, data, resolver),
	}
}

func (p *RacksProjection) AcceptMember(member *models.GridMember) bool {
	if member == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isSamePriority(member) {
		return false
	}
	rackID, ok := p.resolveRack(member.Host)
	if !ok {
		return false
	}
	target, ok := p.data.Racks[rackID]
	if !ok || p.rackCount(rackID) >= target {
		return false
	}
	if !p.addRackMember(rackID, member) {
		return false
	}
	p.logAccepted(member, "rack "+rackID)
	return true
}

func (p *RacksProjection) SatisfyState() models.SatisfyStateData {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := models.SatisfyStateData{AllocateData: models.NewAllocateData()}
	satisfyKeyed(p.name, p.data.Racks, p.racks, state.AllocateData.AddRack, &state)
	return state
}
