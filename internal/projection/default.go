package projection

import (
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/rack"
)

// DefaultProjection places workers on desired hosts first, then desired
// racks, then into the any pool. With locality disabled a worker that matched
// nothing is packed into the first host or rack still below its target.
type DefaultProjection struct {
	*base
}

func NewDefault(name string, data models.ProjectionData, resolver rack.Resolver) *DefaultProjection {
	return &DefaultProjection{
		base: newBase(name, models.ProjectionDefault, data, resolver),
	}
}

// Locality reports whether strict placement is required, true unless set otherwise.
func (p *DefaultProjection) Locality() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.locality()
}

func (p *DefaultProjection) locality() bool {
	return p.settings.locality == nil || *p.settings.locality
}

func (p *DefaultProjection) AcceptMember(member *models.GridMember) bool {
	if member == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isSamePriority(member) || !p.canFit(member) {
		return false
	}
	if p.tryHostAccept(member) || p.tryRackAccept(member) || p.tryAnyAccept(member) {
		return true
	}
	if p.locality() {
		return false
	}
	log.Info().Str("projection", p.name).Msgf("trying to force host/rack accept for %s", member.ID)
	return p.forceHostAccept(member) || p.forceRackAccept(member)
}

func (p *DefaultProjection) tryHostAccept(member *models.GridMember) bool {
	target, ok := p.data.Hosts[member.Host]
	if !ok || p.hostCount(member.Host) >= target {
		return false
	}
	if !p.addHostMember(member.Host, member) {
		return false
	}
	p.logAccepted(member, "host "+member.Host)
	return true
}

func (p *DefaultProjection) tryRackAccept(member *models.GridMember) bool {
	if len(p.data.Racks) == 0 {
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

func (p *DefaultProjection) tryAnyAccept(member *models.GridMember) bool {
	if p.anyMembers.len() >= p.data.Any {
		return false
	}
	if !p.addAnyMember(member) {
		return false
	}
	p.logAccepted(member, "any")
	return true
}

func (p *DefaultProjection) forceHostAccept(member *models.GridMember) bool {
	for _, host := range sortedKeys(p.data.Hosts) {
		if p.hostCount(host) >= p.data.Hosts[host] {
			continue
		}
		if p.addHostMember(host, member) {
			p.logAccepted(member, "forced host "+host)
			return true
		}
		return false
	}
	return false
}

func (p *DefaultProjection) forceRackAccept(member *models.GridMember) bool {
	for _, rackID := range sortedKeys(p.data.Racks) {
		if p.rackCount(rackID) >= p.data.Racks[rackID] {
			continue
		}
		if p.addRackMember(rackID, member) {
			p.logAccepted(member, "forced rack "+rackID)
			return true
		}
		return false
	}
	return false
}

// SatisfyState computes the any, rack and host tiers independently and
// merges their allocations and removals.
func (p *DefaultProjection) SatisfyState() models.SatisfyStateData {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := models.SatisfyStateData{AllocateData: models.NewAllocateData()}
	satisfyAny(p.name, p.data.Any, p.anyMembers, &state)
	satisfyKeyed(p.name, p.data.Racks, p.racks, state.AllocateData.AddRack, &state)
	satisfyKeyed(p.name, p.data.Hosts, p.hosts, state.AllocateData.AddHost, &state)
	return state
}
