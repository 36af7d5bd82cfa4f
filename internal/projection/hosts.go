package projection

import (
	"github.com/Sh00ty/projected-grid/internal/models"
)

// HostsProjection wants a number of workers on each listed host and nothing
// anywhere else.
type HostsProjection struct {
	*base
}

func NewHosts(name string, data models.ProjectionData) *HostsProjection {
	return &HostsProjection{
		base: newBase(name, models.ProjectionHosts, data, nil),
	}
}

func (p *HostsProjection) AcceptMember(member *models.GridMember) bool {
	if member == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isSamePriority(member) {
		return false
	}
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

func (p *HostsProjection) SatisfyState() models.SatisfyStateData {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := models.SatisfyStateData{AllocateData: models.NewAllocateData()}
	satisfyKeyed(p.name, p.data.Hosts, p.hosts, state.AllocateData.AddHost, &state)
	return state
}
