package projection

import (
	"github.com/Sh00ty/projected-grid/internal/models"
)

// AnyProjection is a fixed size pool of workers with no location constraints.
// The pool size is the Any count of its projection data.
type AnyProjection struct {
	*base
}

func NewAny(name string, data models.ProjectionData) *AnyProjection {
	return &AnyProjection{
		base: newBase(name, models.ProjectionAny, data, nil),
	}
}

func (p *AnyProjection) AcceptMember(member *models.GridMember) bool {
	if member == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isSamePriority(member) {
		return false
	}
	if len(p.members) >= p.data.Any {
		return false
	}
	if !p.addAnyMember(member) {
		return false
	}
	p.logAccepted(member, "any")
	return true
}

func (p *AnyProjection) SatisfyState() models.SatisfyStateData {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := models.SatisfyStateData{AllocateData: models.NewAllocateData()}
	satisfyAny(p.name, p.data.Any, p.anyMembers, &state)
	return state
}
