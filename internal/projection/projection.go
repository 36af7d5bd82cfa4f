package projection

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/rack"
)

// Projection is a placement policy deciding which workers belong to it and
// how far its membership is from the desired state.
type Projection interface {
	Name() string
	Type() models.ProjectionType
	// Priority is the worker priority this projection accepts, false when unset.
	Priority() (int, bool)
	AcceptMember(member *models.GridMember) bool
	RemoveMember(member *models.GridMember) (*models.GridMember, bool)
	Members() []*models.GridMember
	SetProjectionData(data models.ProjectionData)
	ProjectionData() models.ProjectionData
	SatisfyState() models.SatisfyStateData
}

// ByPriority orders projections the way candidates are offered to them:
// lower priority value first, unset priority last, name breaks ties.
func ByPriority(a, b Projection) int {
	pa, oka := a.Priority()
	pb, okb := b.Priority()
	switch {
	case oka && !okb:
		return -1
	case !oka && okb:
		return 1
	case oka && okb && pa != pb:
		return cmp.Compare(pa, pb)
	}
	return cmp.Compare(a.Name(), b.Name())
}

type settings struct {
	priority     *int
	memory       *int64
	virtualCores *int
	locality     *bool
}

// apply takes every setting present in data, unset ones keep their value.
func (s *settings) apply(data models.ProjectionData) {
	if data.Priority != nil {
		s.priority = models.Ptr(*data.Priority)
	}
	if data.Memory != nil {
		s.memory = models.Ptr(*data.Memory)
	}
	if data.VirtualCores != nil {
		s.virtualCores = models.Ptr(*data.VirtualCores)
	}
	if data.Locality != nil {
		s.locality = models.Ptr(*data.Locality)
	}
}

// fill writes the effective settings back into data so that the reported
// desired state matches what the projection gates on.
func (s *settings) fill(data *models.ProjectionData) {
	data.Priority = clonePtr(s.priority)
	data.Memory = clonePtr(s.memory)
	data.VirtualCores = clonePtr(s.virtualCores)
	data.Locality = clonePtr(s.locality)
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	return models.Ptr(*v)
}

type tier int8

const (
	tierAny tier = iota
	tierHost
	tierRack
)

// placement records where a member is counted, so removal never has to
// resolve the rack again.
type placement struct {
	tier tier
	key  string
}

// base holds the tracking state shared by all projection types. All fields
// below mu are guarded by it and the lowercase helpers expect it held.
type base struct {
	name     string
	typ      models.ProjectionType
	resolver rack.Resolver

	mu         sync.Mutex
	data       models.ProjectionData
	settings   settings
	members    map[models.MemberID]*models.GridMember
	placements map[models.MemberID]placement
	hosts      map[string]*memberSet
	racks      map[string]*memberSet
	anyMembers *memberSet
}

func newBase(name string, typ models.ProjectionType, data models.ProjectionData, resolver rack.Resolver) *base {
	b := &base{
		name:       name,
		typ:        typ,
		resolver:   resolver,
		members:    make(map[models.MemberID]*models.GridMember),
		placements: make(map[models.MemberID]placement),
		hosts:      make(map[string]*memberSet),
		racks:      make(map[string]*memberSet),
		anyMembers: newMemberSet(),
	}
	b.settings.apply(data)
	b.data = data.Clone()
	b.data.Type = typ
	b.settings.fill(&b.data)
	return b
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Type() models.ProjectionType {
	return b.typ
}

func (b *base) String() string {
	return fmt.Sprintf("%s(%s)", b.name, b.typ)
}

func (b *base) Priority() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.settings.priority == nil {
		return 0, false
	}
	return *b.settings.priority, true
}

// SetProjectionData replaces the desired state. Current membership is kept,
// priority, thresholds and locality change only when data sets them and
// ProjectionData reports the values in effect.
func (b *base) SetProjectionData(data models.ProjectionData) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.settings.apply(data)
	b.data = data.Clone()
	b.data.Type = b.typ
	b.settings.fill(&b.data)
}

func (b *base) ProjectionData() models.ProjectionData {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.data.Clone()
}

func (b *base) Members() []*models.GridMember {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]*models.GridMember, 0, len(b.members))
	for _, member := range b.members {
		result = append(result, member)
	}
	slices.SortFunc(result, func(x, y *models.GridMember) int {
		return cmp.Compare(x.ID, y.ID)
	})
	return result
}

// RemoveMember drops the member with the same id from every tracking
// structure and returns the instance this projection was holding.
func (b *base) RemoveMember(member *models.GridMember) (*models.GridMember, bool) {
	if member == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	removed, exists := b.members[member.ID]
	if !exists {
		return nil, false
	}
	delete(b.members, member.ID)

	pl := b.placements[member.ID]
	delete(b.placements, member.ID)
	switch pl.tier {
	case tierAny:
		b.anyMembers.remove(member.ID)
	case tierHost:
		removeFromKeyed(b.hosts, pl.key, member.ID)
	case tierRack:
		removeFromKeyed(b.racks, pl.key, member.ID)
	}
	return removed, true
}

// HostCount, RackCount and AnyCount report tracked members per category.
func (b *base) HostCount(host string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.hostCount(host)
}

func (b *base) RackCount(rack string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.rackCount(rack)
}

func (b *base) AnyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.anyMembers.len()
}

func (b *base) TrackedHosts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return sortedKeys(b.hosts)
}

func (b *base) TrackedRacks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return sortedKeys(b.racks)
}

func (b *base) HostMembers(host string) []*models.GridMember {
	b.mu.Lock()
	defer b.mu.Unlock()

	return keyedMembers(b.hosts, host)
}

func (b *base) RackMembers(rack string) []*models.GridMember {
	b.mu.Lock()
	defer b.mu.Unlock()

	return keyedMembers(b.racks, rack)
}

func (b *base) hostCount(host string) int {
	set, ok := b.hosts[host]
	if !ok {
		return 0
	}
	return set.len()
}

func (b *base) rackCount(rack string) int {
	set, ok := b.racks[rack]
	if !ok {
		return 0
	}
	return set.len()
}

func (b *base) isSamePriority(member *models.GridMember) bool {
	if b.settings.priority == nil {
		return false
	}
	return member.Priority == *b.settings.priority
}

// canFit fails closed: a projection without both thresholds fits nothing.
func (b *base) canFit(member *models.GridMember) bool {
	if b.settings.memory == nil || b.settings.virtualCores == nil {
		return false
	}
	return member.Resource.VirtualCores <= *b.settings.virtualCores &&
		member.Resource.MemoryMB <= *b.settings.memory
}

func (b *base) resolveRack(host string) (string, bool) {
	if b.resolver == nil {
		log.Warn().Str("projection", b.name).Msgf("failed to resolve rack for host %s: no resolver", host)
		return "", false
	}
	rackID, ok := b.resolver.Resolve(host)
	if !ok || rackID == "" {
		log.Warn().Str("projection", b.name).Msgf("failed to resolve rack for host %s", host)
		return "", false
	}
	return rackID, true
}

func (b *base) addHostMember(host string, member *models.GridMember) bool {
	if !b.track(member, placement{tier: tierHost, key: host}) {
		return false
	}
	addToKeyed(b.hosts, host, member)
	return true
}

func (b *base) addRackMember(rack string, member *models.GridMember) bool {
	if !b.track(member, placement{tier: tierRack, key: rack}) {
		return false
	}
	addToKeyed(b.racks, rack, member)
	return true
}

func (b *base) addAnyMember(member *models.GridMember) bool {
	if !b.track(member, placement{tier: tierAny}) {
		return false
	}
	b.anyMembers.add(member)
	return true
}

func (b *base) track(member *models.GridMember, pl placement) bool {
	if _, exists := b.members[member.ID]; exists {
		return false
	}
	b.members[member.ID] = member
	b.placements[member.ID] = pl
	return true
}

func (b *base) logAccepted(member *models.GridMember, how string) {
	log.Debug().Str("projection", b.name).Msgf("accepted member %s via %s", member.ID, how)
}
