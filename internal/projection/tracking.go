package projection

import (
	"maps"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/projected-grid/internal/models"
)

// memberSet keeps insertion order, the oldest members are picked first when
// a category has to shrink.
type memberSet struct {
	members []*models.GridMember
}

func newMemberSet() *memberSet {
	return &memberSet{}
}

func (s *memberSet) add(member *models.GridMember) {
	s.members = append(s.members, member)
}

func (s *memberSet) remove(id models.MemberID) bool {
	idx := slices.IndexFunc(s.members, func(m *models.GridMember) bool {
		return m.ID == id
	})
	if idx < 0 {
		return false
	}
	s.members = slices.Delete(s.members, idx, idx+1)
	return true
}

func (s *memberSet) len() int {
	return len(s.members)
}

// first returns up to n members in insertion order.
func (s *memberSet) first(n int) []*models.GridMember {
	n = min(max(n, 0), len(s.members))
	return slices.Clone(s.members[:n])
}

func (s *memberSet) all() []*models.GridMember {
	return slices.Clone(s.members)
}

func addToKeyed(sets map[string]*memberSet, key string, member *models.GridMember) {
	set, ok := sets[key]
	if !ok {
		set = newMemberSet()
		sets[key] = set
	}
	set.add(member)
}

func removeFromKeyed(sets map[string]*memberSet, key string, id models.MemberID) {
	set, ok := sets[key]
	if !ok {
		return
	}
	set.remove(id)
	if set.len() == 0 {
		delete(sets, key)
	}
}

func keyedMembers(sets map[string]*memberSet, key string) []*models.GridMember {
	set, ok := sets[key]
	if !ok {
		return nil
	}
	return set.all()
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// satisfyAny compares the any category against target.
func satisfyAny(projection string, target int, set *memberSet, state *models.SatisfyStateData) {
	delta := target - set.len()
	state.AllocateData.AddAny(delta)
	if delta >= 0 {
		return
	}
	for _, member := range set.first(-delta) {
		log.Debug().Str("projection", projection).Msgf("adding %s to remove list for any", member.ID)
		state.RemoveData = append(state.RemoveData, member)
	}
}

// satisfyKeyed compares host or rack categories against desired counts.
// Keys that are tracked but not desired anymore are wiped out completely,
// keys whose target shrank lose their oldest members.
func satisfyKeyed(
	projection string,
	desired map[string]int,
	tracked map[string]*memberSet,
	allocate func(key string, count int),
	state *models.SatisfyStateData,
) {
	for _, key := range sortedKeys(desired) {
		current := 0
		set, ok := tracked[key]
		if ok {
			current = set.len()
		}
		delta := desired[key] - current
		allocate(key, delta)
		if delta >= 0 || !ok {
			continue
		}
		log.Debug().Str("projection", projection).Msgf("about to remove %d members from %s", -delta, key)
		for _, member := range set.first(-delta) {
			log.Debug().Str("projection", projection).Msgf("adding %s to remove list for %s", member.ID, key)
			state.RemoveData = append(state.RemoveData, member)
		}
	}
	for _, key := range sortedKeys(tracked) {
		if _, ok := desired[key]; ok {
			continue
		}
		for _, member := range tracked[key].all() {
			log.Debug().Str("projection", projection).Msgf("adding %s to remove list for %s", member.ID, key)
			state.RemoveData = append(state.RemoveData, member)
		}
	}
}
