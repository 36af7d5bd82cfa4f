package grid

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/projected-grid/internal/models"
)

var (
	ErrNilMember      = errors.New("grid member must not be nil")
	ErrEmptyMemberID  = errors.New("grid member id must not be empty")
	ErrNilInterceptor = errors.New("interceptor must not be nil")
	ErrNilListener    = errors.New("listener must not be nil")
	// ErrChainLocked is returned when the interceptor chain is owned by a
	// component that relies on seeing every admission.
	ErrChainLocked = errors.New("interceptor chain is locked")
)

// Grid is the registry of active workers keyed by their id.
//
// Admission is serialized: the duplicate check, the interceptor chain and the
// insert happen as one step, so two concurrent adds of the same id admit at
// most one member. Reads never wait for admissions. Interceptors must not call
// AddMember on the same grid.
type Grid struct {
	admitMu sync.Mutex

	mu      sync.RWMutex
	members map[models.MemberID]*models.GridMember

	chain       *InterceptorChain
	chainLocked atomic.Bool
	listeners   listeners
}

func New() *Grid {
	return &Grid{
		members: make(map[models.MemberID]*models.GridMember, 64),
		chain:   NewInterceptorChain(),
	}
}

// AddMember runs the member through the interceptor chain and registers it.
// It returns false when the id is already present or the chain rejected it.
func (g *Grid) AddMember(member *models.GridMember) (bool, error) {
	if member == nil {
		return false, ErrNilMember
	}
	if member.ID == "" {
		return false, ErrEmptyMemberID
	}
	admitted, ok := g.admit(member)
	if !ok {
		return false, nil
	}
	g.listeners.memberAdded(admitted)
	return true, nil
}

func (g *Grid) admit(member *models.GridMember) (*models.GridMember, bool) {
	g.admitMu.Lock()
	defer g.admitMu.Unlock()

	if g.hasMember(member.ID) {
		log.Debug().Msgf("member %s already registered", member.ID)
		return nil, false
	}
	admitted, ok := g.chain.PreAdd(member, g)
	if !ok {
		log.Debug().Msgf("member %s rejected by interceptors", member.ID)
		return nil, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.members[admitted.ID]; exists {
		// an interceptor swapped the member for one with a known id
		return nil, false
	}
	g.members[admitted.ID] = admitted
	return admitted, true
}

func (g *Grid) RemoveMember(id models.MemberID) (bool, error) {
	if id == "" {
		return false, ErrEmptyMemberID
	}
	g.mu.Lock()
	removed, exists := g.members[id]
	delete(g.members, id)
	g.mu.Unlock()

	if !exists {
		return false, nil
	}
	g.listeners.memberRemoved(removed)
	return true, nil
}

func (g *Grid) Member(id models.MemberID) (*models.GridMember, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	member, exists := g.members[id]
	return member, exists
}

func (g *Grid) Members() []*models.GridMember {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]*models.GridMember, 0, len(g.members))
	for _, member := range g.members {
		result = append(result, member)
	}
	return result
}

func (g *Grid) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.members)
}

func (g *Grid) hasMember(id models.MemberID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, exists := g.members[id]
	return exists
}

func (g *Grid) AddListener(listener Listener) error {
	if listener == nil {
		return ErrNilListener
	}
	g.listeners.register(listener)
	return nil
}

// AddInterceptor appends an interceptor to the end of the chain.
func (g *Grid) AddInterceptor(interceptor Interceptor) error {
	if g.chainLocked.Load() {
		return ErrChainLocked
	}
	return g.chain.Add(interceptor)
}

// SetInterceptors replaces the whole chain.
func (g *Grid) SetInterceptors(interceptors []Interceptor) error {
	if g.chainLocked.Load() {
		return ErrChainLocked
	}
	return g.chain.Set(interceptors)
}

// LockInterceptors freezes the chain, later AddInterceptor and
// SetInterceptors calls fail with ErrChainLocked.
func (g *Grid) LockInterceptors() {
	g.chainLocked.Store(true)
}

func (g *Grid) Interceptors() []Interceptor {
	return g.chain.Interceptors()
}
