package grid

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/projected-grid/internal/models"
)

type Listener interface {
	MemberAdded(member *models.GridMember)
	MemberRemoved(member *models.GridMember)
}

// ListenerFuncs adapts plain functions to Listener, nil funcs are skipped.
type ListenerFuncs struct {
	OnMemberAdded   func(member *models.GridMember)
	OnMemberRemoved func(member *models.GridMember)
}

func (f ListenerFuncs) MemberAdded(member *models.GridMember) {
	if f.OnMemberAdded != nil {
		f.OnMemberAdded(member)
	}
}

func (f ListenerFuncs) MemberRemoved(member *models.GridMember) {
	if f.OnMemberRemoved != nil {
		f.OnMemberRemoved(member)
	}
}

// listeners delivers events synchronously in registration order. A panicking
// listener is logged and the remaining ones still get the event.
type listeners struct {
	mu   sync.RWMutex
	list []Listener
}

func (l *listeners) register(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.list = append(l.list, listener)
}

func (l *listeners) snapshot() []Listener {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.list)
}

func (l *listeners) memberAdded(member *models.GridMember) {
	for _, listener := range l.snapshot() {
		deliver("member-added", func() { listener.MemberAdded(member) })
	}
}

func (l *listeners) memberRemoved(member *models.GridMember) {
	for _, listener := range l.snapshot() {
		deliver("member-removed", func() { listener.MemberRemoved(member) })
	}
}

// Deliver runs a single listener callback and recovers from its panic.
func Deliver(event string, fn func()) {
	deliver(event, fn)
}

func deliver(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("listener panicked on %s event: %v", event, r)
		}
	}()
	fn()
}
