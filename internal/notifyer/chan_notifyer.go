package notifyer

import (
	"sync"
	"sync/atomic"

	"github.com/Sh00ty/projected-grid/internal/models"
)

// ChanNotifyer hands grid events to a single consumer. Notify blocks only
// when the buffer is full, events sent after Close are dropped.
type ChanNotifyer struct {
	eventChan chan models.GridEvent
	closed    atomic.Bool
	close     chan struct{}
	closeOnce sync.Once
}

func NewNotifier(buf int) *ChanNotifyer {
	return &ChanNotifyer{
		eventChan: make(chan models.GridEvent, buf),
		close:     make(chan struct{}),
	}
}

func (n *ChanNotifyer) Notify(event models.GridEvent) {
	if n.closed.Load() {
		return
	}
	select {
	case n.eventChan <- event:
	case <-n.close:
	}
}

func (n *ChanNotifyer) GetEventChan() <-chan models.GridEvent {
	return n.eventChan
}

// Close stops accepting events. The event channel is left open, the
// consumer stops on its own context.
func (n *ChanNotifyer) Close() {
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		close(n.close)
	})
}
