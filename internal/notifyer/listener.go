package notifyer

import (
	"time"

	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/projection"
)

// GridEventListener turns projected grid changes into outbound grid events.
type GridEventListener struct {
	notifyer *ChanNotifyer
	now      func() time.Time
}

func NewGridEventListener(n *ChanNotifyer) *GridEventListener {
	return &GridEventListener{notifyer: n, now: time.Now}
}

func (l *GridEventListener) ProjectionAdded(p projection.Projection) {
	l.notify(models.GridEventProjectionAdded, p, nil)
}

func (l *GridEventListener) ProjectionRemoved(p projection.Projection) {
	l.notify(models.GridEventProjectionRemoved, p, nil)
}

func (l *GridEventListener) MemberAdded(p projection.Projection, member *models.GridMember) {
	l.notify(models.GridEventMemberAdded, p, member)
}

func (l *GridEventListener) MemberRemoved(p projection.Projection, member *models.GridMember) {
	l.notify(models.GridEventMemberRemoved, p, member)
}

func (l *GridEventListener) notify(typ models.GridEventType, p projection.Projection, member *models.GridMember) {
	l.notifyer.Notify(models.GridEvent{
		Type:       typ,
		Projection: p.Name(),
		Member:     member,
		Time:       l.now(),
	})
}
