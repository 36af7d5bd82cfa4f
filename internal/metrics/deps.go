package metrics

import "time"

type Metrics interface {
	Increment(string)
	Duration(string, time.Duration)
	Gauge(string, int)
}

const (
	GridMemberAdded          = "grid.member.added"
	GridMemberRemoved        = "grid.member.removed"
	GridSize                 = "grid.size"
	ProjectionAdded          = "projection.added"
	ProjectionRemoved        = "projection.removed"
	ProjectionMemberAdded    = "projection.member.added"
	ProjectionMemberRemoved  = "projection.member.removed"
	ReconcileDuration        = "reconcile.duration"
	ReconcileFailed          = "reconcile.failed"
	AllocationRequested      = "reconcile.allocation.requested"
	ReleaseRequested         = "reconcile.release.requested"
	MembershipEventsReceived = "membership.events"
)

// ProjectionMembers is the gauge of members tracked by the named projection.
func ProjectionMembers(projection string) string {
	return "projection." + projection + ".members"
}
