package models

type MemberShipEventType int8

const (
	MemberShipUnknown MemberShipEventType = iota
	MemberShipJoined
	MemberShipLeft
)

func (t MemberShipEventType) String() string {
	switch t {
	case MemberShipJoined:
		return "joined"
	case MemberShipLeft:
		return "left"
	}
	return "unknown"
}

// MemberShipEvent is an observation about a worker coming from the cluster.
// Member is set for joined events, left events only need the ID.
type MemberShipEvent struct {
	Type   MemberShipEventType
	ID     MemberID
	Member *GridMember
}
