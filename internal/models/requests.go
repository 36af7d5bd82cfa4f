package models

import "time"

// AllocationRequest asks the resource manager for more workers of one
// projection. Settings describe the container every new worker gets.
type AllocationRequest struct {
	RequestID    string       `json:"request_id"`
	Projection   string       `json:"projection"`
	Priority     *int         `json:"priority,omitempty"`
	Memory       *int64       `json:"memory,omitempty"`
	VirtualCores *int         `json:"virtual_cores,omitempty"`
	Allocate     AllocateData `json:"allocate"`
	Time         time.Time    `json:"time"`
}

// ReleaseRequest asks the resource manager to stop surplus workers.
type ReleaseRequest struct {
	RequestID  string     `json:"request_id"`
	Projection string     `json:"projection"`
	Members    []MemberID `json:"members"`
	Time       time.Time  `json:"time"`
}

type GridEventType string

const (
	GridEventMemberAdded       GridEventType = "member-added"
	GridEventMemberRemoved     GridEventType = "member-removed"
	GridEventProjectionAdded   GridEventType = "projection-added"
	GridEventProjectionRemoved GridEventType = "projection-removed"
)

// GridEvent is an outbound notification about projected grid changes.
type GridEvent struct {
	Type       GridEventType `json:"type"`
	Projection string        `json:"projection,omitempty"`
	Member     *GridMember   `json:"member,omitempty"`
	Time       time.Time     `json:"time"`
}
