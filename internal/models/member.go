package models

import "fmt"

type MemberID string

func (id MemberID) String() string {
	return string(id)
}

type Resource struct {
	MemoryMB     int64 `json:"memory_mb"`
	VirtualCores int   `json:"virtual_cores"`
}

// GridMember is a placement record of a running worker. It is shared between
// the registry and the projection that claimed it and must not be mutated
// after it was offered to a grid.
type GridMember struct {
	ID       MemberID `json:"id"`
	Host     string   `json:"host"`
	Resource Resource `json:"resource"`
	Priority int      `json:"priority"`
}

func (m *GridMember) String() string {
	return fmt.Sprintf(
		"{id=%s, host=%s, memory=%d, vcores=%d, priority=%d}",
		m.ID, m.Host, m.Resource.MemoryMB, m.Resource.VirtualCores, m.Priority,
	)
}
