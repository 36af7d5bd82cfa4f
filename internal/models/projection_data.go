package models

import (
	"fmt"
	"maps"
)

type ProjectionType string

const (
	ProjectionDefault ProjectionType = "default"
	ProjectionAny     ProjectionType = "any"
	ProjectionHosts   ProjectionType = "hosts"
	ProjectionRacks   ProjectionType = "racks"
)

// ProjectionData is the desired state of a single projection. Counts are
// desired worker totals, not deltas. Optional settings are nil when unset.
type ProjectionData struct {
	Type         ProjectionType `json:"type,omitempty"`
	Priority     *int           `json:"priority,omitempty"`
	Memory       *int64         `json:"memory,omitempty"`
	VirtualCores *int           `json:"virtual_cores,omitempty"`
	Locality     *bool          `json:"locality,omitempty"`
	Any          int            `json:"any"`
	Hosts        map[string]int `json:"hosts,omitempty"`
	Racks        map[string]int `json:"racks,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
}

func NewProjectionData(anyCount int, hosts, racks map[string]int) ProjectionData {
	return ProjectionData{
		Any:   anyCount,
		Hosts: hosts,
		Racks: racks,
	}
}

func (d *ProjectionData) SetHost(host string, count int) {
	if d.Hosts == nil {
		d.Hosts = make(map[string]int)
	}
	d.Hosts[host] = count
}

func (d *ProjectionData) SetRack(rack string, count int) {
	if d.Racks == nil {
		d.Racks = make(map[string]int)
	}
	d.Racks[rack] = count
}

// Clone returns a deep copy, projections never share maps with callers.
func (d ProjectionData) Clone() ProjectionData {
	clone := d
	clone.Priority = clonePtr(d.Priority)
	clone.Memory = clonePtr(d.Memory)
	clone.VirtualCores = clonePtr(d.VirtualCores)
	clone.Locality = clonePtr(d.Locality)
	clone.Hosts = maps.Clone(d.Hosts)
	clone.Racks = maps.Clone(d.Racks)
	clone.Properties = maps.Clone(d.Properties)
	return clone
}

// Merge overlays every field set in other on top of d and returns the result
// as a new value. Any is taken from other only when it is positive, hosts,
// racks and properties are merged key by key.
func (d ProjectionData) Merge(other ProjectionData) ProjectionData {
	merged := d.Clone()
	if other.Type != "" {
		merged.Type = other.Type
	}
	if other.Priority != nil {
		merged.Priority = clonePtr(other.Priority)
	}
	if other.Memory != nil {
		merged.Memory = clonePtr(other.Memory)
	}
	if other.VirtualCores != nil {
		merged.VirtualCores = clonePtr(other.VirtualCores)
	}
	if other.Locality != nil {
		merged.Locality = clonePtr(other.Locality)
	}
	if other.Any > 0 {
		merged.Any = other.Any
	}
	for host, count := range other.Hosts {
		merged.SetHost(host, count)
	}
	for rack, count := range other.Racks {
		merged.SetRack(rack, count)
	}
	if len(other.Properties) != 0 && merged.Properties == nil {
		merged.Properties = make(map[string]any, len(other.Properties))
	}
	maps.Copy(merged.Properties, other.Properties)
	return merged
}

func (d ProjectionData) String() string {
	return fmt.Sprintf(
		"{type=%s, priority=%s, memory=%s, vcores=%s, locality=%s, any=%d, hosts=%v, racks=%v}",
		d.Type, ptrString(d.Priority), ptrString(d.Memory), ptrString(d.VirtualCores),
		ptrString(d.Locality), d.Any, d.Hosts, d.Racks,
	)
}

func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func ptrString[T any](v *T) string {
	if v == nil {
		return "<unset>"
	}
	return fmt.Sprint(*v)
}
