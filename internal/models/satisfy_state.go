package models

// AllocateData holds how many more workers a projection wants. Only positive
// amounts are present in Hosts and Racks.
type AllocateData struct {
	Any   int            `json:"any"`
	Hosts map[string]int `json:"hosts"`
	Racks map[string]int `json:"racks"`
}

func NewAllocateData() AllocateData {
	return AllocateData{
		Hosts: make(map[string]int),
		Racks: make(map[string]int),
	}
}

func (a *AllocateData) AddAny(count int) {
	if count > 0 {
		a.Any += count
	}
}

func (a *AllocateData) AddHost(host string, count int) {
	if count > 0 {
		a.Hosts[host] += count
	}
}

func (a *AllocateData) AddRack(rack string, count int) {
	if count > 0 {
		a.Racks[rack] += count
	}
}

func (a AllocateData) Total() int {
	total := a.Any
	for _, count := range a.Hosts {
		total += count
	}
	for _, count := range a.Racks {
		total += count
	}
	return total
}

func (a AllocateData) IsEmpty() bool {
	return a.Total() == 0
}

// SatisfyStateData is the difference between desired and tracked membership
// of one projection at the moment it was computed.
type SatisfyStateData struct {
	AllocateData AllocateData
	RemoveData   []*GridMember
}

func (s SatisfyStateData) IsSatisfied() bool {
	return s.AllocateData.IsEmpty() && len(s.RemoveData) == 0
}
