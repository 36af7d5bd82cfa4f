package projection

import (
	"fmt"

	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/rack"
)

func member(id int, host string, priority int) *models.GridMember {
	return &models.GridMember{
		ID:       models.MemberID(fmt.Sprintf("container_%d", id)),
		Host:     host,
		Priority: priority,
	}
}

func sizedMember(id int, host string, priority int, memory int64, vcores int) *models.GridMember {
	m := member(id, host, priority)
	m.Resource = models.Resource{MemoryMB: memory, VirtualCores: vcores}
	return m
}

func ids(members []*models.GridMember) []models.MemberID {
	result := make([]models.MemberID, 0, len(members))
	for _, m := range members {
		result = append(result, m.ID)
	}
	return result
}

func testTopology() rack.Resolver {
	return rack.NewStatic(map[string]string{
		"host1": "/rack1",
		"host2": "/rack1",
		"host3": "/rack2",
		"host4": "/rack2",
	})
}
