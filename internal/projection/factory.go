package projection

import (
	"errors"
	"fmt"

	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/rack"
)

var ErrUnknownType = errors.New("unknown projection type")

// New builds the projection named by data.Type, an empty type means default.
// The resolver is only used by rack aware types and may be nil.
func New(name string, data models.ProjectionData, resolver rack.Resolver) (Projection, error) {
	switch data.Type {
	case models.ProjectionDefault, "":
		return NewDefault(name, data, resolver), nil
	case models.ProjectionAny:
		return NewAny(name, data), nil
	case models.ProjectionHosts:
		return NewHosts(name, data), nil
	case models.ProjectionRacks:
		return NewRacks(name, data, resolver), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, data.Type)
}

var (
	_ Projection = (*AnyProjection)(nil)
	_ Projection = (*HostsProjection)(nil)
	_ Projection = (*RacksProjection)(nil)
	_ Projection = (*DefaultProjection)(nil)
)
