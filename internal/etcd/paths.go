package etcd

import (
	"path"
)

/*
grid-registry/projections/pool-a(%s)        -> ProjectionData json, overrides the postgres definition
grid-registry/topology/host-1(%s)           -> rack id
grid-registry/gridmaster/leader             -> election of the reconciling gridmaster
*/

const (
	gridRegistryFolder = "/grid-registry"

	GridmasterLeadershipKey = gridRegistryFolder + "/gridmaster/leader"

	leaderLeaseTTLInSeconds = 10
)

// grid-registry/projections
func ProjectionsFolder() string {
	return path.Join(gridRegistryFolder, "projections")
}

// grid-registry/projections/pool-a(%s)
func ProjectionKey(name string) string {
	return path.Join(ProjectionsFolder(), name)
}

// grid-registry/topology
func TopologyFolder() string {
	return path.Join(gridRegistryFolder, "topology")
}

// grid-registry/topology/host-1(%s)
func HostRackKey(host string) string {
	return path.Join(TopologyFolder(), host)
}
