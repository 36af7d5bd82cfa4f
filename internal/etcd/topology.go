package etcd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// TopologyResolver maps hosts to racks using keys under the topology folder.
// Lookup failures resolve to no rack, callers fall back to other tiers.
type TopologyResolver struct {
	kv      clientv3.KV
	timeout time.Duration
}

func NewTopologyResolver(kv clientv3.KV, timeout time.Duration) *TopologyResolver {
	return &TopologyResolver{kv: kv, timeout: timeout}
}

func (r *TopologyResolver) Resolve(host string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, err := r.kv.Get(ctx, HostRackKey(host))
	if err != nil {
		log.Warn().Err(err).Msgf("failed to resolve rack of host %s", host)
		return "", false
	}
	if len(resp.Kvs) == 0 || len(resp.Kvs[0].Value) == 0 {
		return "", false
	}
	return string(resp.Kvs[0].Value), true
}
