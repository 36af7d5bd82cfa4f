package memberlist

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/memberlist"

	"github.com/Sh00ty/projected-grid/internal/models"
)

var ErrMetaTooLarge = errors.New("member meta exceeds gossip limit")

// EncodeMeta packs the placement record a worker advertises to the cluster.
func EncodeMeta(member models.GridMember) ([]byte, error) {
	meta, err := json.Marshal(member)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal member meta: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMetaTooLarge, len(meta))
	}
	return meta, nil
}

// DecodeMeta restores the record advertised by node. Empty meta means the
// node is not a worker, e.g. another gridmaster.
func DecodeMeta(node *memberlist.Node) (*models.GridMember, bool, error) {
	if node == nil || len(node.Meta) == 0 {
		return nil, false, nil
	}
	member := &models.GridMember{}
	if err := json.Unmarshal(node.Meta, member); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal meta of node %s: %w", node.Name, err)
	}
	if member.ID == "" {
		member.ID = models.MemberID(node.Name)
	}
	if member.Host == "" && node.Addr != nil {
		member.Host = node.Addr.String()
	}
	return member, true, nil
}

// metaDelegate only serves node meta, workers have no user state to gossip.
type metaDelegate struct {
	meta []byte
}

func (d *metaDelegate) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		return nil
	}
	return d.meta
}

func (d *metaDelegate) NotifyMsg([]byte) {}

func (d *metaDelegate) GetBroadcasts(int, int) [][]byte {
	return nil
}

func (d *metaDelegate) LocalState(bool) []byte {
	return nil
}

func (d *metaDelegate) MergeRemoteState([]byte, bool) {}
