package memberlist

import (
	"net"
	"strings"
	"testing"

	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/projected-grid/internal/models"
)

func TestMetaRoundTrip(t *testing.T) {
	member := models.GridMember{
		ID:       "c1",
		Host:     "h1",
		Resource: models.Resource{MemoryMB: 1024, VirtualCores: 2},
		Priority: 3,
	}
	meta, err := EncodeMeta(member)
	require.NoError(t, err)

	decoded, isWorker, err := DecodeMeta(&memberlist.Node{Name: "node-1", Meta: meta})
	require.NoError(t, err)
	require.True(t, isWorker)
	assert.Equal(t, member, *decoded)
}

func TestEncodeMetaTooLarge(t *testing.T) {
	_, err := EncodeMeta(models.GridMember{ID: "c1", Host: strings.Repeat("h", memberlist.MetaMaxSize)})
	assert.ErrorIs(t, err, ErrMetaTooLarge)
}

func TestDecodeMetaDefaults(t *testing.T) {
	node := &memberlist.Node{
		Name: "node-1",
		Addr: net.ParseIP("10.0.0.7"),
		Meta: []byte(`{"priority":1}`),
	}
	member, isWorker, err := DecodeMeta(node)
	require.NoError(t, err)
	require.True(t, isWorker)
	assert.Equal(t, models.MemberID("node-1"), member.ID)
	assert.Equal(t, "10.0.0.7", member.Host)

	_, isWorker, err = DecodeMeta(&memberlist.Node{Name: "gridmaster"})
	require.NoError(t, err)
	assert.False(t, isWorker)

	_, _, err = DecodeMeta(&memberlist.Node{Name: "broken", Meta: []byte("{")})
	assert.Error(t, err)
}

func TestToMemberShipEvent(t *testing.T) {
	meta, err := EncodeMeta(models.GridMember{ID: "c1", Host: "h1"})
	require.NoError(t, err)
	node := &memberlist.Node{Name: "node-1", Meta: meta, State: memberlist.StateAlive}

	event, ok := toMemberShipEvent(memberlist.NodeEvent{Event: memberlist.NodeJoin, Node: node})
	require.True(t, ok)
	assert.Equal(t, models.MemberShipJoined, event.Type)
	assert.Equal(t, models.MemberID("c1"), event.ID)
	assert.Equal(t, "h1", event.Member.Host)

	node.State = memberlist.StateDead
	event, ok = toMemberShipEvent(memberlist.NodeEvent{Event: memberlist.NodeLeave, Node: node})
	require.True(t, ok)
	assert.Equal(t, models.MemberShipLeft, event.Type)
	assert.Equal(t, models.MemberID("c1"), event.ID)
	assert.Nil(t, event.Member)

	_, ok = toMemberShipEvent(memberlist.NodeEvent{Event: memberlist.NodeUpdate, Node: node})
	assert.False(t, ok)

	_, ok = toMemberShipEvent(memberlist.NodeEvent{
		Event: memberlist.NodeJoin,
		Node:  &memberlist.Node{Name: "gridmaster"},
	})
	assert.False(t, ok, "nodes without meta are not workers")
}

func TestMetaDelegateRespectsLimit(t *testing.T) {
	d := &metaDelegate{meta: []byte("0123456789")}
	assert.Equal(t, []byte("0123456789"), d.NodeMeta(512))
	assert.Nil(t, d.NodeMeta(4))
}
