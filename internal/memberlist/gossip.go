package memberlist

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/projected-grid/internal/models"
)

type Config struct {
	NodeName            string        `envconfig:"GOSSIP_NODE_NAME,optional"`
	Port                int           `envconfig:"GOSSIP_PORT"`
	GossipProbeInterval time.Duration `envconfig:"GOSSIP_PROBE_INTERVAL,optional"`
	GossipProbeTimeout  time.Duration `envconfig:"GOSSIP_PROBE_TIMEOUT,optional"`
	SeedNodes           []string      `envconfig:"-"`
	// Member is advertised as node meta. Nil for nodes that only observe.
	Member *models.GridMember `envconfig:"-"`
}

type MemberList struct {
	list      *memberlist.Memberlist
	seedNodes []string
}

// New starts gossiping and translates node events of worker nodes into
// membership events sent to notify until ctx is done.
func New(ctx context.Context, cfg Config, notify chan<- models.MemberShipEvent) (*MemberList, error) {
	const eventBufSize = 256

	events := make(chan memberlist.NodeEvent, eventBufSize)
	config := memberlist.DefaultLocalConfig()
	config.Name = cfg.NodeName
	config.BindPort = cfg.Port
	config.AdvertisePort = cfg.Port
	config.LogOutput = io.Discard
	if cfg.GossipProbeInterval > 0 {
		config.ProbeInterval = cfg.GossipProbeInterval
	}
	if cfg.GossipProbeTimeout > 0 {
		config.ProbeTimeout = cfg.GossipProbeTimeout
	}
	config.Events = &memberlist.ChannelEventDelegate{
		Ch: events,
	}
	if cfg.Member != nil {
		meta, err := EncodeMeta(*cfg.Member)
		if err != nil {
			return nil, err
		}
		config.Delegate = &metaDelegate{meta: meta}
	}

	ml, err := memberlist.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case mlEvent, opened := <-events:
				if !opened {
					return
				}
				event, ok := toMemberShipEvent(mlEvent)
				if !ok {
					continue
				}
				select {
				case notify <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return &MemberList{
		list:      ml,
		seedNodes: cfg.SeedNodes,
	}, nil
}

func toMemberShipEvent(mlEvent memberlist.NodeEvent) (models.MemberShipEvent, bool) {
	if mlEvent.Node == nil {
		return models.MemberShipEvent{}, false
	}
	log.Debug().Msgf(
		"got event from node %s: type=%d, node.status=%d",
		mlEvent.Node.Name,
		mlEvent.Event,
		mlEvent.Node.State,
	)
	switch mlEvent.Event {
	case memberlist.NodeJoin:
		member, isWorker, err := DecodeMeta(mlEvent.Node)
		if err != nil {
			log.Error().Err(err).Msgf("skipping join of node %s", mlEvent.Node.Name)
			return models.MemberShipEvent{}, false
		}
		if !isWorker {
			log.Debug().Msgf("node %s advertises no member meta", mlEvent.Node.Name)
			return models.MemberShipEvent{}, false
		}
		return models.MemberShipEvent{
			Type:   models.MemberShipJoined,
			ID:     member.ID,
			Member: member,
		}, true
	case memberlist.NodeLeave:
		id := models.MemberID(mlEvent.Node.Name)
		if member, isWorker, err := DecodeMeta(mlEvent.Node); err == nil && isWorker {
			id = member.ID
		}
		return models.MemberShipEvent{
			Type: models.MemberShipLeft,
			ID:   id,
		}, true
	}
	// placement records never change after join, updates carry nothing new
	log.Debug().Msgf("ignoring update of node %s", mlEvent.Node.Name)
	return models.MemberShipEvent{}, false
}

func (l *MemberList) Join(ctx context.Context) error {
	_, err := l.list.Join(l.seedNodes)
	if err != nil {
		return fmt.Errorf("failed to join memberlist: %w", err)
	}
	return nil
}

func (l *MemberList) Members() int {
	return l.list.NumMembers()
}

func (l *MemberList) GracefulClose(timeout time.Duration) error {
	log.Warn().Msg("start graceful leaving from gossip cluster")

	return l.list.Leave(timeout)
}

func (l *MemberList) Close() error {
	log.Warn().Msg("force leave gossip cluster")

	return l.list.Shutdown()
}
