package etcd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/Sh00ty/projected-grid/internal/models"
)

type Client struct {
	nodeID   string
	etcd     *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election
}

func NewClient(hosts []string, nodeID string, dialTimeout time.Duration) (*Client, error) {
	clnt, err := clientv3.New(clientv3.Config{
		Endpoints:   hosts,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &Client{
		nodeID: nodeID,
		etcd:   clnt,
	}, nil
}

func (c *Client) GracefulClose(ctx context.Context) error {
	if c.election != nil {
		err := c.election.Resign(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to gracefully resign leader")
		}
	}
	return c.Close()
}

func (c *Client) Close() error {
	if c.session != nil {
		err := c.session.Close()
		if err != nil {
			log.Error().Err(err).Msg("failed to destroy session")
		}
	}
	err := c.etcd.Close()
	if err != nil {
		log.Error().Err(err).Msg("failed to close etcd client")
		return err
	}
	return nil
}

func (c *Client) Client() *clientv3.Client {
	return c.etcd
}

// BecomeLeader blocks until this gridmaster wins the election. The returned
// channel is closed when the leadership session expires.
func (c *Client) BecomeLeader(ctx context.Context) (bool, <-chan struct{}, error) {
	session, err := concurrency.NewSession(
		c.etcd,
		concurrency.WithContext(ctx),
		concurrency.WithTTL(leaderLeaseTTLInSeconds),
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to create session: %w", err)
	}
	c.session = session
	c.election = concurrency.NewElection(session, GridmasterLeadershipKey)

	for {
		err = c.election.Campaign(ctx, c.nodeID)
		if errors.Is(err, concurrency.ErrElectionNotLeader) {
			continue
		}
		if errors.Is(err, context.Canceled) {
			return false, nil, nil
		}
		if err != nil {
			return false, nil, err
		}
		log.Warn().Msgf("instance won leader election for %s", GridmasterLeadershipKey)
		return true, c.session.Done(), nil
	}
}

// ProjectionsInitialSync reads every projection override and returns a
// watcher continuing right after the read revision.
func (c *Client) ProjectionsInitialSync(
	ctx context.Context,
	handler WatchHandler,
) (map[string]models.ProjectionData, *Watcher, error) {
	resp, err := c.etcd.KV.Get(
		ctx,
		ProjectionsFolder()+"/",
		clientv3.WithPrefix(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get projection overrides: %w", err)
	}
	overrides := make(map[string]models.ProjectionData, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		name, data, err := parseProjection(kv)
		if err != nil {
			log.Error().Err(err).Msg("skipping broken projection override")
			continue
		}
		overrides[name] = data
	}
	w := NewWatcher(ProjectionsFolder()+"/", handler, c.etcd.Watcher, resp.Header.Revision+1)
	return overrides, w, nil
}

// TopologyWatcher watches host to rack assignments from now on.
func (c *Client) TopologyWatcher(handler WatchHandler) *Watcher {
	return NewWatcher(TopologyFolder()+"/", handler, c.etcd.Watcher, 0)
}

func (c *Client) PutProjection(ctx context.Context, name string, data models.ProjectionData) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid projection name %q", name)
	}
	_, err := c.etcd.Put(ctx, ProjectionKey(name), mustJsonMarshal(data))
	if err != nil {
		return fmt.Errorf("failed to put projection %s: %w", name, err)
	}
	return nil
}

func (c *Client) DeleteProjection(ctx context.Context, name string) error {
	_, err := c.etcd.Delete(ctx, ProjectionKey(name))
	if err != nil {
		return fmt.Errorf("failed to delete projection %s: %w", name, err)
	}
	return nil
}

func (c *Client) SetHostRack(ctx context.Context, host, rackID string) error {
	_, err := c.etcd.Put(ctx, HostRackKey(host), rackID)
	if err != nil {
		return fmt.Errorf("failed to put rack of host %s: %w", host, err)
	}
	return nil
}
