package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"
	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Sh00ty/projected-grid/internal/etcd"
	"github.com/Sh00ty/projected-grid/internal/grid"
	"github.com/Sh00ty/projected-grid/internal/memberlist"
	"github.com/Sh00ty/projected-grid/internal/metrics"
	"github.com/Sh00ty/projected-grid/internal/notifyer"
	"github.com/Sh00ty/projected-grid/internal/projectedgrid"
	"github.com/Sh00ty/projected-grid/internal/projection"
	"github.com/Sh00ty/projected-grid/internal/queue"
	"github.com/Sh00ty/projected-grid/internal/rack"
	"github.com/Sh00ty/projected-grid/internal/reconciler"
	"github.com/Sh00ty/projected-grid/internal/repository/postgres"
	"github.com/Sh00ty/projected-grid/internal/sender"
)

func loggerLevelFromString(level string) zerolog.Level {
	level = strings.ToLower(level)
	switch level {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

type Config struct {
	NodeID      string `envconfig:"GRIDMASTER_ID"`
	LoggerLevel string `envconfig:"LOGGER_LEVEL,optional"`
	ProbeAddr   string `envconfig:"PROBE_ADDR,default=0.0.0.0:8080"`

	EtcdHosts       []string      `envconfig:"ETCD_HOSTS"`
	EtcdDialTimeout time.Duration `envconfig:"ETCD_DIAL_TIMEOUT,default=5s"`

	// static host=rack pairs, used before etcd topology
	StaticRacks          []string      `envconfig:"STATIC_RACKS,optional"`
	TopologyTimeout      time.Duration `envconfig:"TOPOLOGY_TIMEOUT,default=500ms"`
	TopologyCacheSize    int           `envconfig:"TOPOLOGY_CACHE_SIZE,default=4096"`
	GossipSeedNodes      []string      `envconfig:"GOSSIP_SEED_NODES,optional"`
	MembershipFromQueue  bool          `envconfig:"MEMBERSHIP_FROM_QUEUE,default=false"`
	EventsBuffer         int           `envconfig:"EVENTS_BUFFER,default=1024"`
	ResendEventsInterval time.Duration `envconfig:"RESEND_EVENTS_INTERVAL,default=10s"`

	StatsdAddr   string `envconfig:"STATSD_ADDR"`
	StatsdPrefix string `envconfig:"STATSD_PREFIX,default=apps.grid."`

	Postgres   postgres.Config
	Queue      queue.Config
	Reconciler reconciler.Config
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}
	appCfg := Config{}
	err := envconfig.Init(&appCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read app config")
	}
	log.Logger = log.Level(loggerLevelFromString(appCfg.LoggerLevel))

	log.Warn().Msgf("running gridmaster %s", appCfg.NodeID)

	if err := run(ctx, appCfg); err != nil {
		log.Fatal().Err(err).Msg("gridmaster stopped")
	}
}

func run(ctx context.Context, appCfg Config) error {
	statsd := metrics.NewStatsd(appCfg.NodeID, appCfg.StatsdPrefix, appCfg.StatsdAddr)
	defer statsd.Close()

	etcdClient, err := etcd.NewClient(appCfg.EtcdHosts, appCfg.NodeID, appCfg.EtcdDialTimeout)
	if err != nil {
		return err
	}
	defer etcdClient.GracefulClose(context.Background())

	repo, err := postgres.NewRepo(ctx, appCfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to init projections repository: %w", err)
	}
	defer repo.Close()

	resolver, err := newResolver(appCfg, etcdClient)
	if err != nil {
		return err
	}

	g := grid.New()
	pg, err := projectedgrid.New(g, resolver)
	if err != nil {
		return err
	}

	publisher := queue.NewPublisher(appCfg.Queue)
	defer publisher.Close()

	rec := reconciler.NewReconciler(pg, publisher, statsd, appCfg.Reconciler, log.Logger)

	events := notifyer.NewNotifier(appCfg.EventsBuffer)
	defer events.Close()
	eventSender := sender.NewSenderController(events.GetEventChan(), publisher, appCfg.ResendEventsInterval)

	if err := g.AddListener(metrics.NewGridListener(statsd, g)); err != nil {
		return err
	}
	listeners := []projectedgrid.Listener{
		metrics.NewProjectionListener(statsd),
		notifyer.NewGridEventListener(events),
		projectedgrid.ListenerFuncs{
			OnProjectionAdded: func(projection.Projection) { rec.RequestReconcile() },
		},
	}
	for _, l := range listeners {
		if err := pg.AddListener(l); err != nil {
			return err
		}
	}

	// only the leader reconciles, others wait here
	leader, lost, err := etcdClient.BecomeLeader(ctx)
	if err != nil {
		return fmt.Errorf("failed to campaign for leadership: %w", err)
	}
	if !leader {
		return nil
	}

	definitions, err := repo.GetProjections(ctx)
	if err != nil {
		return fmt.Errorf("failed to load projection definitions: %w", err)
	}
	projections := etcd.NewProjectionChangeHandler(pg, definitions)
	overrides, watcher, err := etcdClient.ProjectionsInitialSync(ctx, projections.Handle)
	if err != nil {
		return err
	}
	if err := projections.Sync(overrides); err != nil {
		log.Error().Err(err).Msg("some projections failed to apply")
	}
	log.Info().Msgf("started with %d projections", len(pg.Projections()))

	ready := atomic.Bool{}
	serverClose := startProbeServer(appCfg.ProbeAddr, &ready)
	defer serverClose()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			return errors.New("leadership lost")
		}
	})
	eg.Go(func() error {
		err := watcher.Watch(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		// cached racks are dropped on any topology change
		topology := etcdClient.TopologyWatcher(func(context.Context, []*clientv3.Event) error {
			resolver.Purge()
			return nil
		})
		err := topology.Watch(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		return rec.RunReconciler(ctx)
	})
	eg.Go(func() error {
		eventSender.Run(ctx)
		return nil
	})

	if appCfg.MembershipFromQueue {
		consumer, err := queue.NewMembershipConsumer(ctx, appCfg.Queue)
		if err != nil {
			return fmt.Errorf("failed to create membership consumer: %w", err)
		}
		defer consumer.Close()
		eg.Go(func() error {
			return consumer.Run(ctx, rec.GetEventsChan())
		})
	} else {
		memberListCfg := memberlist.Config{
			SeedNodes: appCfg.GossipSeedNodes,
		}
		err = envconfig.Init(&memberListCfg)
		if err != nil {
			return fmt.Errorf("failed to read memberlist config: %w", err)
		}
		memberList, err := memberlist.New(ctx, memberListCfg, rec.GetEventsChan())
		if err != nil {
			return fmt.Errorf("failed to init memberlist: %w", err)
		}
		defer memberList.GracefulClose(time.Second)
		if len(memberListCfg.SeedNodes) != 0 {
			if err := memberList.Join(ctx); err != nil {
				return err
			}
			log.Info().Msg("successfully joined gossip cluster")
		}
	}

	ready.Store(true)
	return eg.Wait()
}

// newResolver prefers the static table and falls back to etcd topology,
// results are cached.
func newResolver(appCfg Config, etcdClient *etcd.Client) (*rack.Cached, error) {
	static, err := rack.ParseStatic(appCfg.StaticRacks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse static racks: %w", err)
	}
	topology := etcd.NewTopologyResolver(etcdClient.Client().KV, appCfg.TopologyTimeout)
	chained := rack.ResolverFunc(func(host string) (string, bool) {
		if rackID, ok := static.Resolve(host); ok {
			return rackID, true
		}
		return topology.Resolve(host)
	})
	return rack.NewCached(chained, appCfg.TopologyCacheSize)
}

func startProbeServer(addr string, ready *atomic.Bool) func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := http.Server{
		Handler: mux,
		Addr:    addr,
	}
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start http server")
		}
	}()
	return func() {
		_ = srv.Close()
	}
}
