package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"

	"github.com/Sh00ty/projected-grid/internal/memberlist"
	"github.com/Sh00ty/projected-grid/internal/models"
)

func loggerLevelFromString(level string) zerolog.Level {
	switch strings.ToLower(level) {
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

// Config describes the worker this process advertises to the gridmasters.
type Config struct {
	LoggerLevel  string   `envconfig:"LOGGER_LEVEL,optional"`
	WorkerID     string   `envconfig:"WORKER_ID"`
	Host         string   `envconfig:"WORKER_HOST"`
	MemoryMB     int64    `envconfig:"WORKER_MEMORY_MB,default=1024"`
	VirtualCores int      `envconfig:"WORKER_VCORES,default=1"`
	Priority     int      `envconfig:"WORKER_PRIORITY,default=0"`
	SeedNodes    []string `envconfig:"GOSSIP_SEED_NODES"`

	Gossip memberlist.Config
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()
	cfg := Config{}
	err := envconfig.Init(&cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read worker config")
	}
	log.Logger = log.Level(loggerLevelFromString(cfg.LoggerLevel))

	cfg.Gossip.SeedNodes = cfg.SeedNodes
	cfg.Gossip.Member = &models.GridMember{
		ID:   models.MemberID(cfg.WorkerID),
		Host: cfg.Host,
		Resource: models.Resource{
			MemoryMB:     cfg.MemoryMB,
			VirtualCores: cfg.VirtualCores,
		},
		Priority: cfg.Priority,
	}
	if cfg.Gossip.NodeName == "" {
		cfg.Gossip.NodeName = cfg.WorkerID
	}

	// workers only advertise themselves, events of other nodes are dropped
	events := make(chan models.MemberShipEvent, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-events:
			}
		}
	}()
	ml, err := memberlist.New(ctx, cfg.Gossip, events)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start gossip")
	}
	err = ml.Join(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to join gossip cluster")
	}
	log.Warn().Msgf("worker %s joined grid with %d nodes", cfg.WorkerID, ml.Members())

	<-ctx.Done()
	if err := ml.GracefulClose(5 * time.Second); err != nil {
		log.Error().Err(err).Msg("failed to leave gossip cluster")
	}
}
