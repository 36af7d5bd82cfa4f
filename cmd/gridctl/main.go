package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/vrischmann/envconfig"

	"github.com/Sh00ty/projected-grid/internal/etcd"
	"github.com/Sh00ty/projected-grid/internal/models"
	"github.com/Sh00ty/projected-grid/internal/repository/postgres"
)

type Config struct {
	EtcdHosts []string `envconfig:"ETCD_HOSTS"`
	Postgres  postgres.Config
}

func loadConfig() (Config, error) {
	_ = godotenv.Load()
	cfg := Config{}
	if err := envconfig.Init(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return cfg, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	root := &cobra.Command{
		Use:          "gridctl",
		Short:        "Manage projection definitions and rack topology of the projected grid",
		SilenceUsage: true,
	}
	root.AddCommand(putCommand(), deleteCommand(), listCommand(), rackCommand())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func putCommand() *cobra.Command {
	var (
		file     string
		override bool
	)
	cmd := &cobra.Command{
		Use:   "put NAME",
		Short: "Store a projection definition, or an etcd override with --override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			data := models.ProjectionData{}
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("failed to decode projection data: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if override {
				return withEtcd(cfg, func(c *etcd.Client) error {
					return c.PutProjection(cmd.Context(), args[0], data)
				})
			}
			return withRepo(cmd.Context(), cfg, func(r *postgres.Repository) error {
				return r.UpsertProjection(cmd.Context(), args[0], data)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "projection data json file")
	cmd.Flags().BoolVar(&override, "override", false, "write an etcd override instead of the durable definition")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func deleteCommand() *cobra.Command {
	var override bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a projection definition, or its etcd override with --override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if override {
				return withEtcd(cfg, func(c *etcd.Client) error {
					return c.DeleteProjection(cmd.Context(), args[0])
				})
			}
			return withRepo(cmd.Context(), cfg, func(r *postgres.Repository) error {
				deleted, err := r.DeleteProjection(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("projection %s not found", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&override, "override", false, "delete the etcd override instead of the durable definition")
	return cmd
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [NAME...]",
		Short: "Print durable projection definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), cfg, func(r *postgres.Repository) error {
				projections, err := r.GetProjections(cmd.Context(), args...)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(projections))
				for name := range projections {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, projections[name])
				}
				return nil
			})
		},
	}
}

func rackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rack HOST RACK",
		Short: "Assign a host to a rack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withEtcd(cfg, func(c *etcd.Client) error {
				return c.SetHostRack(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func withEtcd(cfg Config, fn func(c *etcd.Client) error) error {
	clnt, err := etcd.NewClient(cfg.EtcdHosts, "gridctl", 5*time.Second)
	if err != nil {
		return err
	}
	defer clnt.Close()
	return fn(clnt)
}

func withRepo(ctx context.Context, cfg Config, fn func(r *postgres.Repository) error) error {
	repo, err := postgres.NewRepo(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo)
}
