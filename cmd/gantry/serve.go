package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/pkg/api"
	"github.com/gantryhq/gantry/pkg/asg"
	"github.com/gantryhq/gantry/pkg/config"
	"github.com/gantryhq/gantry/pkg/coordination"
	"github.com/gantryhq/gantry/pkg/events"
	"github.com/gantryhq/gantry/pkg/intake"
	"github.com/gantryhq/gantry/pkg/log"
	"github.com/gantryhq/gantry/pkg/metrics"
	"github.com/gantryhq/gantry/pkg/orchestrator"
	"github.com/gantryhq/gantry/pkg/pipeline"
	"github.com/gantryhq/gantry/pkg/reconciler"
	"github.com/gantryhq/gantry/pkg/storage"
	"github.com/gantryhq/gantry/pkg/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Gantry server",
	Long: `Run the Gantry server: the HTTP API, the deployment queue workers, the
remote task tracker and the startup sweep that recovers deployments
interrupted by the previous shutdown.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	metrics.SetVersion(Version)

	store, err := storage.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open deployment store: %w", err)
	}
	defer store.Close()

	rdb := coordination.Dial(coordination.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	coord := coordination.New(rdb, cfg.Redis.KeyPrefix)
	if err := coord.Healthy(cmd.Context()); err != nil {
		return fmt.Errorf("coordination store unavailable: %w", err)
	}

	queue := coordination.NewQueue(rdb, cfg.Redis.KeyPrefix, coordination.QueueOptions{
		Workers:      cfg.Queue.Workers,
		LockDuration: cfg.Queue.LockDuration.Std(),
		EmptyBackoff: cfg.Queue.EmptyBackoff.Std(),
		Throttle:     cfg.Queue.Throttle.Std(),
		ReapInterval: cfg.Queue.ReapInterval.Std(),
	})

	remote := asg.New(asg.Config{
		BaseURL:         cfg.Remote.BaseURL,
		EnvironmentURLs: cfg.Remote.EnvironmentURLs,
		ConnectTimeout:  cfg.Remote.ConnectTimeout.Std(),
		Timeout:         cfg.Remote.Timeout.Std(),
	})

	pool := tracker.NewPool(0)
	pool.Start()
	defer pool.Stop()

	track := tracker.New(pool, remote, store, tracker.Options{
		PollInterval: cfg.Tracker.PollInterval.Std(),
		MaxRetries:   cfg.Tracker.MaxRetries,
	})
	defer track.Stop()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	engine := pipeline.New(store, remote, track, pool, coord, broker, cfg.Deploy, pipeline.Options{
		HealthPollInterval: cfg.Health.PollInterval.Std(),
		HealthMaxAttempts:  cfg.Health.MaxAttempts,
		HealthTimeout:      cfg.Health.Timeout.Std(),
	})
	defer engine.Stop()

	orch := orchestrator.New(store, coord, queue, engine, broker)

	images := intake.NewHTTPImageService(cfg.Remote.ImagesURL, cfg.Remote.Timeout.Std())
	props := intake.NewHTTPPropertiesService(cfg.Remote.PropertiesURL, cfg.Remote.Timeout.Std())
	in := intake.New(store, coord, queue, images, props, cfg.Deploy, broker)

	collector := metrics.NewCollector(coord, queue)
	collector.AddProbe("coordination", coord.Healthy)
	collector.AddProbe("store", func(context.Context) error { return store.Healthy() })
	collector.Start()
	defer collector.Stop()

	repair := reconciler.New(store, coord, reconciler.Options{})
	repair.Start()
	defer repair.Stop()

	// recover interrupted deployments, then start consuming the queue
	if err := orch.Start(cmd.Context()); err != nil {
		return err
	}
	defer orch.Stop()

	server := api.New(in, orch, store, coord, broker, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.ListenAddress); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	fmt.Printf("Gantry %s listening on %s\n", Version, cfg.Server.ListenAddress)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "API shutdown: %v\n", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
