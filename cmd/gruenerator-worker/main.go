// gruenerator-worker runs the background worker standalone: the outbox
// relay, the ingest request consumer, and the vector index health
// probe. Deployments that containerize per process use this binary;
// `gruenerator worker` does the same inside the CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/config"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/instance"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/migrate"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/events"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	runMigrations := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "gruenerator-worker",
		Level: hclog.Info,
	})

	var cfg *config.Config
	if *configPath == "" {
		cfg = config.DevDefault()
	} else {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}
	}
	if level := hclog.LevelFromString(cfg.LogLevel); level != hclog.NoLevel {
		logger.SetLevel(level)
	}

	logger.Info("starting gruenerator-worker", "config", *configPath)

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *runMigrations); err != nil &&
		!errors.Is(err, context.Canceled) {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}

	logger.Info("gruenerator-worker stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger hclog.Logger, runMigrations bool) error {
	inst, err := instance.New(ctx, cfg, logger, instance.Options{})
	if err != nil {
		return err
	}
	defer inst.Close()

	if runMigrations {
		sqlDB, err := inst.DB.DB()
		if err != nil {
			return err
		}
		if err := migrate.RunMigrations(sqlDB, cfg.Database.Driver); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		inst.VectorIndex.WatchHealth(gctx)
		return nil
	})

	if len(cfg.Events.Brokers) == 0 {
		logger.Warn("no event brokers configured, relay and consumer disabled")
	} else {
		relay, err := events.NewRelay(events.RelayConfig{
			DB:      inst.DB,
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.EventTopic,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return relay.Start(gctx)
		})

		consumer, err := events.NewConsumer(events.ConsumerConfig{
			Ingestor: inst.Ingest,
			Brokers:  cfg.Events.Brokers,
			Topic:    cfg.Events.RequestTopic,
			Group:    cfg.Events.ConsumerGroup,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	logger.Info("worker started")
	return g.Wait()
}
