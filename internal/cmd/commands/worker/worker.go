package worker

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd/base"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/instance"
	"github.com/netzbegruenung/Gruenerator-sub005/internal/migrate"
	"github.com/netzbegruenung/Gruenerator-sub005/pkg/events"
)

type Command struct {
	*base.Command

	flagConfig  string
	flagMigrate bool
}

func (c *Command) Synopsis() string {
	return "Run the background worker"
}

func (c *Command) Help() string {
	return `Usage: gruenerator worker [options]

  Run the long-lived worker: the outbox relay publishing document
  lifecycle events, the ingest request consumer, and the vector index
  health probe. The worker runs until interrupted.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("worker", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "", "Path to the config file.",
	)
	f.BoolVar(
		&c.flagMigrate, "migrate", false,
		"Run database migrations before starting.",
	)

	return f
}

func (c *Command) Run(args []string) int {
	ui, log := c.UI, c.Log

	f := c.Flags()
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := c.LoadConfig(c.flagConfig)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	inst, err := instance.New(ctx, cfg, log, instance.Options{})
	if err != nil {
		ui.Error(fmt.Sprintf("error initializing services: %v", err))
		return 1
	}
	defer inst.Close()

	if c.flagMigrate {
		sqlDB, err := inst.DB.DB()
		if err != nil {
			ui.Error(fmt.Sprintf("error getting database handle: %v", err))
			return 1
		}
		if err := migrate.RunMigrations(sqlDB, cfg.Database.Driver); err != nil {
			ui.Error(fmt.Sprintf("error running migrations: %v", err))
			return 1
		}
		log.Info("database migrations applied")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		inst.VectorIndex.WatchHealth(gctx)
		return nil
	})

	if len(cfg.Events.Brokers) == 0 {
		log.Warn("no event brokers configured, relay and consumer disabled")
	} else {
		relay, err := events.NewRelay(events.RelayConfig{
			DB:      inst.DB,
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.EventTopic,
			Logger:  log,
		})
		if err != nil {
			ui.Error(fmt.Sprintf("error creating outbox relay: %v", err))
			return 1
		}
		g.Go(func() error {
			return relay.Start(gctx)
		})

		consumer, err := events.NewConsumer(events.ConsumerConfig{
			Ingestor: inst.Ingest,
			Brokers:  cfg.Events.Brokers,
			Topic:    cfg.Events.RequestTopic,
			Group:    cfg.Events.ConsumerGroup,
			Logger:   log,
		})
		if err != nil {
			ui.Error(fmt.Sprintf("error creating ingest consumer: %v", err))
			return 1
		}
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	log.Info("worker started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		ui.Error(fmt.Sprintf("worker stopped with error: %v", err))
		return 1
	}
	log.Info("worker stopped")
	return 0
}
