package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dukex/regcycle/pkg/cmd"
	"github.com/dukex/regcycle/pkg/config"
	"github.com/dukex/regcycle/pkg/locking"
	"github.com/dukex/regcycle/pkg/log"
	"github.com/dukex/regcycle/pkg/otelhelper"
	"github.com/dukex/regcycle/pkg/presence"
	"github.com/dukex/regcycle/pkg/services"
	"github.com/dukex/regcycle/pkg/versioning"
	cli "github.com/urfave/cli/v3"
)

func eventBusFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers used by the kafka event bus",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "consumer-group",
			Usage:   "Kafka consumer group of this node",
			Value:   "regcycle-api",
			Sources: cli.EnvVars("KAFKA_CONSUMER_GROUP"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func serveFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file:// or postgres://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for step versions and locks shared between nodes",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "template",
			Usage:   "Path to a YAML cycle template replacing the built-in one",
			Sources: cli.EnvVars("CYCLE_TEMPLATE"),
		},
		&cli.DurationFlag{
			Name:    "lock-ttl",
			Usage:   "How long a step lock lives without renewal",
			Value:   locking.DefaultTTL,
			Sources: cli.EnvVars("LOCK_TTL"),
		},
		&cli.DurationFlag{
			Name:    "conflict-ttl",
			Usage:   "How long an unresolved step conflict stays pending",
			Value:   versioning.DefaultConflictTTL,
			Sources: cli.EnvVars("CONFLICT_TTL"),
		},
		&cli.DurationFlag{
			Name:    "presence-stale-after",
			Usage:   "Inactivity after which a session is considered gone",
			Value:   presence.DefaultStaleAfter,
			Sources: cli.EnvVars("PRESENCE_STALE_AFTER"),
		},
		&cli.StringFlag{
			Name:    "sweep-schedule",
			Usage:   "Cron schedule of the stale presence sweep",
			Value:   presence.DefaultSweepSchedule,
			Sources: cli.EnvVars("PRESENCE_SWEEP_SCHEDULE"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}, eventBusFlags()...)
}

func serve(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing Regcycle API")

	opts := []services.Option{}

	if command.Bool("tracing") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, "regcycle-api")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()

		opts = append(opts, services.WithTracer(tracer))
	}

	if path := command.String("template"); path != "" {
		template, err := config.LoadTemplate(path)
		if err != nil {
			return err
		}

		opts = append(opts, services.WithTemplate(template))
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.Background()); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(eventBusConfig(command), logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
	if err != nil {
		return err
	}

	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	registry, sweeper, err := cmd.NewPresenceRegistry(
		command.Duration("presence-stale-after"),
		command.String("sweep-schedule"),
		eventBus,
		logger,
	)
	if err != nil {
		return err
	}

	api := NewAPI(
		logger,
		persistence,
		cmd.NewResolver(cmd.NewVersionStore(redisClient, persistence, logger), command.Duration("conflict-ttl"), logger),
		cmd.NewLockManager(redisClient, command.Duration("lock-ttl"), eventBus, logger),
		registry,
		append(opts, services.WithPublisher(eventBus))...,
	)

	go registry.Run(ctx)

	sweeper.Start()
	defer sweeper.Stop()

	return api.Start(ctx, int(command.Int("port")))
}

func eventBusConfig(command *cli.Command) cmd.EventBusConfig {
	return cmd.EventBusConfig{
		Provider:      command.String("event-bus"),
		KafkaBrokers:  command.StringSlice("kafka-brokers"),
		ConsumerGroup: command.String("consumer-group"),
		OTELEnabled:   command.Bool("tracing"),
	}
}
