package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dukex/regcycle/pkg/cmd"
	"github.com/dukex/regcycle/pkg/eventbus"
	"github.com/dukex/regcycle/pkg/events"
	"github.com/dukex/regcycle/pkg/log"
	cli "github.com/urfave/cli/v3"
)

// WatchCommand prints collaboration events as JSON lines, one per event.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print collaboration events as they are published",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "tenant",
				Usage: "Only print events of this tenant",
			},
		}, eventBusFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("watch")

			eventBus := cmd.NewEventBus(eventBusConfig(command), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			if err := subscribeAll(eventBus, printer(os.Stdout, command.String("tenant"))); err != nil {
				return err
			}

			if err := eventBus.Subscribe(ctx); err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}

			<-ctx.Done()

			return nil
		},
	}
}

func subscribeAll(bus eventbus.EventSubscriber, handler eventbus.EventHandler) error {
	for _, eventType := range events.Types {
		if err := bus.Handle(eventType, handler); err != nil {
			return err
		}
	}

	return nil
}

func printer(w io.Writer, tenantID string) eventbus.EventHandler {
	encoder := json.NewEncoder(w)

	return func(_ context.Context, event any) error {
		if tenantID != "" {
			if scoped, ok := event.(interface{ Tenant() string }); ok && scoped.Tenant() != tenantID {
				return nil
			}
		}

		return encoder.Encode(event)
	}
}
