package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/regcycle/pkg/channels/gochannel"
	"github.com/dukex/regcycle/pkg/channels/kafka"
	"github.com/dukex/regcycle/pkg/eventbus"
)

// EventBusConfig selects the transport of collaboration events.
type EventBusConfig struct {
	Provider      string
	KafkaBrokers  []string
	ConsumerGroup string
	OTELEnabled   bool
}

func NewEventBus(config EventBusConfig, logger *slog.Logger) *eventbus.WatermillEventBus {
	wmLogger := watermill.NewSlogLogger(logger)

	switch config.Provider {
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-process pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger)
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.Config{
			Brokers:       config.KafkaBrokers,
			ConsumerGroup: config.ConsumerGroup,
			OTELEnabled:   config.OTELEnabled,
		})
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger)
	default:
		panic("Unsupported event bus provider: " + config.Provider)
	}
}
