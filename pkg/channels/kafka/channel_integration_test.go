//go:build integration

package kafka

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/regcycle/pkg/eventbus"
	"github.com/dukex/regcycle/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func setupKafka(t *testing.T) []string {
	t.Helper()

	ctx := context.Background()

	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("regcycle-test"),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, testcontainers.TerminateContainer(container))
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0

	admin, err := sarama.NewClusterAdmin(brokers, config)
	require.NoError(t, err)

	defer func() { _ = admin.Close() }()

	err = admin.CreateTopic(events.Topic, &sarama.TopicDetail{NumPartitions: 3, ReplicationFactor: 1}, false)
	require.NoError(t, err)

	return brokers
}

func TestChannel_DeliversCollaborationEvents(t *testing.T) {
	brokers := setupKafka(t)

	pub, sub, err := CreateChannel(watermill.NewSlogLogger(slog.Default()), Config{
		Brokers:       brokers,
		ConsumerGroup: "regcycle-test-node",
	})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())

	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan *events.CycleArchived, 10)

	require.NoError(t, bus.Handle(events.CycleArchivedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.CycleArchived)

		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	t.Cleanup(cancel)

	require.NoError(t, bus.Subscribe(ctx))

	archived := events.CycleArchived{
		BaseEvent: events.NewBaseEvent(events.CycleArchivedEvent, "tenant-a", "cycle-1", time.Now()),
		Payload:   events.CyclePayload{Status: "archived", ActorID: "alice"},
	}

	// the consumer group starts at the newest offset, so publish until its partitions are assigned
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		require.NoError(t, bus.Publish(ctx, archived.Key(), archived))

		select {
		case event := <-received:
			assert.Equal(t, "tenant-a", event.TenantID)
			assert.Equal(t, "cycle-1", event.CycleID)
			assert.Equal(t, "alice", event.Payload.ActorID)

			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("event was not delivered")
		}
	}
}
