package notify

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
)

const kafkaImage = "confluentinc/confluent-local:7.5.0"

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)

	defer func() { _ = controllerConn.Close() }()

	require.NoError(t, controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func TestKafkaNotifierIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID("gjallarhorn-test"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	const topic = "gjallarhorn.ingestion.test"

	createTopic(t, brokers[0], topic)

	notifier, err := NewKafkaNotifier(&Config{Brokers: brokers, Topic: topic, WriteTimeout: 10 * time.Second}, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = notifier.Close() })

	event := ingestion.Event{
		Type:        ingestion.EventScenarioSaved,
		OccurredAt:  time.Now().UTC().Truncate(time.Millisecond),
		Project:     "alpha",
		Environment: "web",
		ScenarioID:  42,
		Tests:       1,
		Steps:       2,
	}

	require.NoError(t, notifier.Notify(ctx, event))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MaxBytes:  1 << 20,
	})

	t.Cleanup(func() { _ = reader.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)

	assert.Equal(t, "alpha", string(msg.Key))

	var got ingestion.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, ingestion.EventScenarioSaved, got.Type)
	assert.Equal(t, int64(42), got.ScenarioID)
	assert.Equal(t, 2, got.Steps)
}
