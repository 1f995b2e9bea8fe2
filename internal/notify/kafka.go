// Package notify publishes committed ingestion events to Kafka.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gjallarhorn-io/gjallarhorn/internal/config"
	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
)

const (
	defaultTopic        = "gjallarhorn.ingestion"
	defaultWriteTimeout = 5 * time.Second

	headerEventType = "event-type"
)

// ErrNoBrokers is returned when a KafkaNotifier is built without brokers.
var ErrNoBrokers = errors.New("kafka brokers cannot be empty")

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// LoadConfig loads Kafka configuration from environment variables.
// KAFKA_BROKERS is a comma-separated list; empty disables notifications.
func LoadConfig() *Config {
	return &Config{
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")),
		Topic:        config.GetEnvStr("KAFKA_TOPIC", defaultTopic),
		WriteTimeout: config.GetEnvDuration("KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// Enabled reports whether any broker is configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// messageWriter is the subset of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier implements ingestion.Notifier by writing one JSON message per event.
// Messages are keyed by project so events of one project stay ordered within a partition.
type KafkaNotifier struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

var _ ingestion.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier creates a notifier writing to cfg.Topic on cfg.Brokers.
func NewKafkaNotifier(cfg *Config, logger *slog.Logger) (*KafkaNotifier, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBrokers
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           cfg.WriteTimeout,
	}

	return newKafkaNotifier(writer, cfg, logger), nil
}

func newKafkaNotifier(writer messageWriter, cfg *Config, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	return &KafkaNotifier{writer: writer, topic: cfg.Topic, timeout: timeout, logger: logger}
}

// Notify publishes event. It blocks until the broker acknowledges or the write times out.
func (n *KafkaNotifier) Notify(ctx context.Context, event ingestion.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	// The request context may already be finishing; publishing keeps its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.Project),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.Type)},
		},
	}

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event to %s: %w", event.Type, n.topic, err)
	}

	n.logger.DebugContext(ctx, "Published ingestion event",
		slog.String("type", string(event.Type)),
		slog.String("topic", n.topic),
		slog.String("project", event.Project),
	)

	return nil
}

// Close flushes pending writes and closes broker connections.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
