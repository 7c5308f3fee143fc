package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/corona-data-etl/internal/config"
	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

// publishBatchSize bounds how many serialized series are held in memory per
// WriteMessages call.
const publishBatchSize = 500

// Writer publishes applied snapshots to a Kafka topic, one message per place.
// It implements pipeline.Sink.
type Writer struct {
	writer     *kafkago.Writer
	brokers    []string
	partitions int
	logger     *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic. Messages
// are keyed by place and hash-balanced so every version of a place lands on
// the same partition.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{
		writer:     w,
		brokers:    cfg.KafkaBrokers,
		partitions: cfg.KafkaTopicPartitions,
		logger:     logger,
	}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Publish writes every place of snap to the topic in place order.
func (w *Writer) Publish(ctx context.Context, snap domain.Snapshot) error {
	if len(snap.Dataset) == 0 {
		return nil
	}
	places := make([]string, 0, len(snap.Dataset))
	for place := range snap.Dataset {
		places = append(places, place)
	}
	slices.Sort(places)

	for chunk := range slices.Chunk(places, publishBatchSize) {
		msgs := make([]kafkago.Message, len(chunk))
		for i, place := range chunk {
			msg, err := serializeToMessage(place, snap.Dataset[place], snap)
			if err != nil {
				return err
			}
			msgs[i] = msg
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("write %d messages to %s: %w", len(msgs), w.writer.Topic, err)
		}
	}
	w.logger.Debug("snapshot published to kafka", "topic", w.writer.Topic, "places", len(places), "run_id", snap.RunID)
	return nil
}

// EnsureTopic creates the sink topic through the cluster controller. An
// existing topic is not an error.
func (w *Writer) EnsureTopic(ctx context.Context) error {
	if len(w.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var dialer kafkago.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", w.brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("get controller: %w", err)
	}
	controllerConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             w.writer.Topic,
		NumPartitions:     w.partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafkago.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", w.writer.Topic, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals one place series into a Kafka message.
func serializeToMessage(place string, series domain.PlaceSeries, snap domain.Snapshot) (kafkago.Message, error) {
	data, err := json.Marshal(series)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize series %q: %w", place, err)
	}
	return kafkago.Message{
		Key:   []byte(place),
		Value: data,
		Time:  snap.GeneratedAt,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(snap.RunID)},
			{Key: "generated_at", Value: []byte(snap.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
