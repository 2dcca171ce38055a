package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the forwarder needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a synchronous writer that keys messages by
// workspace so one workspace's events stay ordered within a partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
}

// KafkaForwarder copies every bus event to a Kafka topic.
type KafkaForwarder struct {
	Bus    *Bus
	Writer MessageWriter
	Logger *slog.Logger
}

// Run forwards events until ctx is done. Write failures are logged and the
// event is dropped; the bus table remains the source of truth.
func (f *KafkaForwarder) Run(ctx context.Context) error {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if err := f.Writer.Close(); err != nil {
			logger.Warn("close kafka writer", "error", err)
		}
	}()

	sub := f.Bus.Subscribe(ctx, nil)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub:
			if !ok {
				return nil
			}
			value, err := json.Marshal(evt)
			if err != nil {
				logger.Warn("encode event for kafka", "event_id", evt.ID, "error", err)
				continue
			}
			msg := kafka.Message{
				Key:   []byte(evt.WorkspaceID),
				Value: value,
				Headers: []kafka.Header{
					{Key: "stream", Value: []byte(evt.Stream)},
					{Key: "event_id", Value: []byte(evt.ID)},
				},
			}
			if err := f.Writer.WriteMessages(ctx, msg); err != nil {
				logger.Warn("forward event to kafka", "event_id", evt.ID, "stream", evt.Stream, "error", err)
			}
		}
	}
}
