package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// WriterSink produces events with the pure-Go segmentio client, for builds
// without cgo.
type WriterSink struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

func NewWriterSink(broker, topic string, logger *logrus.Logger) *WriterSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	logger.Info("Kafka Writer initialized successfully")
	return &WriterSink{writer: writer, logger: logger}
}

func (s *WriterSink) Send(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		// shutdown in progress
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	return nil
}

func (s *WriterSink) Close() {
	if err := s.writer.Close(); err != nil {
		s.logger.Errorf("Error closing Kafka writer: %v", err)
		return
	}
	s.logger.Info("Kafka Writer closed")
}
