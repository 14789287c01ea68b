package events

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

// ConfluentSink produces events with librdkafka.
type ConfluentSink struct {
	producer *kafka.Producer
	topic    string
	logger   *logrus.Logger
}

// NewConfluentSink creates a producer and starts draining its delivery reports.
func NewConfluentSink(broker, topic string, logger *logrus.Logger) (*ConfluentSink, error) {
	config := kafka.ConfigMap{
		"bootstrap.servers": broker,
	}

	producer, err := kafka.NewProducer(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	s := &ConfluentSink{producer: producer, topic: topic, logger: logger}
	s.startDeliveryReport()
	logger.Info("Kafka Producer initialized successfully")
	return s, nil
}

// Check Events channel of kafka and report failed deliveries.
func (s *ConfluentSink) startDeliveryReport() {
	go func() {
		for e := range s.producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					s.logger.Errorf("Message delivery failed: %v", ev.TopicPartition.Error)
				}
			}
		}
	}()
}

func (s *ConfluentSink) Send(ctx context.Context, key string, value []byte) error {
	return s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, nil)
}

func (s *ConfluentSink) Close() {
	if s.producer != nil {
		s.producer.Flush(5000)
		s.producer.Close()
		s.logger.Info("Kafka Producer closed")
	}
}
