package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// Envelope is the JSON body written to Kafka.
type Envelope struct {
	Topic   string    `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Sink writes one encoded event to an external system.
type Sink interface {
	Send(ctx context.Context, key string, value []byte) error
	Close()
}

// Forward subscribes sink to topics on bus. Send failures are logged and
// dropped; events are notifications, not a source of truth.
func Forward(bus *Bus, sink Sink, logger *logrus.Logger, topics ...string) error {
	if len(topics) == 0 {
		topics = AllTopics
	}
	for _, topic := range topics {
		topic := topic
		err := bus.Subscribe(topic, func(payload any) {
			key := topic
			if k, ok := payload.(Keyed); ok {
				key = k.EventKey()
			}

			value, err := json.Marshal(Envelope{Topic: topic, Time: time.Now().UTC(), Payload: payload})
			if err != nil {
				logger.Errorf("Failed to encode %s event: %v", topic, err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sink.Send(ctx, key, value); err != nil {
				logger.Errorf("Failed to export %s event: %v", topic, err)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
