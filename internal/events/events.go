// Package events carries pipeline notifications between components and out
// to Kafka.
package events

import (
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"
)

// Topics published by the pipeline.
const (
	TopicSyncCompleted    = "sync:completed"
	TopicBatchProcessed   = "batch:processed"
	TopicBufferEmpty      = "buffer:empty"
	TopicCleanupCompleted = "cleanup:completed"
)

// AllTopics lists every topic, in publication order of a typical cycle.
var AllTopics = []string{
	TopicSyncCompleted,
	TopicBatchProcessed,
	TopicBufferEmpty,
	TopicCleanupCompleted,
}

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(topic string, payload any)
}

// Keyed payloads choose their own Kafka message key.
type Keyed interface {
	EventKey() string
}

// BufferEmpty is published when a drain leaves nothing queued.
type BufferEmpty struct {
	Time time.Time `json:"time"`
}

// Bus is an asynchronous in-process publish/subscribe hub.
type Bus struct {
	bus    EventBus.Bus
	logger *logrus.Logger
}

func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{bus: EventBus.New(), logger: logger}
}

// Publish hands payload to every subscriber of topic. It never blocks on
// subscribers.
func (b *Bus) Publish(topic string, payload any) {
	b.logger.Debugf("Published to topic %s", topic)
	b.bus.Publish(topic, payload)
}

// Subscribe registers fn for topic. Deliveries for one subscriber are
// serialized.
func (b *Bus) Subscribe(topic string, fn func(payload any)) error {
	if err := b.bus.SubscribeAsync(topic, fn, true); err != nil {
		return err
	}
	b.logger.Infof("Subscribed to topic %s", topic)
	return nil
}

// Wait blocks until every in-flight asynchronous delivery has returned.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(string, any) {}
