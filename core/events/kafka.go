/*Package events publishes resource mutation notifications to Kafka.

One message is produced per committed create, update or delete. Messages
are keyed by resource so consumers see the mutations of one resource in
order.
*/
package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/logger"
)

// DefaultTopic is the topic notifications go to unless configured otherwise.
const DefaultTopic = "resource_notification"

// KafkaNotifier implements core.Notifier on a Kafka topic.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier producing to the given brokers.
// Writes are asynchronous; a failed delivery is logged, never propagated
// to the request that caused it.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Default().WithError(err).Errorln("kafka delivery failed for", len(messages), "notifications")
			}
		},
	}
	return &KafkaNotifier{writer: writer}
}

// Notify produces one notification message. The payload is the serialized
// resource document as returned to the client.
func (n *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	err := n.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(resource),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "resource", Value: []byte(resource)},
			{Key: "operation", Value: []byte(operation)},
		},
		Time: time.Now().UTC(),
	})
	if err != nil {
		logger.Default().WithError(err).Errorln("cannot enqueue notification for", resource)
	}
}

// Close flushes pending messages and releases the producer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
