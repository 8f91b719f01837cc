package broadcast

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaChannel publishes payloads to per-kind Kafka topics.
type KafkaChannel struct {
	writer *kafkago.Writer
	topics map[Kind]string
}

// NewKafkaChannel creates a Kafka channel. Topics are derived from the
// prefix: <prefix>.sensor-data, <prefix>.alerts, <prefix>.system-status.
func NewKafkaChannel(brokers []string, topicPrefix string) *KafkaChannel {
	return &KafkaChannel{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Balancer:               &kafkago.LeastBytes{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topics: map[Kind]string{
			KindSensorData:   topicPrefix + ".sensor-data",
			KindAlert:        topicPrefix + ".alerts",
			KindSystemStatus: topicPrefix + ".system-status",
		},
	}
}

func (k *KafkaChannel) Name() string { return "kafka" }

func (k *KafkaChannel) Kinds() []Kind {
	return []Kind{KindSensorData, KindAlert, KindSystemStatus}
}

func (k *KafkaChannel) Publish(ctx context.Context, kind Kind, payload []byte) error {
	topic, ok := k.topics[kind]
	if !ok {
		return fmt.Errorf("no topic for kind %q", kind)
	}
	err := k.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

func (k *KafkaChannel) Close() error {
	return k.writer.Close()
}
