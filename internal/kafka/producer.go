package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig configures the shared writer. One writer serves all topics;
// the topic is set per message.
type ProducerConfig struct {
	Brokers      []string
	BatchTimeout time.Duration // default 50ms
}

// Producer is a thin wrapper around segmentio/kafka-go Writer. Writes are
// synchronous: Produce returns once the broker acknowledged the message, so
// broker backpressure throttles callers naturally.
type Producer struct {
	w       *kafka.Writer
	brokers []string
}

func NewProducerFromConfig(c ProducerConfig) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: bt,
		RequiredAcks: kafka.RequireAll,
	}

	return &Producer{w: w, brokers: c.Brokers}
}

// Produce sends one message. The partition key, when present, takes over as
// the Kafka message key so hashing routes by it; otherwise the plain key is
// used and unkeyed messages round-robin. A nil payload is a tombstone.
func (p *Producer) Produce(ctx context.Context, topic, key string, partitionKey *string, payload []byte) error {
	k := key
	if partitionKey != nil && *partitionKey != "" {
		k = *partitionKey
	}
	msg := kafka.Message{
		Topic: topic,
		Value: payload,
	}
	if k != "" {
		msg.Key = []byte(k)
	}
	return p.w.WriteMessages(ctx, msg)
}

// EnsureTopic creates the topic if it does not exist yet.
func (p *Producer) EnsureTopic(ctx context.Context, topic string, partitions int) error {
	if len(p.brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	if partitions <= 0 {
		partitions = 1
	}
	client := &kafka.Client{Addr: kafka.TCP(p.brokers...)}
	resp, err := client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: -1,
		}},
	})
	if err != nil {
		return err
	}
	if topicErr := resp.Errors[topic]; topicErr != nil && !errors.Is(topicErr, kafka.TopicAlreadyExists) {
		return topicErr
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
