package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Consumer reads notifications back off the bus, for tailing tools and
// downstream processors.
type Consumer interface {
	Read(ctx context.Context) (Notification, error)
	Close() error
}

type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaConsumer struct {
	reader kafkaReader
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func NewKafkaConsumer(cfg ConsumerConfig) (*KafkaConsumer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("kafka group id required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        500 * time.Millisecond,
	})
	return &KafkaConsumer{reader: r}, nil
}

func (c *KafkaConsumer) Read(ctx context.Context) (Notification, error) {
	if c == nil || c.reader == nil {
		return Notification{}, fmt.Errorf("kafka consumer not initialized")
	}
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return Notification{}, err
	}
	var n Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

func (c *KafkaConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
