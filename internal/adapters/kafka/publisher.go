// Package kafka streams trade notifications to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

const writeTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds broker settings.
type Config struct {
	Brokers []string
	Topic   string
	Logger  ports.Logger
}

// Publisher implements ports.Notifier on top of a Kafka writer.
type Publisher struct {
	writer MessageWriter
	topic  string
	logger ports.Logger
}

var _ ports.Notifier = (*Publisher)(nil)

// NewPublisher creates a publisher with a batching writer keyed by user id.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for kafka publisher")
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic are required", ports.ErrConfigurationError)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Zstd,
	}
	cfg.Logger.Info(context.Background(), "Kafka publisher initialized", map[string]interface{}{
		"brokers": strings.Join(cfg.Brokers, ","), "topic": cfg.Topic,
	})
	return NewPublisherWithWriter(w, cfg.Topic, cfg.Logger), nil
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w MessageWriter, topic string, logger ports.Logger) *Publisher {
	return &Publisher{writer: w, topic: topic, logger: logger}
}

// Notify writes n as one JSON message keyed by user id.
func (p *Publisher) Notify(ctx context.Context, n domain.Notification) error {
	op := "Notify"
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%s failed: encode: %w", op, err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(n.UserID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(n.Action)},
			{Key: "exchange", Value: []byte(n.Exchange)},
		},
		Time: n.At,
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("%s failed: write to %s: %w", op, p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Error(context.Background(), err, "Error closing Kafka publisher")
		return err
	}
	p.logger.Info(context.Background(), "Kafka publisher closed")
	return nil
}
