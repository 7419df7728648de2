// Package kafka publishes audit events to a Kafka-compatible broker with franz-go.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// Config selects the brokers and topic.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Producer is the subset of *kgo.Client used for publishing.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher writes JSON records keyed by domain.
type Publisher struct {
	producer Producer
	topic    string
}

// Open creates a franz-go client for cfg.
func Open(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return New(client, cfg.Topic), nil
}

// New wraps an existing producer.
func New(producer Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Publish produces one record and returns "topic/partition/offset".
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	rec := &kgo.Record{
		Topic:   p.topic,
		Value:   data,
		Headers: []kgo.RecordHeader{{Key: "event_type", Value: []byte(topic)}},
	}
	if ev, ok := payload.(audit.Event); ok {
		rec.Key = []byte(ev.Domain)
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{rec: rec})

	out, err := p.producer.ProduceSync(ctx, rec).First()
	if err != nil {
		return "", fmt.Errorf("produce record: %w", err)
	}
	return fmt.Sprintf("%s/%d/%d", out.Topic, out.Partition, out.Offset), nil
}

// Close flushes and closes the client.
func (p *Publisher) Close() error {
	p.producer.Close()
	return nil
}

type headerCarrier struct {
	rec *kgo.Record
}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.rec.Headers {
		if h.Key == key {
			c.rec.Headers[i].Value = []byte(value)
			return
		}
	}
	c.rec.Headers = append(c.rec.Headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.rec.Headers))
	for _, h := range c.rec.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
