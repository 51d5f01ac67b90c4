// Package events publishes ingestion events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"stock_ingest/internal/feature/bars/usecase"
)

// Config holds the Kafka producer settings. No brokers means events are disabled.
type Config struct {
	Brokers      []string      `envconfig:"BROKERS"`
	Topic        string        `envconfig:"TOPIC" default:"bars.appended"`
	Compression  string        `envconfig:"COMPRESSION" default:"gzip"`
	MaxAttempts  int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

// Enabled reports whether at least one broker is configured.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// messageWriter is the part of kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends BarsAppended events keyed by market and symbol,
// so events of one series stay in one partition.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

var _ usecase.BarEventPublisher = (*Publisher)(nil)

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg Config) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            parseCompression(cfg.Compression),
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w), nil
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

// PublishAppended sends one event.
func (p *Publisher) PublishAppended(ctx context.Context, ev usecase.BarsAppended) error {
	v, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Market.String() + ":" + ev.Symbol),
		Value: v,
		Time:  p.now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish bars.appended %s/%s: %w", ev.Market, ev.Symbol, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func parseCompression(s string) compress.Compression {
	switch strings.ToLower(s) {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}
