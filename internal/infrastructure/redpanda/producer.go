// Package redpanda carries committed medication records and status
// snapshots over Kafka-compatible topics with franz-go.
package redpanda

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig configures the producer. Acks is -1 for all in-sync
// replicas, 1 for the leader only and 0 for none; anything but -1 turns off
// idempotent writes.
type ProducerConfig struct {
	Brokers      []string
	Linger       time.Duration
	Compression  string
	Acks         int16
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultProducerConfig favours durability over throughput. Record events
// are few and each one matters.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Linger:       5 * time.Millisecond,
		Compression:  "zstd",
		Acks:         -1,
		MaxRetries:   5,
		RetryBackoff: 200 * time.Millisecond,
	}
}

var codecs = map[string]kgo.CompressionCodec{
	"gzip":   kgo.GzipCompression(),
	"snappy": kgo.SnappyCompression(),
	"lz4":    kgo.Lz4Compression(),
	"zstd":   kgo.ZstdCompression(),
}

func (cfg ProducerConfig) options() ([]kgo.Opt, error) {
	backoff := cfg.RetryBackoff
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return backoff * time.Duration(attempt+1)
		}),
	}

	switch cfg.Acks {
	case -1:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	case 0:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	default:
		return nil, fmt.Errorf("unsupported acks %d", cfg.Acks)
	}

	if cfg.Compression != "" && cfg.Compression != "none" {
		codec, ok := codecs[cfg.Compression]
		if !ok {
			return nil, fmt.Errorf("unsupported compression %q", cfg.Compression)
		}
		opts = append(opts, kgo.ProducerBatchCompression(codec))
	}
	return opts, nil
}

// Producer publishes messages and waits for each acknowledgment
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer

	sent   atomic.Int64
	bytes  atomic.Int64
	failed atomic.Int64
}

// NewProducer connects a producer to cfg.Brokers
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{
		client: client,
		logger: logger,
		tracer: otel.Tracer("medscan/redpanda"),
	}, nil
}

// Publish sends value to topic under key and blocks until the broker
// acknowledges it. The caller's trace context travels in the headers.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.kafka.message.key", key),
			attribute.Int("messaging.message.body.size", len(value)),
		))
	defer span.End()

	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	injectTraceHeaders(ctx, rec)

	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		p.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "produce failed")
		p.logger.Error("produce failed",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	p.sent.Add(1)
	p.bytes.Add(int64(len(value)))
	span.SetAttributes(
		attribute.Int64("messaging.kafka.destination.partition", int64(rec.Partition)),
		attribute.Int64("messaging.kafka.message.offset", rec.Offset))
	p.logger.Debug("produced",
		zap.String("topic", rec.Topic),
		zap.Int32("partition", rec.Partition),
		zap.Int64("offset", rec.Offset))
	return nil
}

// Ping checks broker connectivity
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records for up to ten seconds and closes the client
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		return fmt.Errorf("flush producer: %w", err)
	}
	return nil
}

// ProducerStats counts what the producer has sent
type ProducerStats struct {
	Sent   int64 `json:"sent"`
	Bytes  int64 `json:"bytes"`
	Failed int64 `json:"failed"`
}

// Stats returns current producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Sent:   p.sent.Load(),
		Bytes:  p.bytes.Load(),
		Failed: p.failed.Load(),
	}
}
