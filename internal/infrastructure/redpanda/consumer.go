package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig configures a group consumer. FromLatest starts a new group
// at the end of each partition instead of the beginning.
type ConsumerConfig struct {
	Brokers           []string
	GroupID           string
	Topics            []string
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	FromLatest        bool
}

// DefaultConsumerConfig returns defaults for the status feed worker
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:           []string{"localhost:9092"},
		GroupID:           "medication-status",
		Topics:            []string{TopicMedicationRecords},
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	}
}

// MessageHandler is called for each consumed message
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// Publisher sends a message; the dead letter path uses it
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// ConsumedMessage is one record handed to a MessageHandler
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

func newConsumedMessage(r *kgo.Record) *ConsumedMessage {
	msg := &ConsumedMessage{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   make(map[string]string, len(r.Headers)),
		Timestamp: r.Timestamp,
	}
	for _, h := range r.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

// Consumer reads messages with manual offset commits. A message is
// committed once its handler succeeds or it has been dead-lettered.
type Consumer struct {
	client     *kgo.Client
	logger     *zap.Logger
	tracer     trace.Tracer
	handler    MessageHandler
	deadLetter Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	handled      atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
}

// NewConsumer joins cfg.GroupID and hands every record to handler
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reset := kgo.NewOffset().AtStart()
	if cfg.FromLatest {
		reset = kgo.NewOffset().AtEnd()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.HeartbeatInterval(cfg.HeartbeatInterval),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:  client,
		logger:  logger,
		tracer:  otel.Tracer("medscan/redpanda"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// WithDeadLetter routes messages whose handler fails to TopicDeadLetter
// instead of leaving them uncommitted
func (c *Consumer) WithDeadLetter(p Publisher) *Consumer {
	c.deadLetter = p
	return c
}

// Start begins polling in the background
func (c *Consumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poll()
	}()
}

// Stop waits for the in-flight batch, commits what was marked and closes
// the client
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.client.CommitMarkedOffsets(ctx)
	c.client.Close()
	if err != nil {
		return fmt.Errorf("commit on stop: %w", err)
	}
	return nil
}

func (c *Consumer) poll() {
	for {
		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.failed.Add(1)
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		fetches.EachRecord(func(r *kgo.Record) {
			if c.handle(r) {
				c.client.MarkCommitRecords(r)
			}
		})
		if err := c.client.CommitMarkedOffsets(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Error("commit failed", zap.Error(err))
		}
	}
}

// handle reports whether r may be committed
func (c *Consumer) handle(r *kgo.Record) bool {
	ctx, span := c.tracer.Start(extractTraceContext(c.ctx, r), "process "+r.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", r.Topic),
			attribute.Int64("messaging.kafka.destination.partition", int64(r.Partition)),
			attribute.Int64("messaging.kafka.message.offset", r.Offset),
		))
	defer span.End()

	msg := newConsumedMessage(r)
	err := c.handler(ctx, msg)
	if err == nil {
		c.handled.Add(1)
		return true
	}

	c.failed.Add(1)
	span.RecordError(err)
	c.logger.Error("message handler failed",
		zap.String("topic", r.Topic),
		zap.Int32("partition", r.Partition),
		zap.Int64("offset", r.Offset),
		zap.Error(err))

	if c.deadLetter == nil {
		return false
	}
	if dlErr := c.deadLetter.Publish(ctx, TopicDeadLetter, string(r.Key), newDeadLetter(msg, err).encode()); dlErr != nil {
		c.logger.Error("dead letter publish failed", zap.Error(dlErr))
		return false
	}
	c.deadLettered.Add(1)
	return true
}

// deadLetter is the body written to TopicDeadLetter
type deadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	Partition     int32           `json:"partition"`
	Offset        int64           `json:"offset"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func newDeadLetter(msg *ConsumedMessage, cause error) deadLetter {
	payload := json.RawMessage(msg.Value)
	if !json.Valid(payload) {
		// keep non-JSON payloads readable as a string
		payload, _ = json.Marshal(string(msg.Value))
	}
	return deadLetter{
		OriginalTopic: msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Payload:       payload,
		Error:         cause.Error(),
		FailedAt:      time.Now().UTC(),
	}
}

func (d deadLetter) encode() []byte {
	b, _ := json.Marshal(d)
	return b
}

// ConsumerStats counts handled and failed messages
type ConsumerStats struct {
	Handled      int64 `json:"handled"`
	Failed       int64 `json:"failed"`
	DeadLettered int64 `json:"dead_lettered"`
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Handled:      c.handled.Load(),
		Failed:       c.failed.Load(),
		DeadLettered: c.deadLettered.Load(),
	}
}
