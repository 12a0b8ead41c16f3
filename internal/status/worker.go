// Package status derives refill and expiration snapshots from committed
// medication records and publishes them to the status topic.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/infrastructure/redpanda"
	"github.com/drfirst/medscan/internal/projection"
	"github.com/drfirst/medscan/pkg/idempotency"
	"github.com/drfirst/medscan/pkg/workerpool"
)

// HandlerName identifies the worker in the inbox
const HandlerName = "status-snapshot"

// Snapshot is the message published to the status topic, keyed by record id
type Snapshot struct {
	RecordID    string                       `json:"record_id"`
	PatientName string                       `json:"patient_name,omitempty"`
	Medication  string                       `json:"medication"`
	Day         string                       `json:"day"`
	Refill      *projection.RefillStatus     `json:"refill,omitempty"`
	Expiration  *projection.ExpirationStatus `json:"expiration,omitempty"`
	ComputedAt  time.Time                    `json:"computed_at"`
}

// Publisher sends a keyed message
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Inbox deduplicates work by key
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// RecordSource iterates records that carry a fill or expiration date
type RecordSource interface {
	EachActive(ctx context.Context, fn func(medication.Record) error) error
}

// Recorder counts published snapshots
type Recorder interface {
	StatusSnapshot(refill, expiration string)
}

// Config holds worker configuration
type Config struct {
	Topic         string
	SweepInterval time.Duration
	Pool          workerpool.Config
}

// DefaultConfig returns the daily sweep configuration
func DefaultConfig() Config {
	return Config{
		Topic:         redpanda.TopicMedicationStatus,
		SweepInterval: 24 * time.Hour,
		Pool:          workerpool.DefaultConfig(),
	}
}

// Worker computes and publishes status snapshots. Records arrive from the
// record topic and from the periodic sweep; both paths run on the pool.
type Worker struct {
	cfg       Config
	publisher Publisher
	inbox     Inbox
	records   RecordSource
	recorder  Recorder
	pool      *workerpool.Pool
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	published int64
	skipped   int64
}

// NewWorker creates a worker. inbox, records and recorder may be nil: the
// worker then publishes without deduplication, sweeps nothing and records
// no metrics.
func NewWorker(cfg Config, publisher Publisher, inbox Inbox, records RecordSource, recorder Recorder, logger *zap.Logger) (*Worker, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = redpanda.TopicMedicationStatus
	}

	w := &Worker{
		cfg:       cfg,
		publisher: publisher,
		inbox:     inbox,
		records:   records,
		recorder:  recorder,
		logger:    logger,
		tracer:    otel.Tracer("medscan/status"),
		now:       time.Now,
	}
	pool, err := workerpool.New(cfg.Pool, w.process, logger.Named("pool"))
	if err != nil {
		return nil, err
	}
	w.pool = pool
	return w, nil
}

// Start launches the pool
func (w *Worker) Start() {
	w.pool.Start()
}

// Stop drains the pool
func (w *Worker) Stop() error {
	return w.pool.Stop()
}

// HandleMessage is the consumer handler for the record topic. Undecodable
// payloads are returned as terminal errors so the consumer dead-letters
// them.
func (w *Worker) HandleMessage(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	ev, err := medication.DecodeRecordCommitted(msg.Value)
	if err != nil {
		return idempotency.Terminal(fmt.Errorf("decode record event: %w", err))
	}
	rec := ev.Record
	if rec.ID == "" {
		rec.ID = ev.RecordID
	}
	if rec.ID == "" {
		return idempotency.Terminal(errors.New("record event without record id"))
	}
	return w.pool.SubmitWait(ctx, &workerpool.Task{ID: rec.ID, Payload: rec})
}

// Sweep recomputes every active record for today and waits for the
// resulting tasks. It returns the number of records visited.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	if w.records == nil {
		return 0, nil
	}
	ctx, span := w.tracer.Start(ctx, "status.sweep")
	defer span.End()

	var (
		g      errgroup.Group
		seen   int
		failed int64
	)
	g.SetLimit(w.pool.Stats().Workers * 2)

	err := w.records.EachActive(ctx, func(rec medication.Record) error {
		seen++
		task := &workerpool.Task{ID: rec.ID, Payload: rec}
		g.Go(func() error {
			if err := w.pool.SubmitWait(ctx, task); err != nil {
				atomic.AddInt64(&failed, 1)
			}
			return nil
		})
		return ctx.Err()
	})
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("records", seen),
		attribute.Int64("failed", failed))
	w.logger.Info("status sweep finished",
		zap.Int("records", seen),
		zap.Int64("failed", failed))

	if err != nil {
		span.RecordError(err)
		return seen, fmt.Errorf("iterate active records: %w", err)
	}
	if failed > 0 {
		return seen, fmt.Errorf("%d of %d records failed", failed, seen)
	}
	return seen, nil
}

// Run sweeps once immediately and then every SweepInterval until ctx ends
func (w *Worker) Run(ctx context.Context) {
	interval := w.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("status sweep incomplete", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) process(ctx context.Context, task *workerpool.Task) error {
	rec, ok := task.Payload.(medication.Record)
	if !ok {
		return fmt.Errorf("unexpected task payload %T", task.Payload)
	}
	return w.Publish(ctx, rec, w.now())
}

// Publish computes the snapshot of rec for today and publishes it once per
// record and day. Records with neither status publish nothing.
func (w *Worker) Publish(ctx context.Context, rec medication.Record, today time.Time) error {
	ctx, span := w.tracer.Start(ctx, "status.publish",
		trace.WithAttributes(attribute.String("record_id", rec.ID)))
	defer span.End()

	snap := Compute(rec, today)
	if snap == nil {
		atomic.AddInt64(&w.skipped, 1)
		return nil
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	send := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		if err := w.publisher.Publish(ctx, w.cfg.Topic, snap.RecordID, payload); err != nil {
			return nil, fmt.Errorf("publish snapshot: %w", err)
		}
		return payload, nil
	}

	if w.inbox == nil {
		if _, err := send(ctx, payload); err != nil {
			return err
		}
		w.countPublished(snap)
		return nil
	}

	key := idempotency.GenerateKey(snap.RecordID, HandlerName, snap.Day)
	res, err := w.inbox.Process(ctx, key, HandlerName, payload, send)
	switch {
	case errors.Is(err, idempotency.ErrDuplicateMessage), errors.Is(err, idempotency.ErrMessageInProgress):
		atomic.AddInt64(&w.skipped, 1)
		return nil
	case err != nil:
		span.RecordError(err)
		return err
	}
	if res.IsNew || res.WasRecovered {
		w.countPublished(snap)
	} else {
		atomic.AddInt64(&w.skipped, 1)
	}
	return nil
}

func (w *Worker) countPublished(snap *Snapshot) {
	atomic.AddInt64(&w.published, 1)
	if w.recorder == nil {
		return
	}
	var refill, expiration string
	if snap.Refill != nil {
		refill = string(snap.Refill.Status)
	}
	if snap.Expiration != nil {
		expiration = string(snap.Expiration.Status)
	}
	w.recorder.StatusSnapshot(refill, expiration)
}

// Compute builds the snapshot for rec on today, or nil when neither
// projection yields a status
func Compute(rec medication.Record, today time.Time) *Snapshot {
	proj := projection.Project(rec, today)
	if proj.Empty() {
		return nil
	}
	return &Snapshot{
		RecordID:    rec.ID,
		PatientName: rec.PatientName.OrElse(""),
		Medication:  rec.DisplayName(),
		Day:         idempotency.DayKey(today),
		Refill:      proj.Refill,
		Expiration:  proj.Expiration,
		ComputedAt:  time.Now().UTC(),
	}
}

// Stats holds worker counters
type Stats struct {
	Published int64            `json:"published"`
	Skipped   int64            `json:"skipped"`
	Pool      workerpool.Stats `json:"pool"`
}

// Stats returns current counters
func (w *Worker) Stats() Stats {
	return Stats{
		Published: atomic.LoadInt64(&w.published),
		Skipped:   atomic.LoadInt64(&w.skipped),
		Pool:      w.pool.Stats(),
	}
}
