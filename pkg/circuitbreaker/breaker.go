// Package circuitbreaker guards calls to the capture collaborators (OCR,
// drug lookup, name search, condition inference). It wraps sony/gobreaker
// with OpenTelemetry counters and spans.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrOpen is returned when the breaker rejects a call without running it
var ErrOpen = errors.New("circuit open")

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes one breaker. The circuit trips after FailureThreshold
// consecutive failures, or once MinRequests calls have been seen in the
// current Interval and the failure ratio reaches FailureRatio. After
// Timeout it lets MaxRequests probes through.
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32

	// IsFailure decides whether an error counts against the breaker.
	// Nil counts every error.
	IsFailure func(error) bool
}

func (cfg Config) readyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= cfg.FailureThreshold {
		return true
	}
	return counts.Requests >= cfg.MinRequests &&
		float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
}

// DefaultConfig returns defaults for interactive collaborator calls. OCR
// and lookup calls sit in front of a waiting caregiver, so the breaker
// opens quickly and probes again after a short pause.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker with observability
type CircuitBreaker struct {
	cb        *gobreaker.CircuitBreaker
	name      string
	isFailure func(error) bool
	logger    *zap.Logger
	tracer    trace.Tracer

	calls    metric.Int64Counter
	failures metric.Int64Counter
	rejected metric.Int64Counter
}

// New creates a breaker named cfg.Name
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}

	c := &CircuitBreaker{
		name:      cfg.Name,
		isFailure: cfg.IsFailure,
		logger:    logger,
		tracer:    otel.Tracer("medscan/circuitbreaker"),
	}

	meter := otel.Meter("medscan/circuitbreaker")
	for _, ctr := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&c.calls, "collaborator_breaker_requests_total", "Collaborator calls passed through the breaker"},
		{&c.failures, "collaborator_breaker_failures_total", "Collaborator calls counted as failures"},
		{&c.rejected, "collaborator_breaker_rejected_total", "Collaborator calls rejected by an open circuit"},
	} {
		var err error
		if *ctr.dst, err = meter.Int64Counter(ctr.name, metric.WithDescription(ctr.desc)); err != nil {
			return nil, fmt.Errorf("counter %s: %w", ctr.name, err)
		}
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.readyToTrip,
		OnStateChange: c.onStateChange,
		IsSuccessful:  func(err error) bool { return !cfg.IsFailure(err) },
	})
	return c, nil
}

// Execute runs fn through the breaker. Errors fn returns are passed back
// unchanged; a rejected call returns ErrOpen.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "circuit_breaker.execute",
		trace.WithAttributes(
			attribute.String("breaker", c.name),
			attribute.String("state", string(c.State())),
		))
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("breaker", c.name))
	c.calls.Add(ctx, 1, attrs)

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.rejected.Add(ctx, 1, attrs)
		span.SetAttributes(attribute.Bool("circuit_open", true))
		return fmt.Errorf("%s: %w", c.name, ErrOpen)
	}
	if c.isFailure(err) {
		c.failures.Add(ctx, 1, attrs)
		span.RecordError(err)
	}
	return err
}

// Do runs fn through the breaker and returns its value
func Do[T any](ctx context.Context, c *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := c.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// Name returns the breaker name
func (c *CircuitBreaker) Name() string { return c.name }

// State returns the current circuit breaker state
func (c *CircuitBreaker) State() State {
	return mapState(c.cb.State())
}

func (c *CircuitBreaker) onStateChange(_ string, from, to gobreaker.State) {
	log := c.logger.Warn
	if to == gobreaker.StateClosed {
		log = c.logger.Info
	}
	log("circuit breaker state changed",
		zap.String("breaker", c.name),
		zap.String("from", string(mapState(from))),
		zap.String("to", string(mapState(to))))
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Counts returns the current counts from the circuit breaker
func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

// Manager holds one breaker per collaborator
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   *zap.Logger
}

// NewManager creates a circuit breaker manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate returns an existing breaker or creates a new one
func (m *Manager) GetOrCreate(name string, cfg Config) (*CircuitBreaker, error) {
	m.mu.RLock()
	if cb, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return cb, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb, nil
	}

	cfg.Name = name
	cb, err := New(cfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.breakers[name] = cb
	return cb, nil
}

// HealthStatus describes one breaker for the readiness endpoint
type HealthStatus struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Requests uint32 `json:"requests"`
	Failures uint32 `json:"failures"`
	Healthy  bool   `json:"healthy"`
}

// Health returns the status of every breaker, sorted by name
func (m *Manager) Health() []HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]HealthStatus, 0, len(m.breakers))
	for name, cb := range m.breakers {
		counts := cb.Counts()
		state := cb.State()
		statuses = append(statuses, HealthStatus{
			Name:     name,
			State:    state,
			Requests: counts.Requests,
			Failures: counts.TotalFailures,
			Healthy:  state != StateOpen,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
