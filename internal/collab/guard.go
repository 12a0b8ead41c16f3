// Package collab wraps the capture collaborators (text extraction, code
// lookup, name search, condition inference) with throttling, circuit
// breaking and tracing, and folds their errors into the capture taxonomy.
package collab

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/pkg/circuitbreaker"
)

// Breaker names, one per collaborator
const (
	NameExtract = "extract"
	NameLookup  = "lookup"
	NameSearch  = "search"
	NameSuggest = "suggest"
)

// Config tunes the guard
type Config struct {
	// ModelRPS throttles calls to the vision model (extraction and
	// condition inference). Zero disables throttling.
	ModelRPS   float64
	ModelBurst int
	Breaker    circuitbreaker.Config
}

// DefaultConfig returns the guard defaults
func DefaultConfig() Config {
	return Config{
		ModelRPS:   2,
		ModelBurst: 4,
		Breaker:    circuitbreaker.DefaultConfig(""),
	}
}

// Guard applies the same protections to every collaborator it wraps
type Guard struct {
	breakers *circuitbreaker.Manager
	breaker  circuitbreaker.Config
	model    *rate.Limiter
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewGuard creates a guard. Breakers are created on first use in the given
// manager so the readiness endpoint can report them.
func NewGuard(cfg Config, breakers *circuitbreaker.Manager, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(logger)
	}
	cfg.Breaker.IsFailure = IsTransportError

	g := &Guard{
		breakers: breakers,
		breaker:  cfg.Breaker,
		tracer:   otel.Tracer("medscan/collab"),
		logger:   logger,
	}
	if cfg.ModelRPS > 0 {
		burst := cfg.ModelBurst
		if burst < 1 {
			burst = 1
		}
		g.model = rate.NewLimiter(rate.Limit(cfg.ModelRPS), burst)
	}
	return g
}

// IsTransportError reports whether err means the collaborator itself failed.
// An empty lookup or an unreadable label is an answer, not an outage.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, medication.ErrLookupNotFound) && !errors.Is(err, medication.ErrExtractionFailed)
}

// Wrap guards every non-nil collaborator in c
func (g *Guard) Wrap(c scan.Collaborators) scan.Collaborators {
	out := scan.Collaborators{}
	if c.Extractor != nil {
		out.Extractor = &extractor{g: g, next: c.Extractor}
	}
	if c.Lookup != nil {
		out.Lookup = &lookup{g: g, next: c.Lookup}
	}
	if c.Search != nil {
		out.Search = &search{g: g, next: c.Search}
	}
	if c.Conditions != nil {
		out.Conditions = &conditions{g: g, next: c.Conditions}
	}
	return out
}

func call[T any](ctx context.Context, g *Guard, name string, throttled bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ctx, span := g.tracer.Start(ctx, "collab."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("collaborator", name)))
	defer span.End()

	if throttled && g.model != nil {
		if err := g.model.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, "throttled")
			return zero, fmt.Errorf("%w: %s: %w", medication.ErrTransportFailure, name, err)
		}
	}

	cb, err := g.breakers.GetOrCreate(name, g.breaker)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %w", medication.ErrTransportFailure, name, err)
	}

	out, err := circuitbreaker.Do(ctx, cb, fn)
	if err == nil {
		return out, nil
	}
	if !IsTransportError(err) {
		span.SetAttributes(attribute.String("outcome", "empty"))
		return zero, err
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	g.logger.Warn("collaborator call failed",
		zap.String("collaborator", name),
		zap.Error(err))
	if errors.Is(err, medication.ErrTransportFailure) {
		return zero, err
	}
	return zero, fmt.Errorf("%w: %s: %w", medication.ErrTransportFailure, name, err)
}

type extractor struct {
	g    *Guard
	next scan.TextExtractor
}

func (e *extractor) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	return call(ctx, e.g, NameExtract, true, func(ctx context.Context) (string, error) {
		return e.next.ExtractText(ctx, image, mimeType)
	})
}

type lookup struct {
	g    *Guard
	next scan.CodeLookup
}

func (l *lookup) LookupByCode(ctx context.Context, code string) (*medication.Info, error) {
	return call(ctx, l.g, NameLookup, false, func(ctx context.Context) (*medication.Info, error) {
		return l.next.LookupByCode(ctx, code)
	})
}

type search struct {
	g    *Guard
	next scan.NameSearch
}

func (s *search) SearchByName(ctx context.Context, query string) ([]medication.Info, error) {
	return call(ctx, s.g, NameSearch, false, func(ctx context.Context) ([]medication.Info, error) {
		return s.next.SearchByName(ctx, query)
	})
}

type conditions struct {
	g    *Guard
	next scan.ConditionSource
}

func (c *conditions) Suggest(ctx context.Context, rec medication.Record) ([]medication.SuggestedCondition, error) {
	return call(ctx, c.g, NameSuggest, true, func(ctx context.Context) ([]medication.SuggestedCondition, error) {
		return c.next.Suggest(ctx, rec)
	})
}
