package capture

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/collab"
	"github.com/drfirst/medscan/internal/config"
	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/internal/drugdb"
	"github.com/drfirst/medscan/internal/ocr/gemini"
	"github.com/drfirst/medscan/internal/ocr/openai"
	"github.com/drfirst/medscan/pkg/circuitbreaker"
)

// visionClient extracts label text and infers conditions
type visionClient interface {
	scan.TextExtractor
	scan.ConditionSource
}

// Collaborators builds the guarded collaborators selected by cfg. pool is
// used for the drug catalog when DRUGDB_PROVIDER is postgres. The returned
// func releases the model client.
func Collaborators(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, breakers *circuitbreaker.Manager, logger *zap.Logger) (scan.Collaborators, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	closer := func() error { return nil }

	var vision visionClient
	switch cfg.OCRProvider {
	case config.OCRGemini:
		c, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger.Named("gemini"))
		if err != nil {
			return scan.Collaborators{}, nil, err
		}
		vision, closer = c, c.Close
	case config.OCROpenAI:
		c, err := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, logger.Named("openai"))
		if err != nil {
			return scan.Collaborators{}, nil, err
		}
		vision = c
	default:
		return scan.Collaborators{}, nil, fmt.Errorf("unknown OCR provider %q", cfg.OCRProvider)
	}

	var drugs drugdb.Lookup = drugdb.NewOpenFDA(cfg.OpenFDABaseURL, cfg.OpenFDAAPIKey, logger.Named("openfda"))
	if cfg.DrugDBProvider == config.DrugDBPostgres {
		if pool == nil {
			_ = closer()
			return scan.Collaborators{}, nil, fmt.Errorf("drug catalog requires a database pool")
		}
		drugs = drugdb.NewCached(drugdb.NewCatalog(pool, logger.Named("catalog")), drugs, logger.Named("drugdb"))
	}

	guardCfg := collab.DefaultConfig()
	guardCfg.ModelRPS = cfg.OCRRateLimitRPS
	guardCfg.ModelBurst = cfg.OCRRateLimitBurst
	guard := collab.NewGuard(guardCfg, breakers, logger.Named("collab"))

	collaborators := guard.Wrap(scan.Collaborators{
		Extractor:  vision,
		Lookup:     drugs,
		Search:     drugs,
		Conditions: vision,
	})
	// The table sits outside the guard so an open breaker still yields
	// suggestions.
	collaborators.Conditions = NewFallbackConditions(collaborators.Conditions, drugdb.NewStaticConditions(nil), logger)

	logger.Info("collaborators ready",
		zap.String("ocr_provider", cfg.OCRProvider),
		zap.String("drugdb_provider", cfg.DrugDBProvider))
	return collaborators, closer, nil
}

// FallbackConditions asks the primary source first and uses the fallback
// when it fails or has nothing to offer
type FallbackConditions struct {
	primary  scan.ConditionSource
	fallback scan.ConditionSource
	logger   *zap.Logger
}

// NewFallbackConditions chains two condition sources. primary may be nil.
func NewFallbackConditions(primary, fallback scan.ConditionSource, logger *zap.Logger) *FallbackConditions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackConditions{primary: primary, fallback: fallback, logger: logger}
}

// Suggest implements scan.ConditionSource
func (f *FallbackConditions) Suggest(ctx context.Context, rec medication.Record) ([]medication.SuggestedCondition, error) {
	if f.primary != nil {
		out, err := f.primary.Suggest(ctx, rec)
		if err == nil && len(out) > 0 {
			return out, nil
		}
		if err != nil {
			f.logger.Warn("condition inference failed, using table", zap.Error(err))
		}
	}
	if f.fallback == nil {
		return nil, nil
	}
	return f.fallback.Suggest(ctx, rec)
}
