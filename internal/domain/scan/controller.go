package scan

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/label"
)

// TextExtractor turns a label image into raw text
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// CodeLookup resolves a barcode or NDC. A nil entry means not found.
type CodeLookup interface {
	LookupByCode(ctx context.Context, code string) (*medication.Info, error)
}

// NameSearch finds medications by free-text name
type NameSearch interface {
	SearchByName(ctx context.Context, query string) ([]medication.Info, error)
}

// ConditionSource ranks probable conditions for a medication
type ConditionSource interface {
	Suggest(ctx context.Context, rec medication.Record) ([]medication.SuggestedCondition, error)
}

// LabelParser parses recognized label text
type LabelParser interface {
	Parse(text string, hints label.Hints) (medication.ExtractionResult, error)
}

// Observer receives capture outcomes for metrics
type Observer interface {
	CaptureOutcome(call CallKind, outcome string)
	ExtractionConfidence(confidence int)
	StaleResult(call CallKind)
}

type nopObserver struct{}

func (nopObserver) CaptureOutcome(CallKind, string) {}
func (nopObserver) ExtractionConfidence(int) {}
func (nopObserver) StaleResult(CallKind) {}

// Collaborators are the external services a controller calls
type Collaborators struct {
	Extractor  TextExtractor
	Lookup     CodeLookup
	Search     NameSearch
	Conditions ConditionSource
}

// Controller runs the external calls for sessions. Each call is bracketed by
// Begin and a Resolve or Fail on the session; the session lock is never held
// while a collaborator runs.
type Controller struct {
	collab   Collaborators
	parser   LabelParser
	observer Observer
	logger   *zap.Logger
}

// NewController creates a controller. A nil observer disables metrics.
func NewController(collab Collaborators, parser LabelParser, observer Observer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if parser == nil {
		parser = label.New(logger)
	}
	return &Controller{collab: collab, parser: parser, observer: observer, logger: logger}
}

// enter moves a session into the capture mode a call needs. Sessions on the
// review screen may take another photo.
func (c *Controller) enter(s *Session, mode Mode) error {
	switch s.Mode() {
	case mode:
		return nil
	case ModeSelect:
		return s.ChooseMode(mode)
	case ModeSuccess:
		if mode == ModeOCR {
			return s.AddPhoto()
		}
	}
	return nil
}

// Photo extracts, parses and merges one label photo.
func (c *Controller) Photo(ctx context.Context, s *Session, image []byte, mimeType string, side label.Side) (View, error) {
	if c.collab.Extractor == nil {
		return s.View(), errors.New("no text extractor configured")
	}
	if err := c.enter(s, ModeOCR); err != nil {
		return s.View(), err
	}
	t, err := s.Begin(CallExtract)
	if err != nil {
		return s.View(), err
	}

	text, err := c.collab.Extractor.ExtractText(ctx, image, mimeType)
	if err != nil {
		return c.fail(s, t, err)
	}
	res, err := c.parser.Parse(text, label.Hints{Side: side})
	if err != nil {
		return c.fail(s, t, medication.ExtractionFailed(err))
	}
	c.observer.ExtractionConfidence(res.Confidence)

	suggestions := c.suggest(ctx, medication.Merge(s.Record(), res.Record))
	if err := s.ResolveExtraction(t, res, suggestions); err != nil {
		return c.discarded(s, t, err)
	}
	c.observer.CaptureOutcome(t.Kind, "success")
	c.logger.Debug("photo merged",
		zap.String("session_id", s.ID()),
		zap.Int("confidence", res.Confidence),
		zap.Int("fields", len(res.Recognized)))
	return s.View(), nil
}

// Barcode looks up a scanned code.
func (c *Controller) Barcode(ctx context.Context, s *Session, code string) (View, error) {
	if c.collab.Lookup == nil {
		return s.View(), errors.New("no code lookup configured")
	}
	if err := c.enter(s, ModeBarcode); err != nil {
		return s.View(), err
	}
	t, err := s.Begin(CallLookup)
	if err != nil {
		return s.View(), err
	}

	info, err := c.collab.Lookup.LookupByCode(ctx, code)
	if err != nil {
		return c.fail(s, t, err)
	}
	var suggestions []medication.SuggestedCondition
	if info != nil {
		suggestions = c.suggest(ctx, medication.Merge(s.Record(), info.Record()))
	}
	if err := s.ResolveLookup(t, info, suggestions); err != nil {
		return c.discarded(s, t, err)
	}
	return c.outcome(s, t)
}

// Search runs a name search. A single match is applied at once.
func (c *Controller) Search(ctx context.Context, s *Session, query string) (View, error) {
	if c.collab.Search == nil {
		return s.View(), errors.New("no name search configured")
	}
	if err := c.enter(s, ModeManual); err != nil {
		return s.View(), err
	}
	t, err := s.Begin(CallSearch)
	if err != nil {
		return s.View(), err
	}

	results, err := c.collab.Search.SearchByName(ctx, query)
	if err != nil {
		return c.fail(s, t, err)
	}
	var suggestions []medication.SuggestedCondition
	if len(results) == 1 {
		suggestions = c.suggest(ctx, medication.Merge(s.Record(), results[0].Record()))
	}
	if err := s.ResolveSearch(t, results, suggestions); err != nil {
		return c.discarded(s, t, err)
	}
	return c.outcome(s, t)
}

// Pick applies one of several search matches and ranks conditions for it.
func (c *Controller) Pick(ctx context.Context, s *Session, index int) (View, error) {
	if err := s.PickResult(index); err != nil {
		return s.View(), err
	}
	if c.collab.Conditions == nil {
		return s.View(), nil
	}
	t, err := s.Begin(CallSuggest)
	if err != nil {
		return s.View(), err
	}
	suggestions, err := c.collab.Conditions.Suggest(ctx, s.Record())
	if err != nil {
		if ferr := s.Fail(t, err); ferr != nil {
			return c.discarded(s, t, ferr)
		}
		return s.View(), nil
	}
	if err := s.ResolveSuggestions(t, suggestions); err != nil {
		return c.discarded(s, t, err)
	}
	return s.View(), nil
}

// suggest asks the condition source for the merged record. Failures leave
// the list empty; they never fail the capture.
func (c *Controller) suggest(ctx context.Context, rec medication.Record) []medication.SuggestedCondition {
	if c.collab.Conditions == nil || rec.DisplayName() == "" {
		return nil
	}
	out, err := c.collab.Conditions.Suggest(ctx, rec)
	if err != nil {
		c.logger.Warn("condition inference failed", zap.Error(err))
		return nil
	}
	return out
}

func (c *Controller) fail(s *Session, t Ticket, err error) (View, error) {
	cerr := medication.Classify(err)
	if ferr := s.Fail(t, cerr); ferr != nil {
		return c.discarded(s, t, ferr)
	}
	c.observer.CaptureOutcome(t.Kind, string(cerr.Kind))
	return s.View(), cerr
}

func (c *Controller) outcome(s *Session, t Ticket) (View, error) {
	v := s.View()
	if v.Error != nil && v.Mode == ModeError {
		c.observer.CaptureOutcome(t.Kind, string(v.Error.Kind))
		return v, v.Error
	}
	c.observer.CaptureOutcome(t.Kind, "success")
	return v, nil
}

func (c *Controller) discarded(s *Session, t Ticket, err error) (View, error) {
	if errors.Is(err, ErrStaleResult) {
		c.observer.StaleResult(t.Kind)
	}
	return s.View(), err
}
