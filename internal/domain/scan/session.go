// Package scan implements the capture session: a single-owner state machine
// that sequences label capture, merges partial records and builds the final
// medication record.
package scan

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/label"
	"github.com/drfirst/medscan/internal/projection"
)

// Mode is the capture state of a session
type Mode string

const (
	ModeSelect     Mode = "select"
	ModeBarcode    Mode = "barcode"
	ModeManual     Mode = "manual"
	ModeOCR        Mode = "ocr"
	ModeProcessing Mode = "processing"
	ModeSuccess    Mode = "success"
	ModeError      Mode = "error"
	ModeCommitted  Mode = "committed"
	ModeCancelled  Mode = "cancelled"
)

// Terminal reports whether the session can no longer change.
func (m Mode) Terminal() bool {
	return m == ModeCommitted || m == ModeCancelled
}

// ParseMode maps a capture mode name. Only the three capture modes are accepted.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeBarcode, ModeManual, ModeOCR:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown capture mode %q", ErrInvalidTransition, s)
}

// CallKind is the external call a ticket was issued for
type CallKind string

const (
	CallExtract CallKind = "extract"
	CallLookup  CallKind = "lookup"
	CallSearch  CallKind = "search"
	CallSuggest CallKind = "suggest"
)

// callMode is the capture mode each call may be issued from.
var callMode = map[CallKind]Mode{
	CallExtract: ModeOCR,
	CallLookup:  ModeBarcode,
	CallSearch:  ModeManual,
	CallSuggest: ModeSuccess,
}

// Session errors
var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionClosed     = errors.New("session is closed")
	ErrStaleResult       = errors.New("result belongs to a discarded session state")
	ErrBusy              = errors.New("a capture is already in progress")
)

// Ticket identifies one in-flight external call. A result is applied only
// when its ticket still matches the session's generation and pending call.
type Ticket struct {
	SessionID  string   `json:"sessionId"`
	Generation uint64   `json:"generation"`
	Seq        uint64   `json:"seq"`
	Kind       CallKind `json:"kind"`
}

// Config holds the caller context a session is opened with
type Config struct {
	// PatientName attributes the record to a patient, overriding a name
	// read from the label
	PatientName string
	// PrescribedFor is the caller's default condition
	PrescribedFor string
	// OnCommitted receives the final record exactly once
	OnCommitted func(medication.Record)
	// Weights scores the accumulated record; nil uses the label defaults
	Weights label.Weights
	// Clock overrides time.Now
	Clock func() time.Time
}

// Session is a single capture session. All methods are safe for concurrent
// use; no lock is held while an external call is in flight.
type Session struct {
	mu sync.Mutex

	id         string
	generation uint64
	seq        uint64
	pending    *Ticket

	mode        Mode
	closed      bool
	photoCount  int
	acc         medication.Record
	suggestions []medication.SuggestedCondition
	auto        medication.Opt[string]
	explicit    medication.Opt[string]
	fallback    medication.Opt[string]
	patient     medication.Opt[string]
	candidates  []medication.Info
	lastErr     *medication.CaptureError
	events      []Event

	onCommitted  func(medication.Record)
	weights      label.Weights
	now          func() time.Time
	lastActivity time.Time
	logger       *zap.Logger
}

// NewSession opens a session in Select mode.
func NewSession(cfg Config, logger *zap.Logger) *Session {
	return newSession(uuid.New().String(), cfg, logger)
}

func newSession(id string, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Weights == nil {
		cfg.Weights = label.DefaultWeights()
	}
	s := &Session{
		id:          id,
		onCommitted: cfg.OnCommitted,
		weights:     cfg.Weights,
		now:         cfg.Clock,
		logger:      logger.With(zap.String("session_id", id)),
	}
	s.reset()
	s.patient = medication.Text(cfg.PatientName)
	s.fallback = medication.Text(cfg.PrescribedFor)
	s.record(EventSessionOpened, nil)
	return s
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Mode returns the current mode
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// LastActivity returns when the session last changed
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Record returns a copy of the accumulator
func (s *Session) Record() medication.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc
}

// Events returns a copy of the audit trail
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// reset empties the session and invalidates every issued ticket.
// Callers hold the lock.
func (s *Session) reset() {
	s.generation++
	s.pending = nil
	s.mode = ModeSelect
	s.closed = false
	s.photoCount = 0
	s.acc = medication.Record{}
	s.suggestions = nil
	s.auto = medication.None[string]()
	s.explicit = medication.None[string]()
	s.candidates = nil
	s.lastErr = nil
	s.lastActivity = s.now()
}

func (s *Session) record(t EventType, details map[string]string) {
	s.events = append(s.events, newEvent(s.id, t, s.mode, s.generation, s.now(), details))
	s.lastActivity = s.now()
}

// live rejects changes to a closed or finished session. Callers hold the lock.
func (s *Session) live() error {
	if s.closed || s.mode.Terminal() {
		return ErrSessionClosed
	}
	return nil
}

// Open starts a fresh capture in the same session, keeping the caller context.
// Results of calls issued before Open are discarded on arrival.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode.Terminal() {
		return ErrSessionClosed
	}
	s.reset()
	s.record(EventSessionOpened, nil)
	return nil
}

// Close discards the capture and any in-flight call. The session accepts no
// changes until it is opened again.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode.Terminal() {
		return
	}
	s.reset()
	s.closed = true
	s.record(EventSessionClosed, nil)
}

// ChooseMode picks the capture path from Select.
func (s *Session) ChooseMode(m Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.live(); err != nil {
		return err
	}
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	if s.mode != ModeSelect {
		return fmt.Errorf("%w: cannot choose %s from %s", ErrInvalidTransition, m, s.mode)
	}
	s.mode = m
	s.record(EventModeChosen, map[string]string{"mode": string(m)})
	s.logger.Debug("capture mode chosen", zap.String("mode", string(m)))
	return nil
}

// Begin moves the session to Processing and issues a ticket for one external
// call. Only one call may be in flight.
func (s *Session) Begin(kind CallKind) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.live(); err != nil {
		return Ticket{}, err
	}
	if s.mode == ModeProcessing {
		return Ticket{}, ErrBusy
	}
	want, ok := callMode[kind]
	if !ok {
		return Ticket{}, fmt.Errorf("%w: unknown call %q", ErrInvalidTransition, kind)
	}
	if s.mode != want {
		return Ticket{}, fmt.Errorf("%w: %s call requires %s mode, session is %s", ErrInvalidTransition, kind, want, s.mode)
	}

	s.seq++
	t := Ticket{SessionID: s.id, Generation: s.generation, Seq: s.seq, Kind: kind}
	s.pending = &t
	s.mode = ModeProcessing
	s.lastErr = nil
	s.record(EventCallStarted, map[string]string{"call": string(kind), "seq": strconv.FormatUint(t.Seq, 10)})
	return t, nil
}

// claim validates a ticket and clears the pending call. Callers hold the lock.
func (s *Session) claim(t Ticket, kinds ...CallKind) error {
	if t.SessionID != s.id || t.Generation != s.generation || s.pending == nil || s.pending.Seq != t.Seq {
		s.record(EventStaleResult, map[string]string{"call": string(t.Kind)})
		s.logger.Debug("stale result discarded",
			zap.String("call", string(t.Kind)),
			zap.Uint64("ticket_generation", t.Generation),
			zap.Uint64("generation", s.generation))
		return ErrStaleResult
	}
	for _, k := range kinds {
		if t.Kind == k {
			s.pending = nil
			return nil
		}
	}
	return fmt.Errorf("%w: %s result for %s ticket", ErrInvalidTransition, kinds[0], t.Kind)
}

// ResolveExtraction merges a parsed photo into the accumulator and ranks the
// condition suggestions computed for the merged record.
func (s *Session) ResolveExtraction(t Ticket, res medication.ExtractionResult, suggestions []medication.SuggestedCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claim(t, CallExtract); err != nil {
		return err
	}
	s.photoCount++
	s.acc = medication.Merge(s.acc, res.Record)
	s.mode = ModeSuccess
	s.record(EventExtractionMerged, map[string]string{
		"photo":      strconv.Itoa(s.photoCount),
		"confidence": strconv.Itoa(res.Confidence),
		"fields":     strconv.Itoa(len(res.Recognized)),
	})
	s.applySuggestions(suggestions)
	return nil
}

// ResolveLookup applies a barcode lookup. A nil entry is a not-found failure.
func (s *Session) ResolveLookup(t Ticket, info *medication.Info, suggestions []medication.SuggestedCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claim(t, CallLookup); err != nil {
		return err
	}
	if info == nil {
		s.fail(medication.NotFound("that barcode"))
		return nil
	}
	s.acc = medication.Merge(s.acc, info.Record())
	s.mode = ModeSuccess
	s.record(EventLookupResolved, nil)
	s.applySuggestions(suggestions)
	return nil
}

// ResolveSearch applies name search results. One match is applied directly;
// several are offered for PickResult; none is a not-found failure.
func (s *Session) ResolveSearch(t Ticket, results []medication.Info, suggestions []medication.SuggestedCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claim(t, CallSearch); err != nil {
		return err
	}
	s.record(EventSearchResolved, map[string]string{"results": strconv.Itoa(len(results))})
	switch len(results) {
	case 0:
		s.fail(medication.NotFound("that name"))
	case 1:
		s.acc = medication.Merge(s.acc, results[0].Record())
		s.mode = ModeSuccess
		s.applySuggestions(suggestions)
	default:
		s.candidates = append([]medication.Info(nil), results...)
		s.mode = ModeSuccess
	}
	return nil
}

// ResolveSuggestions replaces the condition suggestions after a separate
// inference call.
func (s *Session) ResolveSuggestions(t Ticket, suggestions []medication.SuggestedCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.claim(t, CallSuggest); err != nil {
		return err
	}
	s.mode = ModeSuccess
	s.applySuggestions(suggestions)
	return nil
}

// Fail resolves a call with an error. Condition inference failures are not
// capture failures: the session returns to Success with its suggestions intact.
func (s *Session) Fail(t Ticket, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cerr := s.claim(t, CallExtract, CallLookup, CallSearch, CallSuggest); cerr != nil {
		return cerr
	}
	if t.Kind == CallSuggest {
		s.mode = ModeSuccess
		s.logger.Warn("condition inference failed", zap.Error(err))
		return nil
	}
	s.fail(medication.Classify(err))
	return nil
}

func (s *Session) fail(cerr *medication.CaptureError) {
	s.lastErr = cerr
	s.mode = ModeError
	s.record(EventCaptureFailed, map[string]string{"kind": string(cerr.Kind)})
	s.logger.Info("capture failed", zap.String("kind", string(cerr.Kind)), zap.Error(cerr.Err))
}

// applySuggestions ranks the list and re-evaluates auto-selection. An empty
// list leaves the previous suggestions in place. Callers hold the lock.
func (s *Session) applySuggestions(in []medication.SuggestedCondition) {
	ranked := RankConditions(in)
	if len(ranked) == 0 {
		return
	}
	s.suggestions = ranked
	if c, ok := AutoSelect(ranked); ok {
		s.auto = medication.Some(c)
	} else {
		s.auto = medication.None[string]()
	}
	s.record(EventConditionsRanked, map[string]string{
		"count":    strconv.Itoa(len(ranked)),
		"top":      strconv.Itoa(ranked[0].Confidence),
		"selected": strconv.FormatBool(s.auto.IsSet()),
	})
}

// PickResult applies one of several search matches.
func (s *Session) PickResult(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.live(); err != nil {
		return err
	}
	if s.mode != ModeSuccess || len(s.candidates) == 0 {
		return fmt.Errorf("%w: no search results to pick from", ErrInvalidTransition)
	}
	if i < 0 || i >= len(s.candidates) {
		return fmt.Errorf("%w: result %d out of range", ErrInvalidTransition, i)
	}
	s.acc = medication.Merge(s.acc, s.candidates[i].Record())
	s.candidates = nil
	s.record(EventResultPicked, map[string]string{"index": strconv.Itoa(i)})
	return nil
}

// Edit overwrites fields on review. Blank values clear a field. Editing the
// condition counts as an explicit selection and editing the patient name
// sets the attribution.
func (s *Session) Edit(patch map[medication.Field]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.live(); err != nil {
		return err
	}
	if s.mode != ModeSuccess {
		return fmt.Errorf("%w: edits are only accepted on review", ErrInvalidTransition)
	}

	rec := s.acc
	explicit, patient := s.explicit, s.patient
	for f, v := range patch {
		switch f {
		case medication.FieldPrescribedFor:
			explicit = medication.Text(v)
		case medication.FieldPatientName:
			patient = medication.Text(v)
			if err := rec.Set(f, v); err != nil {
				return err
			}
		default:
			if err := rec.Set(f, v); err != nil {
				return err
			}
		}
	}
	s.acc, s.explicit, s.patient = rec, explicit, patient
	s.record(EventRecordEdited, map[string]string{"fields": strconv.Itoa(len(patch))})
	return nil
}

// SelectCondition records the caregiver's choice. A blank name withdraws it.
func (s *Session) SelectCondition(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.live(); err != nil {
		return err
	}
	s.explicit = medication.Text(name)
	s.lastActivity = s.now()
	return nil
}

// SetPatient attributes the record to a patient. At commit it takes
// precedence over a patient name read from the label; a blank name falls
// back to the label's.
func (s *Session) SetPatient(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.live(); err != nil {
		return err
	}
	s.patient = medication.Text(name)
	s.lastActivity = s.now()
	return nil
}

// Retry returns from Error to Select. Fields already captured are kept.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.live(); err != nil {
		return err
	}
	if s.mode != ModeError {
		return fmt.Errorf("%w: retry requires error mode, session is %s", ErrInvalidTransition, s.mode)
	}
	s.mode = ModeSelect
	s.lastErr = nil
	s.lastActivity = s.now()
	return nil
}

// AddPhoto returns from Success to photo capture for another side of the label.
func (s *Session) AddPhoto() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.live(); err != nil {
		return err
	}
	if s.mode != ModeSuccess {
		return fmt.Errorf("%w: another photo requires success mode, session is %s", ErrInvalidTransition, s.mode)
	}
	s.mode = ModeOCR
	s.candidates = nil
	s.lastActivity = s.now()
	return nil
}

// Commit builds the final record, fires the completion callback and ends the
// session. It succeeds at most once.
func (s *Session) Commit() (medication.Record, error) {
	s.mu.Lock()

	if err := s.live(); err != nil {
		s.mu.Unlock()
		return medication.Record{}, err
	}
	if s.mode != ModeSuccess {
		mode := s.mode
		s.mu.Unlock()
		return medication.Record{}, fmt.Errorf("%w: commit requires success mode, session is %s", ErrInvalidTransition, mode)
	}
	if len(s.candidates) > 0 {
		s.mu.Unlock()
		return medication.Record{}, fmt.Errorf("%w: pick a search result first", ErrInvalidTransition)
	}

	condition := ResolveCondition(s.explicit, s.auto, s.fallback)
	rec := BuildRecord(s.acc, condition, s.patient, uuid.New().String(), s.now())
	s.generation++
	s.pending = nil
	s.mode = ModeCommitted
	s.record(EventSessionCommitted, map[string]string{
		"record_id": rec.ID,
		"fields":    strconv.Itoa(len(rec.KnownFields())),
	})
	cb := s.onCommitted
	s.onCommitted = nil
	photos := s.photoCount
	s.mu.Unlock()

	s.logger.Info("session committed", zap.String("record_id", rec.ID), zap.Int("photos", photos))
	if cb != nil {
		cb(rec)
	}
	return rec, nil
}

// Cancel discards the session. Results still in flight are dropped on arrival.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode.Terminal() {
		return ErrSessionClosed
	}
	s.generation++
	s.pending = nil
	s.mode = ModeCancelled
	s.record(EventSessionCancelled, nil)
	s.logger.Info("session cancelled")
	return nil
}

// View is a read-only snapshot of a session for hosts.
type View struct {
	ID                string                          `json:"id"`
	Mode              Mode                            `json:"mode"`
	Closed            bool                            `json:"closed"`
	PhotoCount        int                             `json:"photoCount"`
	Record            medication.Record               `json:"record"`
	Confidence        int                             `json:"confidence"`
	Bucket            label.Bucket                    `json:"confidenceBucket,omitempty"`
	Hint              string                          `json:"hint,omitempty"`
	Suggestions       []medication.SuggestedCondition `json:"suggestedConditions"`
	SelectedCondition medication.Opt[string]          `json:"selectedCondition"`
	PatientName       medication.Opt[string]          `json:"patientName"`
	Candidates        []medication.Info               `json:"candidates,omitempty"`
	Error             *medication.CaptureError        `json:"error,omitempty"`
	Refill            *projection.RefillStatus        `json:"refill"`
	Expiration        *projection.ExpirationStatus    `json:"expiration"`
}

// View snapshots the session. Projections are computed for the current day.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:                s.id,
		Mode:              s.mode,
		Closed:            s.closed,
		PhotoCount:        s.photoCount,
		Record:            s.acc,
		Suggestions:       append([]medication.SuggestedCondition{}, s.suggestions...),
		SelectedCondition: ResolveCondition(s.explicit, s.auto, s.fallback),
		PatientName:       s.patient,
		Candidates:        append([]medication.Info(nil), s.candidates...),
		Error:             s.lastErr,
	}
	if known := s.acc.KnownFields(); len(known) > 0 {
		v.Confidence = s.weights.Score(known)
		v.Bucket = label.BucketFor(v.Confidence)
		v.Hint = v.Bucket.Message()
	}
	snap := projection.Project(s.acc, s.now())
	v.Refill, v.Expiration = snap.Refill, snap.Expiration
	return v
}
