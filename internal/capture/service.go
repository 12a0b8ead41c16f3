// Package capture hosts capture sessions for the HTTP and chat front ends:
// it registers sessions, runs their collaborator calls and persists the
// records they commit.
package capture

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/internal/observability/metrics"
)

// ErrNoStore is returned by Record when the service persists nothing
var ErrNoStore = errors.New("record storage is not configured")

// RecordStore persists committed records
type RecordStore interface {
	Save(ctx context.Context, rec medication.Record, sessionID string) error
	Get(ctx context.Context, id string) (*medication.Record, error)
	ListByPatient(ctx context.Context, patientName string, limit int) ([]medication.Record, error)
}

// SessionMetrics counts session lifecycles
type SessionMetrics interface {
	SessionOpened()
	SessionFinished(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) SessionOpened()         {}
func (nopMetrics) SessionFinished(string) {}

// OpenOptions is the caller context of a new session
type OpenOptions struct {
	PatientName   string
	PrescribedFor string
}

// Service owns the session registry and the controller
type Service struct {
	sessions   *scan.Manager
	controller *scan.Controller
	store      RecordStore
	metrics    SessionMetrics
	logger     *zap.Logger
}

// NewService creates a capture service. store and sessionMetrics may be nil.
func NewService(sessions *scan.Manager, controller *scan.Controller, store RecordStore, sessionMetrics SessionMetrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionMetrics == nil {
		sessionMetrics = nopMetrics{}
	}
	s := &Service{
		sessions:   sessions,
		controller: controller,
		store:      store,
		metrics:    sessionMetrics,
		logger:     logger,
	}
	sessions.OnExpire = func(*scan.Session) {
		sessionMetrics.SessionFinished(metrics.OutcomeExpired)
	}
	return s
}

// Controller returns the controller that runs collaborator calls
func (s *Service) Controller() *scan.Controller {
	return s.controller
}

// Sessions returns the session registry
func (s *Service) Sessions() *scan.Manager {
	return s.sessions
}

// Open registers a new session under a generated id
func (s *Service) Open(opts OpenOptions) *scan.Session {
	sess := s.sessions.Open(s.config(opts))
	s.metrics.SessionOpened()
	return sess
}

// OpenAs registers a session under key, replacing any session held there
func (s *Service) OpenAs(key string, opts OpenOptions) *scan.Session {
	prev, err := s.sessions.Get(key)
	replaced := err == nil && !prev.Mode().Terminal()

	sess := s.sessions.OpenAs(key, s.config(opts))
	if replaced {
		s.metrics.SessionFinished(metrics.OutcomeCancelled)
	}
	s.metrics.SessionOpened()
	return sess
}

// Acquire returns the live session held under key, opening one when there is
// none or the previous one has finished
func (s *Service) Acquire(key string, opts OpenOptions) *scan.Session {
	sess, opened := s.sessions.GetOrOpen(key, s.config(opts))
	if opened {
		s.metrics.SessionOpened()
	}
	return sess
}

func (s *Service) config(opts OpenOptions) scan.Config {
	return scan.Config{PatientName: opts.PatientName, PrescribedFor: opts.PrescribedFor}
}

// Session returns a registered session
func (s *Service) Session(id string) (*scan.Session, error) {
	return s.sessions.Get(id)
}

// Commit finalizes the session and persists its record. The session leaves
// the registry once the record is stored; if storing fails the committed
// session stays registered so the caller can still read the record.
func (s *Service) Commit(ctx context.Context, sess *scan.Session) (medication.Record, error) {
	rec, err := sess.Commit()
	if err != nil {
		return medication.Record{}, err
	}
	s.metrics.SessionFinished(metrics.OutcomeCommitted)

	if s.store != nil {
		if err := s.store.Save(ctx, rec, sess.ID()); err != nil {
			s.logger.Error("failed to persist committed record",
				zap.String("session_id", sess.ID()),
				zap.String("record_id", rec.ID),
				zap.Error(err))
			return rec, fmt.Errorf("persist record: %w", err)
		}
	}
	s.sessions.Remove(sess.ID())
	return rec, nil
}

// Cancel discards the session and drops it from the registry
func (s *Service) Cancel(sess *scan.Session) error {
	if err := sess.Cancel(); err != nil {
		return err
	}
	s.sessions.Remove(sess.ID())
	s.metrics.SessionFinished(metrics.OutcomeCancelled)
	return nil
}

// Record loads a committed record
func (s *Service) Record(ctx context.Context, id string) (*medication.Record, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.Get(ctx, id)
}

// PatientRecords returns a patient's most recent records, newest first
func (s *Service) PatientRecords(ctx context.Context, patientName string, limit int) ([]medication.Record, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListByPatient(ctx, patientName, limit)
}
