package medication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/infrastructure/postgres"
)

// ErrRecordNotFound is returned by Get for an unknown id
var ErrRecordNotFound = errors.New("medication record not found")

// Repository persists committed medication records
type Repository struct {
	pool   *pgxpool.Pool
	topic  string
	logger *zap.Logger
}

// NewRepository creates a repository that announces saved records on topic
func NewRepository(pool *pgxpool.Pool, topic string, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, topic: topic, logger: logger}
}

// Save stores the record and its outbox entry in one transaction
func (r *Repository) Save(ctx context.Context, rec Record, sessionID string) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	payload, err := json.Marshal(RecordCommitted{
		RecordID:    rec.ID,
		SessionID:   sessionID,
		Record:      rec,
		CommittedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO medication_records
		(id, patient_name, name, ndc, fill_date, expiration_date, document, scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, query,
		rec.ID,
		nullable(rec.PatientName),
		rec.DisplayName(),
		nullable(rec.NDC),
		nullable(rec.FillDate),
		nullable(rec.ExpirationDate),
		doc,
		rec.ScannedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	entry := &postgres.OutboxEntry{
		AggregateID:   rec.ID,
		AggregateType: AggregateType,
		EventType:     EventRecordCommitted,
		Payload:       payload,
		Topic:         r.topic,
		Key:           rec.ID,
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Debug("medication record saved",
		zap.String("record_id", rec.ID),
		zap.Int64("outbox_id", entry.ID))
	return nil
}

// Get loads a record by id
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM medication_records WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(doc)
}

// ListByPatient returns the most recent records for a patient
func (r *Repository) ListByPatient(ctx context.Context, patientName string, limit int) ([]Record, error) {
	query := `
		SELECT document
		FROM medication_records
		WHERE patient_name = $1
		ORDER BY scanned_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, patientName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// EachActive calls fn for every record that carries a fill or expiration date
func (r *Repository) EachActive(ctx context.Context, fn func(Record) error) error {
	query := `
		SELECT document
		FROM medication_records
		WHERE fill_date IS NOT NULL OR expiration_date IS NOT NULL
		ORDER BY scanned_at ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return err
		}
		rec, err := decodeDocument(doc)
		if err != nil {
			r.logger.Warn("skipping undecodable record", zap.Error(err))
			continue
		}
		if err := fn(*rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func collect(rows pgx.Rows) ([]Record, error) {
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func decodeDocument(doc []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// nullable turns an unknown value into SQL NULL
func nullable[T any](o Opt[T]) any {
	if v, ok := o.Get(); ok {
		return v
	}
	return nil
}
