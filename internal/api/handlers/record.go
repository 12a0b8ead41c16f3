package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/domain/medication"
	fhir "github.com/drfirst/medscan/internal/fhir/r5"
	"github.com/drfirst/medscan/internal/projection"
)

// RecordSource loads committed records
type RecordSource interface {
	Record(ctx context.Context, id string) (*medication.Record, error)
	PatientRecords(ctx context.Context, patientName string, limit int) ([]medication.Record, error)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RecordHandler serves committed records
type RecordHandler struct {
	records RecordSource
	logger  *zap.Logger
	now     func() time.Time
}

// NewRecordHandler creates a new handler
func NewRecordHandler(records RecordSource, logger *zap.Logger) *RecordHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordHandler{records: records, logger: logger, now: time.Now}
}

// Routes returns the handler routes
func (h *RecordHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/fhir", h.FHIR)
	return r
}

// RecordResponse is a record with its statuses for today
type RecordResponse struct {
	Record     medication.Record            `json:"record"`
	Refill     *projection.RefillStatus     `json:"refill"`
	Expiration *projection.ExpirationStatus `json:"expiration"`
}

// Get handles GET /records/{id}
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.loadError(w, err)
		return
	}
	snap := projection.Project(*rec, h.now().UTC())
	writeJSON(w, http.StatusOK, RecordResponse{Record: *rec, Refill: snap.Refill, Expiration: snap.Expiration})
}

// List handles GET /records?patient=name&limit=n
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	patient := strings.TrimSpace(r.URL.Query().Get("patient"))
	if patient == "" {
		jsonError(w, "patient is required", http.StatusBadRequest)
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := h.records.PatientRecords(r.Context(), patient, limit)
	if err != nil {
		h.loadError(w, err)
		return
	}
	today := h.now().UTC()
	out := make([]RecordResponse, 0, len(recs))
	for _, rec := range recs {
		snap := projection.Project(rec, today)
		out = append(out, RecordResponse{Record: rec, Refill: snap.Refill, Expiration: snap.Expiration})
	}
	writeJSON(w, http.StatusOK, out)
}

// FHIR handles GET /records/{id}/fhir
func (h *RecordHandler) FHIR(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		code := statusFor(err)
		issue := "exception"
		if code == http.StatusNotFound {
			issue = "not-found"
		}
		if code == http.StatusInternalServerError {
			h.logger.Error("failed to load record", zap.Error(err))
		}
		fhirJSON(w, code, fhir.NewErrorOutcome(issue, err.Error()))
		return
	}
	fhirJSON(w, http.StatusOK, fhir.MedicationStatementFromRecord(*rec))
}

func (h *RecordHandler) loadError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if errors.Is(err, medication.ErrRecordNotFound) {
		jsonError(w, "record not found", code)
		return
	}
	if code == http.StatusInternalServerError {
		h.logger.Error("failed to load record", zap.Error(err))
	}
	jsonError(w, err.Error(), code)
}

func fhirJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
