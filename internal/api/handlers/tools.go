package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/label"
	"github.com/drfirst/medscan/internal/projection"
)

// ToolHandler serves the stateless parser and projection endpoints
type ToolHandler struct {
	parser *label.Parser
	logger *zap.Logger
	now    func() time.Time
}

// NewToolHandler creates a new handler
func NewToolHandler(parser *label.Parser, logger *zap.Logger) *ToolHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parser == nil {
		parser = label.New(logger)
	}
	return &ToolHandler{parser: parser, logger: logger, now: time.Now}
}

// ParseRequest is recognized label text
type ParseRequest struct {
	Text string `json:"text"`
	Side string `json:"side,omitempty"`
}

// ParseResponse is the parser output with its confidence bucket
type ParseResponse struct {
	medication.ExtractionResult
	Bucket label.Bucket `json:"confidenceBucket"`
	Hint   string       `json:"hint"`
}

// ParseLabel handles POST /labels/parse
func (h *ToolHandler) ParseLabel(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}
	res, err := h.parser.Parse(req.Text, label.Hints{Side: label.ParseSide(req.Side)})
	if errors.Is(err, label.ErrNoUsableData) {
		cerr := medication.ExtractionFailed(err)
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: cerr.Message, Kind: string(cerr.Kind)})
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	bucket := label.BucketFor(res.Confidence)
	writeJSON(w, http.StatusOK, ParseResponse{ExtractionResult: res, Bucket: bucket, Hint: bucket.Message()})
}

// ProjectionRequest holds the label facts the projections need. Dates accept
// the same formats labels print.
type ProjectionRequest struct {
	Quantity       string `json:"quantity,omitempty"`
	Frequency      string `json:"frequency,omitempty"`
	FillDate       string `json:"fillDate,omitempty"`
	ExpirationDate string `json:"expirationDate,omitempty"`
	Today          string `json:"today,omitempty"`
}

// Project handles POST /projections
func (h *ToolHandler) Project(w http.ResponseWriter, r *http.Request) {
	var req ProjectionRequest
	if err := decode(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec := medication.Record{
		Quantity:  medication.Text(req.Quantity),
		Frequency: medication.Text(req.Frequency),
	}
	today := h.now().UTC()
	for _, d := range []struct {
		field medication.Field
		value string
	}{
		{medication.FieldFillDate, req.FillDate},
		{medication.FieldExpirationDate, req.ExpirationDate},
	} {
		if err := rec.Set(d.field, d.value); err != nil {
			jsonError(w, string(d.field)+": "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if strings.TrimSpace(req.Today) != "" {
		t, err := medication.ParseDate(req.Today)
		if err != nil {
			jsonError(w, "today: "+err.Error(), http.StatusBadRequest)
			return
		}
		today = t
	}

	writeJSON(w, http.StatusOK, projection.Project(rec, today))
}
