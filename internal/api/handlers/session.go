package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/api/middleware"
	"github.com/drfirst/medscan/internal/capture"
	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
	"github.com/drfirst/medscan/internal/label"
	"github.com/drfirst/medscan/internal/projection"
)

// SessionHandler exposes capture sessions over HTTP
type SessionHandler struct {
	svc    *capture.Service
	logger *zap.Logger
}

// NewSessionHandler creates a new handler
func NewSessionHandler(svc *capture.Service, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{svc: svc, logger: logger}
}

// Routes returns the handler routes
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Open)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Cancel)
		r.Get("/events", h.Events)
		r.Post("/mode", h.ChooseMode)
		r.Post("/photos", h.Photo)
		r.Post("/barcode", h.Barcode)
		r.Post("/search", h.Search)
		r.Post("/pick", h.Pick)
		r.Patch("/record", h.Edit)
		r.Put("/condition", h.SelectCondition)
		r.Put("/patient", h.SetPatient)
		r.Post("/retry", h.Retry)
		r.Post("/more", h.More)
		r.Post("/commit", h.Commit)
	})
	return r
}

// OpenRequest is the body for opening a session
type OpenRequest struct {
	PatientName   string `json:"patientName,omitempty"`
	PrescribedFor string `json:"prescribedFor,omitempty"`
}

// Open handles POST /sessions
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	sess := h.svc.Open(capture.OpenOptions{PatientName: req.PatientName, PrescribedFor: req.PrescribedFor})
	h.logger.Info("session opened",
		zap.String("session_id", sess.ID()),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("client_id", middleware.GetClientID(r.Context())),
	)
	writeJSON(w, http.StatusCreated, sess.View())
}

// session resolves the {id} path parameter, writing 404 when unknown
func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*scan.Session, bool) {
	sess, err := h.svc.Session(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return nil, false
	}
	return sess, true
}

// reply writes the session view, or the error with the view it left behind
func reply(w http.ResponseWriter, view scan.View, err error) {
	if err != nil {
		sessionError(w, err, view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// Events handles GET /sessions/{id}/events
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Events())
}

// Cancel handles DELETE /sessions/{id}
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cancel(sess); err != nil {
		sessionError(w, err, sess.View())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ModeRequest selects a capture path
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ChooseMode handles POST /sessions/{id}/mode
func (h *SessionHandler) ChooseMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ModeRequest
	if err := decode(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, err := scan.ParseMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = sess.ChooseMode(mode)
	reply(w, sess.View(), err)
}

// Photo handles POST /sessions/{id}/photos with a multipart "image" file and
// an optional "side" of front, back or bottle.
func (h *SessionHandler) Photo(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("capture-handler").Start(r.Context(), "capture_photo")
	defer span.End()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		jsonError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		jsonError(w, "image is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil || len(image) == 0 {
		jsonError(w, "could not read image", http.StatusBadRequest)
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(image)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		jsonError(w, "unsupported image type "+mimeType, http.StatusUnsupportedMediaType)
		return
	}

	side := label.ParseSide(r.FormValue("side"))
	span.SetAttributes(
		attribute.String("session_id", sess.ID()),
		attribute.String("side", string(side)),
		attribute.Int("image_bytes", len(image)),
	)
	view, err := h.svc.Controller().Photo(ctx, sess, image, mimeType, side)
	reply(w, view, err)
}

// BarcodeRequest carries a scanned code
type BarcodeRequest struct {
	Code string `json:"code"`
}

// Barcode handles POST /sessions/{id}/barcode
func (h *SessionHandler) Barcode(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req BarcodeRequest
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		jsonError(w, "code is required", http.StatusBadRequest)
		return
	}
	view, err := h.svc.Controller().Barcode(r.Context(), sess, strings.TrimSpace(req.Code))
	reply(w, view, err)
}

// SearchRequest carries a name query
type SearchRequest struct {
	Query string `json:"query"`
}

// Search handles POST /sessions/{id}/search
func (h *SessionHandler) Search(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SearchRequest
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.Query) == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	view, err := h.svc.Controller().Search(r.Context(), sess, strings.TrimSpace(req.Query))
	reply(w, view, err)
}

// PickRequest selects one search candidate
type PickRequest struct {
	Index int `json:"index"`
}

// Pick handles POST /sessions/{id}/pick
func (h *SessionHandler) Pick(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req PickRequest
	if err := decode(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	view, err := h.svc.Controller().Pick(r.Context(), sess, req.Index)
	reply(w, view, err)
}

// Edit handles PATCH /sessions/{id}/record. The body maps field names to
// text; an empty string clears the field.
func (h *SessionHandler) Edit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var body map[string]string
	if err := decode(w, r, &body); err != nil || len(body) == 0 {
		jsonError(w, "a field patch is required", http.StatusBadRequest)
		return
	}
	patch := make(map[medication.Field]string, len(body))
	for k, v := range body {
		f, ok := medication.ParseField(k)
		if !ok {
			jsonError(w, "unknown field "+k, http.StatusBadRequest)
			return
		}
		patch[f] = v
	}
	if err := sess.Edit(patch); err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sessionError(w, err, sess.View())
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// NameRequest carries a condition or patient name
type NameRequest struct {
	Name string `json:"name"`
}

// SelectCondition handles PUT /sessions/{id}/condition. A blank name
// withdraws the selection.
func (h *SessionHandler) SelectCondition(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req NameRequest
	if err := decode(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := sess.SelectCondition(req.Name)
	reply(w, sess.View(), err)
}

// SetPatient handles PUT /sessions/{id}/patient
func (h *SessionHandler) SetPatient(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req NameRequest
	if err := decode(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := sess.SetPatient(req.Name)
	reply(w, sess.View(), err)
}

// Retry handles POST /sessions/{id}/retry
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	err := sess.Retry()
	reply(w, sess.View(), err)
}

// More handles POST /sessions/{id}/more
func (h *SessionHandler) More(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	err := sess.AddPhoto()
	reply(w, sess.View(), err)
}

// CommitResponse is the committed record with its statuses for today
type CommitResponse struct {
	Record     medication.Record            `json:"record"`
	Refill     *projection.RefillStatus     `json:"refill"`
	Expiration *projection.ExpirationStatus `json:"expiration"`
	Persisted  bool                         `json:"persisted"`
}

// Commit handles POST /sessions/{id}/commit
func (h *SessionHandler) Commit(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("capture-handler").Start(r.Context(), "commit_session")
	defer span.End()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("session_id", sess.ID()))

	rec, err := h.svc.Commit(ctx, sess)
	if err != nil && rec.ID == "" {
		sessionError(w, err, sess.View())
		return
	}
	snap := projection.Project(rec, rec.ScannedAt)
	resp := CommitResponse{Record: rec, Refill: snap.Refill, Expiration: snap.Expiration, Persisted: err == nil}
	if err != nil {
		span.RecordError(err)
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	h.logger.Info("record committed",
		zap.String("session_id", sess.ID()),
		zap.String("record_id", rec.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, resp)
}
