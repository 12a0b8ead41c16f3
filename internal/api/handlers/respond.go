// Package handlers provides HTTP handlers for the capture API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/drfirst/medscan/internal/capture"
	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/domain/scan"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error   string     `json:"error"`
	Kind    string     `json:"kind,omitempty"`
	Session *scan.View `json:"session,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{Error: message})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var ce *medication.CaptureError
	switch {
	case errors.As(err, &ce):
		switch ce.Kind {
		case medication.KindLookupNotFound:
			return http.StatusNotFound
		case medication.KindExtractionFailed:
			return http.StatusUnprocessableEntity
		default:
			return http.StatusBadGateway
		}
	case errors.Is(err, scan.ErrSessionNotFound), errors.Is(err, medication.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, scan.ErrSessionClosed), errors.Is(err, scan.ErrStaleResult):
		return http.StatusGone
	case errors.Is(err, scan.ErrInvalidTransition), errors.Is(err, scan.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, capture.ErrNoStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sessionError reports a failed session operation along with the session
// state it left behind.
func sessionError(w http.ResponseWriter, err error, view scan.View) {
	resp := ErrorResponse{Error: err.Error(), Session: &view}
	var ce *medication.CaptureError
	if errors.As(err, &ce) {
		resp.Error, resp.Kind = ce.Message, string(ce.Kind)
	}
	writeJSON(w, statusFor(err), resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

const (
	maxJSONBody  = 1 << 20
	maxPhotoSize = 10 << 20
)
