package medication

import (
	"errors"
	"fmt"
)

// Capture failure kinds
var (
	ErrLookupNotFound   = errors.New("medication not found")
	ErrExtractionFailed = errors.New("no usable data on label")
	ErrTransportFailure = errors.New("external service failure")
)

// ErrorKind classifies a capture failure
type ErrorKind string

const (
	KindLookupNotFound   ErrorKind = "lookup_not_found"
	KindExtractionFailed ErrorKind = "extraction_failed"
	KindTransportFailure ErrorKind = "transport_failure"
)

// CaptureError is a session-scoped failure with a caregiver-facing message.
type CaptureError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// NotFound reports an empty code lookup or name search.
func NotFound(what string) *CaptureError {
	return &CaptureError{
		Kind:    KindLookupNotFound,
		Message: fmt.Sprintf("No medication found for %s. Try another capture method.", what),
		Err:     ErrLookupNotFound,
	}
}

// ExtractionFailed reports a label with no recognizable fields.
func ExtractionFailed(cause error) *CaptureError {
	switch {
	case cause == nil:
		cause = ErrExtractionFailed
	case !errors.Is(cause, ErrExtractionFailed):
		cause = fmt.Errorf("%w: %w", ErrExtractionFailed, cause)
	}
	return &CaptureError{
		Kind:    KindExtractionFailed,
		Message: "Could not read the label. Try another photo, scan the barcode, or search by name.",
		Err:     cause,
	}
}

// TransportFailure reports a collaborator call that failed outright.
func TransportFailure(cause error) *CaptureError {
	switch {
	case cause == nil:
		cause = ErrTransportFailure
	case !errors.Is(cause, ErrTransportFailure):
		cause = fmt.Errorf("%w: %w", ErrTransportFailure, cause)
	}
	return &CaptureError{
		Kind:    KindTransportFailure,
		Message: "Something went wrong. Please try again.",
		Err:     cause,
	}
}

// Classify maps any collaborator error onto the capture taxonomy.
func Classify(err error) *CaptureError {
	var ce *CaptureError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrLookupNotFound):
		return &CaptureError{Kind: KindLookupNotFound, Message: NotFound("that search").Message, Err: err}
	case errors.Is(err, ErrExtractionFailed):
		return ExtractionFailed(err)
	default:
		return TransportFailure(err)
	}
}
