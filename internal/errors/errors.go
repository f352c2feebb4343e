// Package errors defines the failure taxonomy of the embedding service.
// Every error that crosses a package boundary on the request path is either
// an *Error carrying a Kind or an unexpected internal failure, which the HTTP
// layer treats as KindInference.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for logging and for the HTTP status it maps to.
type Kind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota
	KindUnsupportedMediaType
	KindEmptyInput
	KindPayloadTooLarge
	KindInvalidImage
	KindMissingUpload
	KindInference
	KindTimeout
	KindStartup
)

// String returns the name used in log entries and metric labels.
func (k Kind) String() string {
	switch k {
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	case KindEmptyInput:
		return "empty_input"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindInvalidImage:
		return "invalid_image"
	case KindMissingUpload:
		return "missing_upload"
	case KindInference:
		return "inference_error"
	case KindTimeout:
		return "timeout"
	case KindStartup:
		return "startup_failure"
	default:
		return "unknown"
	}
}

// IsClient reports whether the failure was caused by the caller's input.
// Client failures are deterministic: resending the same upload fails again.
func (k Kind) IsClient() bool {
	switch k {
	case KindUnsupportedMediaType, KindEmptyInput, KindPayloadTooLarge, KindInvalidImage, KindMissingUpload:
		return true
	default:
		return false
	}
}

// Error is a classified failure. Reason is safe to show to callers for client
// kinds; Err holds the underlying cause and is only ever logged.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error without an underlying cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf is New with a formatted reason.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, reason string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf returns the caller-facing reason of a classified error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsClient reports whether err is a classified client failure.
func IsClient(err error) bool {
	return KindOf(err).IsClient()
}
