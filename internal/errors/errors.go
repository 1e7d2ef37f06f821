// Package errors provides unified error handling with a structured error Code.
// Codes mirror the failure taxonomy of the capture pipeline and map onto gRPC
// status codes for the remote inference service.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies an AppError.
type Code string

const (
	Unknown     Code = "UNKNOWN"
	Internal    Code = "INTERNAL"
	Unavailable Code = "UNAVAILABLE"
	Timeout     Code = "TIMEOUT"
	Cancelled   Code = "CANCELLED"

	ConfigInvalid Code = "CONFIG_INVALID"
	ConfigMissing Code = "CONFIG_MISSING"

	CaptureFailed      Code = "CAPTURE_FAILED"
	CaptureOutOfBounds Code = "CAPTURE_OUT_OF_BOUNDS"

	OCRTimeout Code = "OCR_TIMEOUT"
	OCRFailed  Code = "OCR_FAILED"

	ExtractFailed Code = "EXTRACT_FAILED"

	DedupCorrupt  Code = "DEDUP_CORRUPT"
	PersistFailed Code = "PERSIST_FAILED"

	ClassifyFailed Code = "CLASSIFY_FAILED"
)

// grpcCodeMap maps error codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	Unknown:            codes.Unknown,
	Internal:           codes.Internal,
	Unavailable:        codes.Unavailable,
	Timeout:            codes.DeadlineExceeded,
	Cancelled:          codes.Canceled,
	ConfigInvalid:      codes.InvalidArgument,
	ConfigMissing:      codes.FailedPrecondition,
	CaptureFailed:      codes.Unavailable,
	CaptureOutOfBounds: codes.OutOfRange,
	OCRTimeout:         codes.DeadlineExceeded,
	OCRFailed:          codes.Internal,
	ExtractFailed:      codes.NotFound,
	DedupCorrupt:       codes.DataLoss,
	PersistFailed:      codes.Internal,
	ClassifyFailed:     codes.Internal,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus returns a gRPC status for the error.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError converts an error returned by a gRPC call into an AppError.
func FromGRPCError(err error) *AppError {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}
	return &AppError{Code: grpcToErrorCode(st.Code()), Message: st.Message(), Cause: err}
}

// grpcToErrorCode maps gRPC codes back to our error codes (best effort).
func grpcToErrorCode(c codes.Code) Code {
	switch c {
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.InvalidArgument:
		return ConfigInvalid
	case codes.FailedPrecondition:
		return ConfigMissing
	default:
		return Unknown
	}
}

// CodeOf returns the code of the first AppError in err's chain, or Unknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout, OCRTimeout, CaptureFailed:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error belongs to the startup-fatal class.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ConfigInvalid, ConfigMissing, DedupCorrupt:
		return true
	default:
		return false
	}
}
