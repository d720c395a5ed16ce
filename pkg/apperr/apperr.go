// Package apperr defines the error taxonomy shared by the retrieval,
// ingestion, and research packages. Callers classify failures into a
// small set of kinds and use errors.Is/errors.As to route them.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// InvalidInput marks caller mistakes: empty query, unknown mode,
	// malformed document id. Aborts the whole operation.
	InvalidInput Kind = "invalid_input"

	// NotFound marks a missing or not-owned resource.
	NotFound Kind = "not_found"

	// Unauthorized marks an owner mismatch on a scoped operation.
	Unauthorized Kind = "unauthorized"

	// Transient marks retriable backend failures: timeouts, HTTP 5xx,
	// dropped connections. Retried locally before surfacing.
	Transient Kind = "transient"

	// Permanent marks non-retriable backend failures: HTTP 4xx,
	// bad content types, parse failures.
	Permanent Kind = "permanent"

	// Degraded marks a failed sub-branch of an orchestration whose
	// overall result is still usable. Surfaced in metadata only.
	Degraded Kind = "degraded"

	// Cancelled marks caller-initiated cancellation.
	Cancelled Kind = "cancelled"
)

// Error is the concrete error type carried across package boundaries.
type Error struct {
	// Op is the operation that failed, e.g. "vectorindex.Search".
	Op string

	// Kind classifies the failure.
	Kind Kind

	// Err is the underlying error, if any.
	Err error

	// Msg is an optional human-readable detail.
	Msg string
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches against another *Error by kind, so callers can write
// errors.Is(err, &Error{Kind: NotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// New creates an error without an underlying cause.
func New(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Wrap attaches operation and kind to an underlying error.
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrapf attaches operation, kind, and a formatted message.
func Wrapf(op string, kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: kind, Err: err, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, walking the unwrap chain. Unclassified
// errors report Permanent; context errors map to Cancelled/Transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Permanent
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == Transient
}

// Aborts reports whether err must abort an orchestration instead of
// degrading it: invalid input, authorization failures, and cancellation.
func Aborts(err error) bool {
	switch KindOf(err) {
	case InvalidInput, Unauthorized, Cancelled:
		return true
	}
	return false
}

// FromHTTPStatus classifies an HTTP response status.
func FromHTTPStatus(op string, statusCode int) *Error {
	kind := Permanent
	switch {
	case statusCode >= 500 || statusCode == http.StatusTooManyRequests:
		kind = Transient
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = Unauthorized
	case statusCode == http.StatusNotFound:
		kind = NotFound
	}
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf("http status %d", statusCode)}
}

// FromGRPC classifies a gRPC error by its status code.
func FromGRPC(op string, err error) *Error {
	if err == nil {
		return nil
	}
	kind := Permanent
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			kind = Transient
		case codes.NotFound:
			kind = NotFound
		case codes.InvalidArgument:
			kind = InvalidInput
		case codes.Unauthenticated, codes.PermissionDenied:
			kind = Unauthorized
		case codes.Canceled:
			kind = Cancelled
		}
	} else if errors.Is(err, context.Canceled) {
		kind = Cancelled
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = Transient
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// FromAWS classifies an AWS SDK error by its smithy error code.
func FromAWS(op string, err error) *Error {
	if err == nil {
		return nil
	}
	kind := Permanent
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException",
			"ModelTimeoutException", "InternalServerException",
			"ModelNotReadyException", "ServiceQuotaExceededException":
			kind = Transient
		case "AccessDeniedException", "UnrecognizedClientException":
			kind = Unauthorized
		case "ResourceNotFoundException":
			kind = NotFound
		case "ValidationException":
			kind = InvalidInput
		}
	} else if errors.Is(err, context.Canceled) {
		kind = Cancelled
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = Transient
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
