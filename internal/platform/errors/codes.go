// Package errors provides structured error handling with i18n support.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request errors
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeNotFound         Code = "NOT_FOUND"

	// Order lifecycle errors
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeForbiddenTransition Code = "FORBIDDEN_TRANSITION"

	// Idempotency errors
	CodeIdempotencyKeyReused  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeIdempotencyInProgress Code = "IDEMPOTENCY_IN_PROGRESS"

	// Payment errors
	CodePaymentSignatureInvalid Code = "PAYMENT_SIGNATURE_INVALID"
	CodePaymentNotAllowed       Code = "PAYMENT_NOT_ALLOWED"

	// Dispute errors
	CodeRefundNotAllowed         Code = "REFUND_NOT_ALLOWED"
	CodeDisputeInvalidTransition Code = "DISPUTE_INVALID_TRANSITION"

	// Abuse protection errors
	CodeAbuseRateLimit Code = "ABUSE_RATE_LIMIT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidArgument:
		return codes.InvalidArgument

	case CodeUnauthenticated,
		CodePaymentSignatureInvalid:
		return codes.Unauthenticated

	case CodeForbiddenTransition,
		CodePermissionDenied:
		return codes.PermissionDenied

	// FailedPrecondition - state doesn't allow operation
	case CodeInvalidTransition,
		CodePaymentNotAllowed,
		CodeRefundNotAllowed,
		CodeDisputeInvalidTransition,
		CodeIdempotencyKeyReused:
		return codes.FailedPrecondition

	case CodeIdempotencyInProgress:
		return codes.Aborted

	case CodeAbuseRateLimit:
		return codes.ResourceExhausted

	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthenticated,
		CodePaymentSignatureInvalid:
		return http.StatusUnauthorized
	case CodeForbiddenTransition,
		CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition,
		CodePaymentNotAllowed,
		CodeRefundNotAllowed,
		CodeDisputeInvalidTransition,
		CodeIdempotencyInProgress:
		return http.StatusConflict
	case CodeIdempotencyKeyReused:
		return http.StatusUnprocessableEntity
	case CodeAbuseRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
