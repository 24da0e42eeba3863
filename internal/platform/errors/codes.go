// Package errors provides structured error handling for board operations.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Claim admission errors
	CodeReplay           Code = "REPLAY"
	CodeTimestampDrift   Code = "TIMESTAMP_DRIFT"
	CodeTokenExpired     Code = "TOKEN_EXPIRED"
	CodeTokenInvalid     Code = "TOKEN_INVALID"
	CodeImplausibleSpeed Code = "IMPLAUSIBLE_SPEED"

	// Throttling errors
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeInvalidIncrement  Code = "INVALID_INCREMENT"

	// Account errors
	CodeAccountSuspended Code = "ACCOUNT_SUSPENDED"

	// Ledger errors
	CodeContention     Code = "CONTENTION"
	CodeStorageFailure Code = "STORAGE_FAILURE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Audit errors
	CodeHistoryTampered Code = "HISTORY_TAMPERED"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidIncrement,
		CodeTokenInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeTimestampDrift,
		CodeTokenExpired,
		CodeImplausibleSpeed,
		CodeAccountSuspended:
		return codes.FailedPrecondition

	// AlreadyExists - duplicate submission
	case CodeReplay:
		return codes.AlreadyExists

	// ResourceExhausted - throttled, retry after the window resets
	case CodeRateLimitExceeded:
		return codes.ResourceExhausted

	// Aborted - lost the write race, safe to retry
	case CodeContention:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// Unavailable - backing store failure
	case CodeStorageFailure:
		return codes.Unavailable

	// DataLoss - audit chain verification failure
	case CodeHistoryTampered:
		return codes.DataLoss

	default:
		return codes.Internal
	}
}
