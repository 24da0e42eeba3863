package errors

import (
	stderrors "errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain reported in gRPC error details.
const Domain = "github.com/louisbranch/podium.live"

// Error is a coded domain error. The code drives matching and transport
// mapping; the message is internal wording for logs and telemetry.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string // retry hints, field names
	Cause    error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches domain errors by code, so sentinel comparisons work across
// independently constructed instances.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// New creates a domain error from a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error carrying structured context.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata, Cause: cause}
}

// CodeOf extracts the domain code from anywhere in an error chain, or
// CodeUnknown when the chain carries no domain error.
func CodeOf(err error) Code {
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// ToGRPCStatus converts the error to a gRPC status carrying errdetails. The
// status message keeps the internal wording; userMessage is the caller's
// localized text for the client.
func (e *Error) ToGRPCStatus(locale string, userMessage string) error {
	st := status.New(e.Code.GRPCCode(), e.Message)
	detailed, err := st.WithDetails(
		&errdetails.ErrorInfo{
			Reason:   string(e.Code),
			Domain:   Domain,
			Metadata: e.Metadata,
		},
		&errdetails.LocalizedMessage{
			Locale:  locale,
			Message: userMessage,
		},
	)
	if err != nil {
		// Details could not be encoded; the coded status still stands.
		return st.Err()
	}
	return detailed.Err()
}
