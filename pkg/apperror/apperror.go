package apperror

import "fmt"

// Code is the error taxonomy the signaling engine acks with and the
// scheduler logs with. It never reaches the wire as anything but a
// human message (AppError.Message) — the protocol never reveals Code or
// Cause to the client.
type Code string

const (
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeNotBound            Code = "NOT_BOUND"
	CodeNotFound            Code = "NOT_FOUND"
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeAlreadyExists       Code = "ALREADY_EXISTS"
	CodeCodecIncompatible   Code = "CODEC_INCOMPATIBLE"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)

// AppError carries a taxonomy code plus a user-safe message. Cause and
// Context are for logs only; the ack writer in the signaling layer must
// never marshal them.
type AppError struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func PermissionDenied(message string) *AppError {
	return New(CodePermissionDenied, message)
}

func InvalidArgument(message string) *AppError {
	return New(CodeInvalidArgument, message)
}

func InvalidState(message string) *AppError {
	return New(CodeInvalidState, message)
}

func AlreadyExists(message string) *AppError {
	return New(CodeAlreadyExists, message)
}

func Internal(message string) *AppError {
	return New(CodeInternal, message)
}

func UpstreamUnavailable(message string) *AppError {
	return New(CodeUpstreamUnavailable, message)
}

// Is reports whether err is an *AppError carrying the given code.
func Is(err error, code Code) bool {
	ae := As(err)
	return ae != nil && ae.Code == code
}

// As extracts an *AppError from an error chain, unwrapping as needed.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	type unwrapper interface {
		Unwrap() error
	}
	if u, ok := err.(unwrapper); ok {
		return As(u.Unwrap())
	}
	return nil
}
