// Package apperr defines the stable error-code taxonomy of spec.md §7.
//
// Every error that crosses an RPC boundary carries a stable Code the front
// end can match on; Message is advisory only, following the teacher's own
// style of sentinel errors per package (interfaces.ErrKeyNotFound) extended
// with a code so the desktop shell never has to parse free-form text.
package apperr

import "fmt"

// Code is a stable, front-end-matchable error identifier.
type Code string

const (
	// Transport
	CodeNetworkFailed   Code = "NetworkFailed"
	CodeTimeout         Code = "Timeout"
	CodeConnectionLost  Code = "ConnectionLost"

	// Protocol
	CodeInvalidResponse Code = "InvalidResponse"
	CodeMalformedFrame  Code = "MalformedFrame"

	// Domain
	CodeQrExpired         Code = "QrCodeExpired"
	CodeQrNotFound        Code = "QrNotFound"
	CodeValidationFailed  Code = "ValidationFailed"
	CodeUidMismatch       Code = "UidMismatch"
	CodeMissingCookie     Code = "MissingCookie"
	CodeCookiesNotFound   Code = "CookiesNotFound"
	CodeTaskNotFound      Code = "TaskNotFound"
	CodeInvalidStatus     Code = "InvalidStatus"
	CodeCaptchaDetected   Code = "CaptchaDetected"
	CodeInvalidKeyword    Code = "InvalidKeyword"
	CodeInvalidTime       Code = "InvalidTime"
	CodeNoData            Code = "NoData"
	CodeCredentialMissing Code = "CredentialMissing"

	// Storage
	CodeStorageConnectionFailed Code = "RedisConnectionFailed"
	CodeSerializationError      Code = "SerializationError"
	CodeStorageError            Code = "StorageError"

	// Resource
	CodeRateLimited Code = "RateLimited"
	CodeDiskFull    Code = "DiskFull"
)

// Error is the RPC-facing error type: a stable Code, an advisory Message,
// and an optionally wrapped underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error around an existing error, preserving it for
// errors.Is/errors.As at call sites.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
