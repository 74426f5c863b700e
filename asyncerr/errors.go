// Package asyncerr defines the error taxonomy shared by the loop, promise,
// httpclient, mysqlclient, pool, and fileio packages.
//
// Every error constructed by this repository carries a stable Kind tag, a
// human message, and (optionally) a cause chain via Unwrap, so callers can
// use errors.Is/errors.As instead of string matching.
package asyncerr

import "fmt"

// Kind tags the category of an error, independent of its message.
type Kind string

const (
	// KindCancelled marks an operation aborted by the caller or a parent timeout.
	KindCancelled Kind = "cancelled"
	// KindTimeout marks a wall-clock budget exceeded.
	KindTimeout Kind = "timeout"
	// KindTransport marks a socket, DNS, or TLS handshake failure.
	KindTransport Kind = "transport"
	// KindProtocol marks a malformed HTTP or MySQL packet.
	KindProtocol Kind = "protocol"
	// KindHTTPStatus marks a non-2xx response surfaced as an error.
	KindHTTPStatus Kind = "http_status"
	// KindSQL marks a MySQL ERR packet.
	KindSQL Kind = "sql"
	// KindPoolClosed marks use of a pool after Close.
	KindPoolClosed Kind = "pool_closed"
	// KindPoolExhausted marks a pool acquire that could not be satisfied.
	KindPoolExhausted Kind = "pool_exhausted"
	// KindFileIO marks a filesystem error.
	KindFileIO Kind = "file_io"
	// KindCache marks a cache read/write failure (non-fatal).
	KindCache Kind = "cache"
	// KindUsage marks caller misuse, e.g. Await outside a coroutine.
	KindUsage Kind = "usage"
)

// Error is the concrete error type used throughout this repository.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Retryable overrides the Kind's default retry eligibility when non-nil.
	Retryable *bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap enables errors.Is/errors.As against the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so callers can do errors.Is(err, asyncerr.Timeout) style
// checks against a sentinel built with the same Kind and no message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error with a cause chain.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels usable with errors.Is by Kind alone (no message/cause match).
var (
	Cancelled     = &Error{Kind: KindCancelled}
	Timeout       = &Error{Kind: KindTimeout}
	Transport     = &Error{Kind: KindTransport}
	Protocol      = &Error{Kind: KindProtocol}
	HTTPStatus    = &Error{Kind: KindHTTPStatus}
	SQL           = &Error{Kind: KindSQL}
	PoolClosed    = &Error{Kind: KindPoolClosed}
	PoolExhausted = &Error{Kind: KindPoolExhausted}
	FileIO        = &Error{Kind: KindFileIO}
	Cache         = &Error{Kind: KindCache}
	Usage         = &Error{Kind: KindUsage}
)

// Retryable reports whether err is a candidate for retry under the default
// policy: an explicit Retryable override on the *Error takes precedence;
// without one, transport and timeout errors are retryable and every other
// kind (usage included) is not. Values that are not *Error are not retryable.
func Retryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Retryable != nil {
		return *e.Retryable
	}
	switch e.Kind {
	case KindTransport, KindTimeout:
		return true
	default:
		return false
	}
}

// AggregateError collects multiple rejection reasons, used by combinators
// such as promise.Any when every input settles with an error.
type AggregateError struct {
	Message string
	Errors  []error
}

func (e *AggregateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "all operations failed"
}

func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// SQLError carries the vendor code and SQL state from a MySQL ERR packet.
type SQLError struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("sql: %s (code %d, state %s)", e.Message, e.Code, e.SQLState)
}

// ErrorKind reports KindSQL so SQLError participates in the taxonomy via errors.As.
func (e *SQLError) ErrorKind() Kind { return KindSQL }
