package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrClosed is returned by RunBatch once the coordinator has been closed.
var ErrClosed = errors.New("transfer: coordinator closed")

// Kind classifies a transfer failure.
type Kind int

const (
	// KindTransfer covers I/O and protocol failures, including exhausted retries.
	KindTransfer Kind = iota
	// KindNotFound means the repository answered 404.
	KindNotFound
	// KindUnauthorized means the repository answered 401, 403 or 407.
	KindUnauthorized
	// KindChecksum means the remote checksum did not match, could not be read
	// or did not exist.
	KindChecksum
	// KindCancelled means the context was cancelled before the transfer finished.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindChecksum:
		return "checksum"
	case KindCancelled:
		return "cancelled"
	default:
		return "transfer"
	}
}

// Error is the error stored on every failed Outcome.
type Error struct {
	Kind       Kind
	Op         string // "get", "put", "head" or "checksum"
	URI        string // Remote URI the operation targeted
	StatusCode int    // HTTP status, 0 when no response was received
	Message    string // Human-readable detail
	Err        error  // Underlying error, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (HTTP %d): %s", e.Op, e.URI, e.StatusCode, msg)
	}

	return fmt.Sprintf("%s %s failed: %s", e.Op, e.URI, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain. Context
// errors map to KindCancelled and anything else to KindTransfer.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	return KindTransfer
}

// IsNotFound reports whether err is classified as KindNotFound.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// CheckStatus classifies an HTTP status. Anything below 300 is success.
func CheckStatus(op, uri string, code int, status string) error {
	if code < http.StatusMultipleChoices {
		return nil
	}

	if status == "" {
		status = http.StatusText(code)
	}

	e := &Error{Op: op, URI: uri, StatusCode: code, Message: status}

	switch code {
	case http.StatusNotFound:
		e.Kind = KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusProxyAuthRequired:
		e.Kind = KindUnauthorized
	default:
		e.Kind = KindTransfer
	}

	return e
}

func cancelled(op, uri string, err error) *Error {
	return &Error{Kind: KindCancelled, Op: op, URI: uri, Message: "transfer cancelled", Err: err}
}

// retryable marks I/O failures the fetcher may retry.
type retryable struct {
	err error
}

func (r *retryable) Error() string { return r.err.Error() }
func (r *retryable) Unwrap() error { return r.err }

func isRetryable(err error) bool {
	var r *retryable

	return errors.As(err, &r)
}
