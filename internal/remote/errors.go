package remote

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the three-way failure taxonomy that drives all outbox retry
// decisions.
type ErrorKind string

const (
	// KindTransient covers transport errors, server-side 5xx, and anything
	// not classified otherwise. Retried with backoff.
	KindTransient ErrorKind = "TRANSIENT"

	// KindPermanent covers auth, not-found, and forbidden failures. Never
	// retried; the job is cancelled via the cascade.
	KindPermanent ErrorKind = "PERMANENT"

	// KindRateLimited means the service is shedding load. The job is retried
	// with backoff and the current worker pass stops immediately.
	KindRateLimited ErrorKind = "RATE_LIMITED"
)

// ErrSyncTokenExpired is the remote's canonical "resync required" signal: the
// stored sync token no longer addresses a point in the change stream. The
// sync engine converts it into a transparent full-pull fallback.
var ErrSyncTokenExpired = errors.New("remote: sync token expired, full resync required")

// Error is a classified remote-service failure.
type Error struct {
	Kind ErrorKind
	Op   string // remote operation, e.g. "push", "fetch", "pull"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an explicit classification.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify returns the failure kind of err. Unclassified errors are
// TRANSIENT: the safe default is to retry with backoff rather than to void
// work permanently. Context cancellation is also treated as transient; the
// job retries on the next pass.
func Classify(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}

// IsPermanent reports whether err is classified PERMANENT.
func IsPermanent(err error) bool {
	return Classify(err) == KindPermanent
}

// IsRateLimited reports whether err is classified RATE_LIMITED.
func IsRateLimited(err error) bool {
	return Classify(err) == KindRateLimited
}
