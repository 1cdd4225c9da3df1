package common

import (
	"errors"
	"fmt"
	"time"
)

// Kind partitions remote-call failures into the classes the pipeline reacts
// to. Only KindAuth escalates past a unit boundary; everything else is either
// retried, skipped, or absorbed by a fallback.
type Kind string

const (
	// KindAuth: token missing or rejected. Fatal, aborts the run.
	KindAuth Kind = "authentication"
	// KindRateLimit: remote budget exhausted. Retryable until attempts run out.
	KindRateLimit Kind = "rate_limit"
	// KindNotFound: 404 from the remote service. Unit-level skip, never retried.
	KindNotFound Kind = "not_found"
	// KindRejected: any other 4xx. Unit-level skip, never retried.
	KindRejected Kind = "rejected"
	// KindTransient: timeouts, 5xx, connection errors. Retried with backoff.
	KindTransient Kind = "transient"
	// KindGenerationParsing: generated text failed parsing or schema checks.
	// Content is at fault, not transport, so never retried.
	KindGenerationParsing Kind = "generation_parsing"
	// KindValidation: a persisted or constructed record failed validation.
	KindValidation Kind = "validation"
	// KindInternal: everything unclassified.
	KindInternal Kind = "internal"
)

// Error is the application error carrying its taxonomy kind. ResetAt is set
// for rate-limit errors only.
type Error struct {
	Kind    Kind
	Message string
	ResetAt time.Time
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an error of the given kind wrapping an optional cause.
func NewError(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// AuthError marks a fatal authentication failure.
func AuthError(message string, cause error) error {
	return &Error{Kind: KindAuth, Message: message, Err: cause}
}

// RateLimitError marks an exhausted remote budget with its reset time.
func RateLimitError(resetAt time.Time, message string) error {
	return &Error{Kind: KindRateLimit, Message: message, ResetAt: resetAt}
}

// NotFoundError marks a missing remote resource.
func NotFoundError(message string, cause error) error {
	return &Error{Kind: KindNotFound, Message: message, Err: cause}
}

// TransientError marks a failure worth retrying.
func TransientError(message string, cause error) error {
	return &Error{Kind: KindTransient, Message: message, Err: cause}
}

// ParsingError marks generated content that did not match its schema.
func ParsingError(message string, cause error) error {
	return &Error{Kind: KindGenerationParsing, Message: message, Err: cause}
}

// ValidationError marks a malformed record. The caller drops the record and
// continues.
func ValidationError(message string, cause error) error {
	return &Error{Kind: KindValidation, Message: message, Err: cause}
}

// KindOf returns the taxonomy kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err belongs to the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsAuth(err error) bool      { return IsKind(err, KindAuth) }
func IsRateLimit(err error) bool { return IsKind(err, KindRateLimit) }
func IsNotFound(err error) bool  { return IsKind(err, KindNotFound) }
func IsTransient(err error) bool { return IsKind(err, KindTransient) }
func IsParsing(err error) bool   { return IsKind(err, KindGenerationParsing) }

// ResetAt extracts the rate-limit reset time, zero if err is not a rate-limit
// error.
func ResetAt(err error) time.Time {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindRateLimit {
		return ae.ResetAt
	}
	return time.Time{}
}

// Retryable reports whether the retry policy should attempt err again:
// transient failures and rate limits qualify, nothing else does.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimit:
		return true
	}
	return false
}
