// Package fsfserr defines the error kinds surfaced by the revision store
// core, and typed constructors that let callers switch on kind while the
// wrapped error chain keeps the underlying cause for logging.
package fsfserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error raised by the store core. Every error returned
// from internal/* is classifiable as exactly one Kind.
type Kind int

const (
	// KindUnknown is never returned; it is the zero value of Kind.
	KindUnknown Kind = iota
	// KindCorruption marks a malformed on-disk record.
	KindCorruption
	// KindNotFound marks a missing revision, transaction, or node.
	KindNotFound
	// KindChecksumMismatch marks representation bytes that disagree with
	// their stored MD5.
	KindChecksumMismatch
	// KindOutOfDate marks a commit whose base is not the youngest revision.
	KindOutOfDate
	// KindDatasourceModified marks a diff input that changed mid-diff.
	KindDatasourceModified
	// KindIO wraps an underlying filesystem error.
	KindIO
	// KindInvalidOption marks a diff options parse failure.
	KindInvalidOption
	// KindUniqueNamesExhausted marks failure to allocate a fresh
	// transaction directory after 99999 attempts.
	KindUniqueNamesExhausted
	// KindSwitchedChild marks a commit that would publish a directory
	// whose child was switched to a different branch than the copy under
	// which it's being committed (spec.md Open Question: rejected rather
	// than silently accepted).
	KindSwitchedChild
)

func (k Kind) String() string {
	switch k {
	case KindCorruption:
		return "corruption"
	case KindNotFound:
		return "not-found"
	case KindChecksumMismatch:
		return "checksum-mismatch"
	case KindOutOfDate:
		return "out-of-date"
	case KindDatasourceModified:
		return "datasource-modified"
	case KindIO:
		return "io"
	case KindInvalidOption:
		return "invalid-option"
	case KindUniqueNamesExhausted:
		return "unique-names-exhausted"
	case KindSwitchedChild:
		return "switched-child"
	default:
		return "unknown"
	}
}

// Error is a kinded error. The wrapped cause (if any) is produced with
// github.com/pkg/errors so callers can still unwrap to the root I/O error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Corruption builds a KindCorruption error.
func Corruption(format string, args ...interface{}) error { return newf(KindCorruption, format, args...) }

// CorruptionWrap wraps cause as a KindCorruption error.
func CorruptionWrap(cause error, format string, args ...interface{}) error {
	return wrapf(KindCorruption, cause, format, args...)
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...interface{}) error { return newf(KindNotFound, format, args...) }

// ChecksumMismatch builds a KindChecksumMismatch error.
func ChecksumMismatch(format string, args ...interface{}) error {
	return newf(KindChecksumMismatch, format, args...)
}

// OutOfDate builds a KindOutOfDate error.
func OutOfDate(format string, args ...interface{}) error { return newf(KindOutOfDate, format, args...) }

// DatasourceModified builds a KindDatasourceModified error.
func DatasourceModified(format string, args ...interface{}) error {
	return newf(KindDatasourceModified, format, args...)
}

// IO wraps an I/O cause as a KindIO error, mirroring the teacher's
// errors.Wrap-everywhere style at filesystem boundaries.
func IO(cause error, format string, args ...interface{}) error {
	return wrapf(KindIO, cause, format, args...)
}

// InvalidOption builds a KindInvalidOption error.
func InvalidOption(format string, args ...interface{}) error {
	return newf(KindInvalidOption, format, args...)
}

// UniqueNamesExhausted builds a KindUniqueNamesExhausted error.
func UniqueNamesExhausted(format string, args ...interface{}) error {
	return newf(KindUniqueNamesExhausted, format, args...)
}

// SwitchedChild builds a KindSwitchedChild error.
func SwitchedChild(format string, args ...interface{}) error {
	return newf(KindSwitchedChild, format, args...)
}

// Is reports whether err (or something it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
