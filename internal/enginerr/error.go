// Package enginerr models the engine's error taxonomy: a small,
// closed set of transport codes the state machines in engine and
// manager switch on to decide between retry, skip, fail, and
// cancel-siblings.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind is one of the §6 error kinds surfaced in exception payloads.
type Kind string

const (
	NotOverwriteExistingDestination Kind = "NotOverwriteExistingDestination"
	PathCustomValidationFailed      Kind = "PathCustomValidationFailed"
	FailedCheckingShouldTransfer    Kind = "FailedCheckingShouldTransfer"
	FailToEnumerateDirectory        Kind = "FailToEnumerateDirectory"
	FailToValidateDestination       Kind = "FailToValidateDestination"
	TransferStuck                   Kind = "TransferStuck"
	TransferAlreadyExists           Kind = "TransferAlreadyExists"
	SourceAndDestinationLocationEqual Kind = "SourceAndDestinationLocationEqual"
	SourceAndDestinationBlobTypeDifferent Kind = "SourceAndDestinationBlobTypeDifferent"
	ContentIntegrityCheckFailed     Kind = "ContentIntegrityCheckFailed"
	UncategorizedException          Kind = "UncategorizedException"
)

// Error is the engine's error type: a classification code plus the
// wrapped cause, so callers can both switch on Kind and errors.Is/As
// through to whatever the underlying collaborator (filesystem,
// BlobClient) returned.
type Error struct {
	Kind  Kind
	Cause error
	msg   string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.Cause)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error wrapping cause, with an optional
// formatted message (mirrors fmt.Errorf("...: %w", err) but keeps the
// classification code alongside the wrap).
func New(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Cause: cause, msg: fmt.Sprintf(format, args...)}
}

// Of classifies a plain error with no message, for call sites that
// just need to attach a kind to something a collaborator returned.
func Of(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, else
// UncategorizedException.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return UncategorizedException
}

// IsSkip reports whether kind terminates a single-object transfer in
// Skipped rather than Failed (§4.5, §7).
func IsSkip(kind Kind) bool {
	return kind == NotOverwriteExistingDestination || kind == PathCustomValidationFailed
}

// IsFatalToSiblings reports whether kind must cancel sibling work in
// a directory transfer rather than simply failing its own job (§4.6,
// §7).
func IsFatalToSiblings(kind Kind) bool {
	return kind == TransferStuck || kind == FailedCheckingShouldTransfer
}
