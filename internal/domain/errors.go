package domain

import (
	"errors"
	"fmt"
)

// Taxonomy kinds. Every error produced by the registry wraps exactly one of
// these so callers can branch with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrDependency = errors.New("dependency failure")
	ErrDuplicate  = errors.New("duplicate key")
	ErrLeaseHeld  = errors.New("lease held")
)

const (
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeRecordNotFound         = "RECORD_NOT_FOUND"
	CodeEntityNotFound         = "ENTITY_NOT_FOUND"
	CodeEnvelopeNotFound       = "ENVELOPE_NOT_FOUND"
	CodePartyNotFound          = "PARTY_NOT_FOUND"
	CodeRegistryEntryNotFound  = "REGISTRY_ENTRY_NOT_FOUND"
	CodeEntityMismatch         = "ENTITY_MISMATCH"
	CodeLaneMismatch           = "LANE_MISMATCH"
	CodeEnvelopeNotCompleted   = "ENVELOPE_NOT_COMPLETED"
	CodeEnvelopeClosed         = "ENVELOPE_CLOSED"
	CodeSignedDocumentConflict = "SIGNED_DOCUMENT_CONFLICT"
	CodeRenderFailed           = "RENDER_FAILED"
	CodeRenderInProgress       = "RENDER_IN_PROGRESS"
	CodeSealFailed             = "SEAL_FAILED"
	CodeResolverFailed         = "RESOLVER_FAILED"
	CodeStorageFailed          = "STORAGE_FAILED"
	CodeDependencyTimeout      = "DEPENDENCY_TIMEOUT"
	CodeInternal               = "INTERNAL"
)

// Error carries a taxonomy kind and a stable symbolic code.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func Validation(code, message string) error {
	return &Error{Kind: ErrValidation, Code: code, Message: message}
}

func NotFound(code, message string) error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func Conflict(code, message string) error {
	return &Error{Kind: ErrConflict, Code: code, Message: message}
}

func Dependency(code, message string, err error) error {
	return &Error{Kind: ErrDependency, Code: code, Message: message, Err: err}
}

// CodeOf returns the symbolic code of err, falling back to the code implied
// by its kind.
func CodeOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) && typed.Code != "" {
		return typed.Code
	}
	switch {
	case errors.Is(err, ErrValidation):
		return CodeInvalidRequest
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicate):
		return "CONFLICT"
	case errors.Is(err, ErrDependency):
		return "DEPENDENCY_FAILED"
	}
	return CodeInternal
}
