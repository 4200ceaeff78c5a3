// Package govcoreerr implements a closed error taxonomy, shaped like
// core/pkg/store's and core/pkg/audit/export.go's Err* sentinel-error
// style.
package govcoreerr

import "errors"

// Kind classifies an error per the taxonomy.
type Kind string

const (
	KindInputSchema       Kind = "InputSchemaError"
	KindArtifactMissing    Kind = "ArtifactMissingError"
	KindPolicyViolation    Kind = "PolicyViolationError"
	KindDeterminismViolation Kind = "DeterminismViolationError"
	KindCitationViolation  Kind = "CitationViolationError"
	KindRedactionViolation Kind = "RedactionViolationError"
	KindConsentMissing     Kind = "ConsentMissingError"
	KindWorkflowTransition Kind = "WorkflowTransitionError"
)

// TypedError carries a taxonomy Kind alongside the wrapped cause so
// callers can errors.As to it without losing the original error chain.
type TypedError struct {
	Kind Kind
	Err  error
}

func (e *TypedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *TypedError) Unwrap() error { return e.Err }

// New wraps err with the given taxonomy Kind.
func New(kind Kind, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &TypedError{Kind: kind, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var te *TypedError
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// Common sentinels reused across components, analogous to
// core/pkg/store's ErrEntryNotFound/ErrChainBroken style.
var (
	ErrChainBroken       = errors.New("govcore: audit hash chain is broken")
	ErrArtifactNotFound  = errors.New("govcore: artifact not found")
	ErrHashMismatch      = errors.New("govcore: content hash mismatch")
	ErrInvalidTransition = errors.New("govcore: invalid run state transition")
	ErrNotConfigured     = errors.New("govcore: fail-closed: required dependency not configured")
)
