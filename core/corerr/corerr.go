// Package corerr defines the error taxonomy the adaptive decision core uses
// to decide, per spec, whether a failure is retried, failed over, surfaced to
// the caller, or treated as fatal. Collaborators (LLM providers, tool
// executors) return these as typed values; the core never unwinds an
// exception across that boundary.
package corerr

import (
	"errors"
	"fmt"

	"github.com/goa-ai-labs/synapsecore/runtime/agent/toolerrors"
)

// Kind classifies an error by the policy the orchestrator applies to it.
type Kind string

const (
	// KindTransientProvider covers LLM provider rate-limit/5xx/timeout
	// responses. Policy: retry with exponential backoff on the same role.
	KindTransientProvider Kind = "transient_provider"
	// KindPermanentProvider covers 4xx responses other than auth failures.
	// Policy: do not retry; fail over to an alternative role if one exists.
	KindPermanentProvider Kind = "permanent_provider"
	// KindAuth covers 401/403 and service-unavailable/key-revoked responses.
	// Policy: fail the turn and surface to the caller.
	KindAuth Kind = "auth"
	// KindContextOverflow covers a provider signalling context length
	// exceeded. Policy: trigger an immediate recompression pass and retry
	// once; fall to SUMMARIZE_REPLAN if still overflowing.
	KindContextOverflow Kind = "context_overflow"
	// KindTool covers a tool executor returning an error string. Policy:
	// record as a failure outcome and update reputation.
	KindTool Kind = "tool"
	// KindInvariantViolation covers an internal invariant break (clamp range
	// exceeded, negative alpha, unknown domain, unknown scope param). Policy:
	// fatal, terminate the session after snapshotting for post-mortem.
	KindInvariantViolation Kind = "invariant_violation"
	// KindCancellation covers a caller-issued cancel token. Policy: jump to
	// stage 14 with a cancellation outcome; no partial snapshot.
	KindCancellation Kind = "cancellation"
)

// CoreError is the typed error value the orchestrator inspects to select a
// stage policy without string matching.
type CoreError struct {
	kind    Kind
	op      string
	message string
	cause   error
}

// New builds a CoreError of the given kind. op identifies the operation that
// failed (e.g. "llmcontract.Generate", "toolcontract.Execute").
func New(kind Kind, op, message string) *CoreError {
	return &CoreError{kind: kind, op: op, message: message}
}

// Wrap builds a CoreError of the given kind around cause.
func Wrap(kind Kind, op string, cause error) *CoreError {
	if cause == nil {
		return nil
	}
	return &CoreError{kind: kind, op: op, message: cause.Error(), cause: cause}
}

func (e *CoreError) Kind() Kind    { return e.kind }
func (e *CoreError) Op() string    { return e.op }
func (e *CoreError) Error() string {
	if e.op == "" {
		return fmt.Sprintf("%s: %s", e.kind, e.message)
	}
	return fmt.Sprintf("%s: %s: %s", e.op, e.kind, e.message)
}
func (e *CoreError) Unwrap() error { return e.cause }

// As reports whether err is or wraps a *CoreError, returning it on success.
func As(err error) (*CoreError, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Retryable reports whether the error's kind calls for the automatic retry
// policy (transient provider errors and context overflow's single retry).
func Retryable(err error) bool {
	ce, ok := As(err)
	if !ok {
		return false
	}
	switch ce.kind {
	case KindTransientProvider, KindContextOverflow:
		return true
	default:
		return false
	}
}

// Fatal reports whether the error's kind terminates the session per §7.
func Fatal(err error) bool {
	ce, ok := As(err)
	return ok && ce.kind == KindInvariantViolation
}

// FromToolError lifts a toolerrors.ToolError into a KindTool CoreError,
// preserving its cause chain.
func FromToolError(op string, err *toolerrors.ToolError) *CoreError {
	if err == nil {
		return nil
	}
	return &CoreError{kind: KindTool, op: op, message: err.Error(), cause: err}
}

// Invariant is a convenience constructor for the one internally fatal kind.
func Invariant(op, message string) *CoreError {
	return New(KindInvariantViolation, op, message)
}

// Cancelled is a convenience constructor for a caller-cancelled operation.
func Cancelled(op string) *CoreError {
	return New(KindCancellation, op, "operation cancelled")
}
