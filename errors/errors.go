package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseInit    Phase = "init"    // one-time engine initialization
	PhasePayload Phase = "payload" // blob validation before the foreign call
	PhaseCall    Phase = "call"    // blocking generation call
	PhaseStream  Phase = "stream"  // streaming chunk relay
	PhaseTool    Phase = "tool"    // tool dispatch and rendezvous
	PhaseEngine  Phase = "engine"  // engine backend internals
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidPayload   Kind = "invalid_payload"
	KindGenerationFailed Kind = "generation_failed"
	KindStreamError      Kind = "stream_error"
	KindNotRegistered    Kind = "not_registered"
	KindNotInitialized   Kind = "not_initialized"
	KindTimeout          Kind = "timeout"
	KindClosed           Kind = "closed"
	KindInvalidInput     Kind = "invalid_input"
	KindUnsupported      Kind = "unsupported"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two bridge errors match when
// their Phase and Kind agree, so sentinel comparisons work with stdlib
// errors.Is without matching on Detail.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// New creates a structured error
func New(phase Phase, kind Kind, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause}
}

// Convenience constructors for common error patterns

// InvalidPayload reports a blob that cannot cross the foreign boundary,
// typically because it contains an embedded NUL byte.
func InvalidPayload(detail string) *Error {
	return &Error{Phase: PhasePayload, Kind: KindInvalidPayload, Detail: detail}
}

// GenerationFailed reports a null or empty result from a blocking foreign call.
func GenerationFailed(detail string) *Error {
	return &Error{Phase: PhaseCall, Kind: KindGenerationFailed, Detail: detail}
}

// StreamError wraps an error-sentinel chunk received mid-stream.
func StreamError(message string) *Error {
	return &Error{Phase: PhaseStream, Kind: KindStreamError, Detail: message}
}

// NotRegistered reports a missing callback or dispatcher registration.
func NotRegistered(what string) *Error {
	return &Error{Phase: PhaseTool, Kind: KindNotRegistered, Detail: fmt.Sprintf("%s not registered", what)}
}

// Timeout reports a rendezvous wait that elapsed without a result.
func Timeout(detail string) *Error {
	return &Error{Phase: PhaseTool, Kind: KindTimeout, Detail: detail}
}

// Closed reports use of a bridge or loop after Close.
func Closed(what string) *Error {
	return &Error{Phase: PhaseEngine, Kind: KindClosed, Detail: fmt.Sprintf("%s is closed", what)}
}

// NotInitialized reports engine use before successful initialization.
func NotInitialized(component string) *Error {
	return &Error{Phase: PhaseInit, Kind: KindNotInitialized, Detail: fmt.Sprintf("%s not initialized", component)}
}

// InvalidInput reports a malformed argument on the host-facing surface.
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{Phase: phase, Kind: KindInvalidInput, Detail: detail}
}

// Unsupported reports an operation the active backend cannot perform.
func Unsupported(what string) *Error {
	return &Error{Phase: PhaseEngine, Kind: KindUnsupported, Detail: what}
}
