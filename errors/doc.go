// Package errors provides structured error types for the apple-on-device-ai bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). Sentinel matching compares Phase and Kind only, so callers can
// test with stdlib errors.Is:
//
//	if errors.Is(err, &bridgeerrors.Error{Phase: bridgeerrors.PhasePayload,
//		Kind: bridgeerrors.KindInvalidPayload}) {
//		// blob cannot cross the C boundary
//	}
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidPayload("messages blob contains NUL byte")
//	err := errors.GenerationFailed("engine returned null result")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
