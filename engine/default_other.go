//go:build !darwin || !cgo

package engine

// Default returns the backend for the current platform. Without the native
// dylib the model is reported unavailable; use NewWasm for a portable build
// of the engine.
func Default() Engine { return Unavailable("on-device model requires macOS with cgo enabled") }
