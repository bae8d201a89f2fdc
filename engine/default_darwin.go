//go:build darwin && cgo

package engine

// Default returns the backend for the current platform: the native apple_ai
// binding on macOS.
func Default() Engine { return NewNative() }
