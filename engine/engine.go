package engine

import (
	appleai "github.com/gaodeng/apple-on-device-ai"
)

// Params carries the arguments of one unified generate call. Blob fields are
// opaque text; empty means "not provided" and crosses the boundary as null.
type Params struct {
	Messages           string
	Tools              string
	Schema             string
	Temperature        float64
	MaxTokens          int
	StopAfterToolCalls bool
}

// ChunkSink receives adopted stream chunks from engine-owned threads.
// chunk is host-owned (the foreign allocation is already released); end is
// true exactly once, for the null-pointer terminator, with a nil chunk.
type ChunkSink func(chunk []byte, end bool)

// ToolDispatcher handles a foreign-initiated tool invocation. It runs on an
// engine-owned thread and must return the result blob synchronously; args is
// never empty (a null pointer upstream arrives as "{}").
type ToolDispatcher func(id uint64, args string) string

// Engine is the foreign generation-engine surface. Implementations must be
// safe for concurrent use: the bridge issues blocking calls from worker
// goroutines while engine threads fire callbacks.
type Engine interface {
	// Init performs the one-time engine setup. An error is unrecoverable;
	// the engine cannot be partially initialized and no later call can
	// succeed.
	Init() error

	// Availability reports whether the on-device model can be used and a
	// human-readable reason when it cannot.
	Availability() (bool, string)

	// SupportedLanguages returns the languages the model supports.
	SupportedLanguages() []string

	// RegisterToolDispatcher installs fn as the process-wide tool handler.
	// The foreign interface accepts exactly one function pointer; a second
	// registration replaces the first.
	RegisterToolDispatcher(fn ToolDispatcher)

	// NotifyToolResult forwards a tool result to the engine's own
	// result-notification entry point.
	NotifyToolResult(id uint64, result string)

	// Generate runs one blocking generation call and returns the adopted
	// result text. A null foreign result is an error.
	Generate(p Params) (string, error)

	// StartStream invokes the streaming entry point for the given slot kind.
	// The call returns once the stream is running; chunks arrive on sink from
	// engine threads. release frees foreign-compatible buffers that must
	// outlive the streaming session and must be called exactly once, after
	// the end chunk.
	StartStream(kind appleai.StreamKind, p Params, sink ChunkSink) (release func(), err error)
}
