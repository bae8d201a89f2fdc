// Package engine defines the foreign generation-engine surface and its
// backends.
//
// The Engine interface mirrors the apple_ai_* C ABI one-to-one: one-time
// initialization, availability and language queries, tool-callback
// registration, tool-result notification, and the unified generate entry
// point in blocking and streaming forms. Callers encode message history,
// tool declarations, and response schemas as opaque text blobs; the engine
// never interprets them.
//
// Two backends are provided:
//
//   - The native backend (darwin, cgo) binds the apple_ai dylib directly.
//     Chunk and tool callbacks arrive on engine-owned threads through C
//     trampolines and are routed to Go sinks via package-level registries.
//
//   - The wasm backend runs a wasi-sdk build of the same C surface under
//     wazero, with the callbacks implemented as host functions. It exists for
//     development and testing on platforms without the native engine.
//
// Everything above the Engine interface lives in the bridge package, which is
// backend-agnostic.
package engine
