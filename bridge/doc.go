// Package bridge is the core of the library: it turns the engine's
// synchronous, callback-driven surface into a non-blocking Go API.
//
// Three pieces cooperate:
//
//   - The blocking call dispatcher runs each generate call on its own worker
//     goroutine and resolves a Future, so no caller goroutine ever blocks on
//     the foreign boundary.
//
//   - The streaming chunk relay owns one active-stream slot per StreamKind.
//     Chunks arrive from engine-owned threads, are checked for the reserved
//     error sentinel, and are forwarded in arrival order onto the bridge's
//     loop as discrete deliveries, terminated by one empty delivery.
//
//   - The tool dispatch bridge lets the engine call back into the host
//     mid-generation. The engine thread parks on a one-shot rendezvous
//     channel while the host runs the tool asynchronously; the result (or an
//     empty-object fallback after the timeout) is returned across the
//     boundary. Pending rendezvous records are always removed, on success
//     and on timeout alike.
//
// All consumer callbacks run on a single bridge-owned loop goroutine, in
// enqueue order. Deliveries are handed to the loop through retireable
// handles; a retired handle is never invoked again, and replacing an active
// stream retires its predecessor's handle first. No internal lock is ever
// held across a blocking wait or while a handle runs.
package bridge
