// Package appleai bridges Apple's on-device Foundation Models engine to Go.
//
// The engine is reached only through a fixed C-ABI surface (the apple_ai_*
// entry points). Its calls are synchronous and callback-driven: a generation
// call blocks until complete, streams text chunks through a function pointer
// invoked on engine-owned threads, and may call back into the host mid-flight
// to request a tool invocation. This library turns that surface into a
// non-blocking Go API without violating either side's threading contract.
//
// # Architecture Overview
//
//	appleai/        Root package with shared value types and wire constants
//	├── bridge/     The core: dispatcher, chunk relay, tool rendezvous, host loop
//	├── engine/     Foreign surface: cgo backend (darwin) and wazero backend
//	├── errors/     Structured error types
//	├── cmd/chat/   Interactive streaming chat CLI
//	└── examples/   Minimal usage examples
//
// # Quick Start
//
//	b := bridge.New(engine.Default())
//	defer b.Close()
//
//	fut := b.Generate("Write a haiku about autumn.")
//	text, err := fut.Await(ctx)
//
// Streaming delivers chunks in arrival order, terminated by one empty
// delivery:
//
//	b.GenerateStream(appleai.StreamUnified, req, func(d appleai.Delivery) {
//	    if d.End() {
//	        return
//	    }
//	    fmt.Print(d.Text)
//	})
//
// # Threading Model
//
// Three execution domains cooperate: the caller's goroutines, worker
// goroutines running blocking foreign calls, and engine-owned threads that
// fire callbacks. All consumer-visible callbacks are marshalled onto a single
// bridge-owned loop goroutine, in order. A foreign thread waiting on a tool
// result blocks on a one-shot rendezvous channel with a fixed timeout; it
// never waits on the loop itself.
package appleai
