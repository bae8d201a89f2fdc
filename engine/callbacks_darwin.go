//go:build darwin && cgo

package engine

/*
#include <stdlib.h>
*/
import "C"

import (
	"sync"

	"go.uber.org/zap"

	appleai "github.com/gaodeng/apple-on-device-ai"
)

// Callback routing state. The C surface accepts exactly one function pointer
// per callback kind for the whole process, so the fan-out to the currently
// active stream or tool handler happens here.
var (
	sinkMu  sync.Mutex
	sinks   = make([]ChunkSink, appleai.NumStreamKinds())
	sinkSeq = make([]uint64, appleai.NumStreamKinds())

	toolMu           sync.Mutex
	toolDispatcher   ToolDispatcher
	toolRegisterOnce sync.Once
)

// setSink installs sink for kind and returns a sequence number identifying
// this installation.
func setSink(kind appleai.StreamKind, sink ChunkSink) uint64 {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sinkSeq[kind]++
	sinks[kind] = sink
	return sinkSeq[kind]
}

// clearSink removes the sink installed under seq, unless a newer stream
// already replaced it.
func clearSink(kind appleai.StreamKind, seq uint64) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sinkSeq[kind] == seq {
		sinks[kind] = nil
	}
}

//export goAppleAIChunk
func goAppleAIChunk(kind C.int, chunk *C.char) {
	k := appleai.StreamKind(kind)
	if int(k) < 0 || int(k) >= appleai.NumStreamKinds() {
		adoptBytes(chunk)
		return
	}

	sinkMu.Lock()
	sink := sinks[k]
	sinkMu.Unlock()

	if sink == nil {
		// Stream already retired; still adopt so the buffer is not leaked.
		adoptBytes(chunk)
		return
	}

	// Never hold the registry lock while running the sink: its delivery step
	// may synchronously re-enter the engine.
	if chunk == nil {
		sink(nil, true)
		return
	}
	sink(adoptBytes(chunk), false)
}

//export goAppleAIToolCall
func goAppleAIToolCall(id C.uint64_t, args *C.char) (result *C.char) {
	// No failure may unwind across the foreign boundary.
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("tool dispatch panicked", zap.Any("panic", r))
			result = C.CString(appleai.EmptyObject)
		}
	}()

	argsJSON := appleai.EmptyObject
	if args != nil {
		// Borrowed, engine-owned buffer: copy, never free.
		argsJSON = C.GoString(args)
	}

	toolMu.Lock()
	fn := toolDispatcher
	toolMu.Unlock()

	if fn == nil {
		return C.CString(appleai.EmptyObject)
	}
	// The engine takes ownership of the returned allocation.
	return C.CString(fn(uint64(id), argsJSON))
}
