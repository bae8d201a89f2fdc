//go:build darwin && cgo

package engine

/*
#cgo LDFLAGS: -lappleai
#include <stdlib.h>
#include "appleai.h"

// Trampolines defined in trampolines_darwin.c. The C surface takes one raw
// function pointer per callback kind, so each stream slot gets its own C
// entry point forwarding into a single exported Go dispatcher.
extern apple_ai_chunk_fn appleai_chunk_fn_for(int kind);
extern void appleai_install_tool_trampoline(void);
*/
import "C"

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/errors"
)

// Native binds the apple_ai dylib directly. All methods are safe for
// concurrent use; callback routing state is package-level because the C
// surface accepts exactly one function pointer per callback kind.
type Native struct{}

// NewNative returns the native backend.
func NewNative() *Native { return &Native{} }

func (n *Native) Init() error {
	if !bool(C.apple_ai_init()) {
		return errors.NotInitialized("apple_ai engine")
	}
	return nil
}

func (n *Native) Availability() (bool, string) {
	if C.apple_ai_check_availability() == 1 {
		return true, "Available"
	}
	return false, adoptString(C.apple_ai_get_availability_reason())
}

func (n *Native) SupportedLanguages() []string {
	count := int(C.apple_ai_get_supported_languages_count())
	langs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		p := C.apple_ai_get_supported_language(C.int(i))
		if p == nil {
			continue
		}
		langs = append(langs, adoptString(p))
	}
	return langs
}

func (n *Native) RegisterToolDispatcher(fn ToolDispatcher) {
	toolMu.Lock()
	toolDispatcher = fn
	toolMu.Unlock()

	toolRegisterOnce.Do(func() {
		C.appleai_install_tool_trampoline()
	})
}

func (n *Native) NotifyToolResult(id uint64, result string) {
	c, err := lendCString(result)
	if err != nil {
		Logger().Warn("tool result not representable as C string",
			zap.Uint64("tool_id", id), zap.Error(err))
		return
	}
	defer C.free(unsafe.Pointer(c))
	C.apple_ai_tool_result_callback(C.uint64_t(id), c)
}

func (n *Native) Generate(p Params) (string, error) {
	lent, err := lendParams(p)
	if err != nil {
		return "", err
	}
	defer lent.release()

	res := C.apple_ai_generate_unified(
		lent.messages, lent.tools, lent.schema,
		C.double(p.Temperature), C.int(p.MaxTokens),
		C.bool(false), C.bool(p.StopAfterToolCalls), nil)
	if res == nil {
		return "", errors.GenerationFailed("engine returned null result")
	}
	return adoptString(res), nil
}

func (n *Native) StartStream(kind appleai.StreamKind, p Params, sink ChunkSink) (func(), error) {
	cb, err := chunkTrampoline(kind)
	if err != nil {
		return nil, err
	}

	lent, err := lendParams(p)
	if err != nil {
		return nil, err
	}

	seq := setSink(kind, sink)

	// Streaming mode returns promptly; the engine keeps reading the lent
	// buffers from its own threads until the terminating null chunk.
	res := C.apple_ai_generate_unified(
		lent.messages, lent.tools, lent.schema,
		C.double(p.Temperature), C.int(p.MaxTokens),
		C.bool(true), C.bool(p.StopAfterToolCalls), cb)
	if res != nil {
		adoptString(res)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			clearSink(kind, seq)
			lent.release()
		})
	}
	return release, nil
}

func chunkTrampoline(kind appleai.StreamKind) (C.apple_ai_chunk_fn, error) {
	cb := C.appleai_chunk_fn_for(C.int(kind))
	if cb == nil {
		return nil, errors.InvalidInput(errors.PhaseStream, "unknown stream kind")
	}
	return cb, nil
}

// lentParams holds the C copies of one call's blobs. In streaming mode they
// must stay valid until end-of-stream, so release is deferred to the stream
// slot rather than to the initiating call.
type lentParams struct {
	messages *C.char
	tools    *C.char
	schema   *C.char
}

func lendParams(p Params) (*lentParams, error) {
	l := &lentParams{}
	var err error
	if l.messages, err = lendCString(p.Messages); err != nil {
		return nil, err
	}
	if p.Tools != "" {
		if l.tools, err = lendCString(p.Tools); err != nil {
			l.release()
			return nil, err
		}
	}
	if p.Schema != "" {
		if l.schema, err = lendCString(p.Schema); err != nil {
			l.release()
			return nil, err
		}
	}
	return l, nil
}

func (l *lentParams) release() {
	if l.messages != nil {
		C.free(unsafe.Pointer(l.messages))
		l.messages = nil
	}
	if l.tools != nil {
		C.free(unsafe.Pointer(l.tools))
		l.tools = nil
	}
	if l.schema != nil {
		C.free(unsafe.Pointer(l.schema))
		l.schema = nil
	}
}
