package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/errors"
)

// Guest export names. The wasi-sdk build exposes the same apple_ai_* surface
// as the dylib, with two ABI substitutions: raw callback function pointers
// become host imports (module "appleai_host"), and the streaming entry point
// takes the stream-slot tag where the C signature takes the chunk pointer.
const (
	wasmHostModule = "appleai_host"

	guestInit           = "apple_ai_init"
	guestAvailability   = "apple_ai_check_availability"
	guestAvailReason    = "apple_ai_get_availability_reason"
	guestLangCount      = "apple_ai_get_supported_languages_count"
	guestLangByIndex    = "apple_ai_get_supported_language"
	guestToolResult     = "apple_ai_tool_result_callback"
	guestGenerate       = "apple_ai_generate_unified"
	guestMalloc         = "malloc"
	guestFree           = "free"
)

// Wasm runs a wasi-sdk build of the generation engine under wazero. It
// exists for development and testing on platforms without the native dylib.
//
// Guest calls are serialized on one mutex; streaming calls run on their own
// goroutine, which plays the role of the engine thread: chunks and tool
// callbacks arrive on it, and it blocks during the tool rendezvous exactly
// like a native engine thread would.
type Wasm struct {
	runtime wazero.Runtime
	module  api.Module
	ctx     context.Context

	mu sync.Mutex // guards all guest calls and guest memory

	sinkMu  sync.Mutex
	sinks   []ChunkSink
	sinkSeq []uint64

	toolMu   sync.Mutex
	tool     ToolDispatcher
	inFlight map[uint64]struct{} // tool ids parked inside hostToolCall
}

// NewWasm compiles and instantiates the engine module.
func NewWasm(ctx context.Context, wasmBytes []byte) (*Wasm, error) {
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig())

	w := &Wasm{
		runtime:  runtime,
		ctx:      ctx,
		sinks:    make([]ChunkSink, appleai.NumStreamKinds()),
		sinkSeq:  make([]uint64, appleai.NumStreamKinds()),
		inFlight: make(map[uint64]struct{}),
	}

	if _, err := runtime.NewHostModuleBuilder(wasmHostModule).
		NewFunctionBuilder().WithFunc(w.hostChunk).Export("chunk").
		NewFunctionBuilder().WithFunc(w.hostToolCall).Export("tool_call").
		Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindNotInitialized, err, "register host callbacks")
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindNotInitialized, err, "instantiate wasi")
	}

	module, err := runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindNotInitialized, err, "instantiate engine module")
	}
	w.module = module

	if err := checkGuestExports(module); err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	return w, nil
}

// guestExports is every entry point the engine module must provide. Each is
// called without a nil guard, so a missing one must fail instantiation
// rather than a later call.
var guestExports = []string{
	guestInit, guestAvailability, guestAvailReason,
	guestLangCount, guestLangByIndex,
	guestToolResult, guestGenerate,
	guestMalloc, guestFree,
}

func checkGuestExports(module api.Module) error {
	for _, name := range guestExports {
		if module.ExportedFunction(name) == nil {
			return errors.New(errors.PhaseEngine, errors.KindNotInitialized,
				"engine module missing export %q", name)
		}
	}
	return nil
}

// Close releases the wazero runtime.
func (w *Wasm) Close() error {
	return w.runtime.Close(w.ctx)
}

func (w *Wasm) Init() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	res, err := w.module.ExportedFunction(guestInit).Call(w.ctx)
	if err != nil {
		return errors.Wrap(errors.PhaseInit, errors.KindNotInitialized, err, "apple_ai_init trapped")
	}
	if len(res) == 0 || uint32(res[0]) == 0 {
		return errors.NotInitialized("wasm engine")
	}
	return nil
}

func (w *Wasm) Availability() (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	res, err := w.module.ExportedFunction(guestAvailability).Call(w.ctx)
	if err == nil && len(res) > 0 && uint32(res[0]) == 1 {
		return true, "Available"
	}
	reason, err := w.adoptGuestString(w.callPtr(guestAvailReason))
	if err != nil {
		return false, "availability reason unreadable"
	}
	return false, reason
}

func (w *Wasm) SupportedLanguages() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	res, err := w.module.ExportedFunction(guestLangCount).Call(w.ctx)
	if err != nil || len(res) == 0 {
		return nil
	}
	count := int(int32(res[0]))
	langs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out, err := w.module.ExportedFunction(guestLangByIndex).Call(w.ctx, uint64(uint32(i)))
		if err != nil || len(out) == 0 {
			continue
		}
		lang, err := w.adoptGuestString(uint32(out[0]))
		if err != nil || lang == "" {
			continue
		}
		langs = append(langs, lang)
	}
	return langs
}

func (w *Wasm) RegisterToolDispatcher(fn ToolDispatcher) {
	// The guest always calls the imported tool_call host function, so no
	// guest-side registration call exists in this ABI.
	w.toolMu.Lock()
	w.tool = fn
	w.toolMu.Unlock()
}

func (w *Wasm) NotifyToolResult(id uint64, result string) {
	w.toolMu.Lock()
	_, parked := w.inFlight[id]
	w.toolMu.Unlock()
	if parked {
		// The engine thread for this invocation is waiting inside the
		// tool_call import; the result reaches it as that import's return
		// value. A guest call here would wait on w.mu behind the guest
		// call already on that stack.
		return
	}

	// A streaming session may hold w.mu until its terminating chunk; the
	// notification must not stall the submitter behind it.
	go func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		ptr, err := w.lendGuestString(result)
		if err != nil {
			Logger().Warn("tool result not representable in guest memory",
				zap.Uint64("tool_id", id), zap.Error(err))
			return
		}
		defer w.freeGuest(ptr)
		if _, err := w.module.ExportedFunction(guestToolResult).Call(w.ctx, id, uint64(ptr)); err != nil {
			Logger().Warn("tool result notification trapped", zap.Uint64("tool_id", id), zap.Error(err))
		}
	}()
}

func (w *Wasm) Generate(p Params) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lent, err := w.lendParamsLocked(p)
	if err != nil {
		return "", err
	}
	defer lent.release()

	out, err := w.callGenerateLocked(lent, p, false, 0)
	if err != nil {
		return "", err
	}
	if out == 0 {
		return "", errors.GenerationFailed("engine returned null result")
	}
	return w.adoptGuestString(out)
}

func (w *Wasm) StartStream(kind appleai.StreamKind, p Params, sink ChunkSink) (func(), error) {
	if int(kind) < 0 || int(kind) >= appleai.NumStreamKinds() {
		return nil, errors.InvalidInput(errors.PhaseStream, "unknown stream kind")
	}

	w.sinkMu.Lock()
	w.sinkSeq[kind]++
	seq := w.sinkSeq[kind]
	w.sinks[kind] = sink
	w.sinkMu.Unlock()

	// The stream goroutine is this backend's "engine thread". It owns the
	// guest for the whole session; lent buffers are freed when it finishes,
	// so the relay's release has nothing left to do.
	go func() {
		w.mu.Lock()
		defer w.mu.Unlock()

		lent, err := w.lendParamsLocked(p)
		if err != nil {
			Logger().Warn("stream start failed", zap.Stringer("kind", kind), zap.Error(err))
			w.emitChunk(kind, nil, true)
			return
		}
		defer lent.release()

		out, err := w.callGenerateLocked(lent, p, true, uint32(kind))
		if err != nil {
			Logger().Warn("stream call trapped", zap.Stringer("kind", kind), zap.Error(err))
			w.emitChunk(kind, nil, true)
			return
		}
		if out != 0 {
			w.adoptGuestString(out)
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			w.sinkMu.Lock()
			if w.sinkSeq[kind] == seq {
				w.sinks[kind] = nil
			}
			w.sinkMu.Unlock()
		})
	}
	return release, nil
}

// callGenerateLocked invokes apple_ai_generate_unified. Caller holds w.mu.
func (w *Wasm) callGenerateLocked(lent *guestParams, p Params, stream bool, kind uint32) (uint32, error) {
	streamFlag := uint64(0)
	if stream {
		streamFlag = 1
	}
	stopFlag := uint64(0)
	if p.StopAfterToolCalls {
		stopFlag = 1
	}
	res, err := w.module.ExportedFunction(guestGenerate).Call(w.ctx,
		uint64(lent.messages), uint64(lent.tools), uint64(lent.schema),
		api.EncodeF64(p.Temperature), uint64(uint32(int32(p.MaxTokens))),
		streamFlag, stopFlag, uint64(kind))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseCall, errors.KindGenerationFailed, err, "generate trapped")
	}
	if len(res) == 0 {
		return 0, nil
	}
	return uint32(res[0]), nil
}

// hostChunk is the guest's chunk callback import. ptr 0 is end-of-stream.
func (w *Wasm) hostChunk(_ context.Context, mod api.Module, kind, ptr uint32) {
	k := appleai.StreamKind(kind)
	if int(k) < 0 || int(k) >= appleai.NumStreamKinds() {
		return
	}
	if ptr == 0 {
		w.emitChunk(k, nil, true)
		return
	}
	// Copying out of guest memory is the adoption step here; the guest frees
	// its own allocation after the import returns.
	chunk, ok := readGuestCString(mod.Memory(), ptr)
	if !ok {
		Logger().Warn("chunk pointer out of bounds", zap.Uint32("ptr", ptr))
		return
	}
	w.emitChunk(k, chunk, false)
}

func (w *Wasm) emitChunk(kind appleai.StreamKind, chunk []byte, end bool) {
	w.sinkMu.Lock()
	sink := w.sinks[kind]
	w.sinkMu.Unlock()
	if sink == nil {
		return
	}
	sink(chunk, end)
}

// hostToolCall is the guest's tool-invocation import. It blocks the stream
// goroutine until the dispatcher returns, then writes the result into guest
// memory. Returns the result pointer (guest-owned).
func (w *Wasm) hostToolCall(_ context.Context, mod api.Module, id uint64, argsPtr uint32) (result uint32) {
	defer func() {
		// No panic may reach the guest call stack.
		if r := recover(); r != nil {
			Logger().Error("tool dispatch panicked", zap.Any("panic", r))
			result = w.writeResultLocked(appleai.EmptyObject)
		}
	}()

	args := appleai.EmptyObject
	if argsPtr != 0 {
		if b, ok := readGuestCString(mod.Memory(), argsPtr); ok {
			args = appleai.LenientString(b)
		}
	}

	// Mark the invocation as parked on this stack so a concurrent
	// NotifyToolResult knows its payload arrives as this return value.
	w.toolMu.Lock()
	fn := w.tool
	w.inFlight[id] = struct{}{}
	w.toolMu.Unlock()
	defer func() {
		w.toolMu.Lock()
		delete(w.inFlight, id)
		w.toolMu.Unlock()
	}()

	if fn == nil {
		return w.writeResultLocked(appleai.EmptyObject)
	}
	return w.writeResultLocked(fn(id, args))
}

// writeResultLocked allocates a guest copy of s. Runs inside a host function,
// so the caller's guest call already holds w.mu; reentrant guest calls
// (malloc) are legal on the same stack.
func (w *Wasm) writeResultLocked(s string) uint32 {
	ptr, err := w.lendGuestString(s)
	if err != nil {
		ptr, _ = w.lendGuestString(appleai.EmptyObject)
	}
	return ptr
}

// guestParams holds guest allocations for one call. 0 means "null".
type guestParams struct {
	w        *Wasm
	messages uint32
	tools    uint32
	schema   uint32
}

func (w *Wasm) lendParamsLocked(p Params) (*guestParams, error) {
	g := &guestParams{w: w}
	var err error
	if g.messages, err = w.lendGuestString(p.Messages); err != nil {
		return nil, err
	}
	if p.Tools != "" {
		if g.tools, err = w.lendGuestString(p.Tools); err != nil {
			g.release()
			return nil, err
		}
	}
	if p.Schema != "" {
		if g.schema, err = w.lendGuestString(p.Schema); err != nil {
			g.release()
			return nil, err
		}
	}
	return g, nil
}

func (g *guestParams) release() {
	for _, ptr := range []uint32{g.messages, g.tools, g.schema} {
		if ptr != 0 {
			g.w.freeGuest(ptr)
		}
	}
	g.messages, g.tools, g.schema = 0, 0, 0
}

// lendGuestString copies s into guest memory as a NUL-terminated buffer.
func (w *Wasm) lendGuestString(s string) (uint32, error) {
	if strings.ContainsRune(s, 0) {
		return 0, errors.InvalidPayload("blob contains embedded NUL byte")
	}
	res, err := w.module.ExportedFunction(guestMalloc).Call(w.ctx, uint64(len(s)+1))
	if err != nil || len(res) == 0 || res[0] == 0 {
		return 0, errors.New(errors.PhaseEngine, errors.KindGenerationFailed,
			"guest allocation of %d bytes failed", len(s)+1)
	}
	ptr := uint32(res[0])
	if !w.module.Memory().Write(ptr, append([]byte(s), 0)) {
		w.freeGuest(ptr)
		return 0, errors.New(errors.PhaseEngine, errors.KindGenerationFailed,
			"guest write at %d out of bounds", ptr)
	}
	return ptr, nil
}

func (w *Wasm) freeGuest(ptr uint32) {
	if _, err := w.module.ExportedFunction(guestFree).Call(w.ctx, uint64(ptr)); err != nil {
		Logger().Warn("guest free trapped", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

// adoptGuestString copies a NUL-terminated guest buffer and frees the guest
// allocation, mirroring native ownership adoption.
func (w *Wasm) adoptGuestString(ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}
	b, ok := readGuestCString(w.module.Memory(), ptr)
	if !ok {
		return "", errors.New(errors.PhaseEngine, errors.KindGenerationFailed,
			"guest string at %d out of bounds", ptr)
	}
	w.freeGuest(ptr)
	return appleai.LenientString(b), nil
}

// callPtr invokes a no-arg export returning a pointer. Caller holds w.mu.
func (w *Wasm) callPtr(name string) uint32 {
	res, err := w.module.ExportedFunction(name).Call(w.ctx)
	if err != nil || len(res) == 0 {
		return 0
	}
	return uint32(res[0])
}

// readGuestCString copies a NUL-terminated string out of guest memory.
// Read returns a view over linear memory, so only the terminated prefix is
// copied out.
func readGuestCString(mem api.Memory, ptr uint32) ([]byte, bool) {
	size := mem.Size()
	if ptr >= size {
		return nil, false
	}
	view, ok := mem.Read(ptr, size-ptr)
	if !ok {
		return nil, false
	}
	for i, b := range view {
		if b == 0 {
			out := make([]byte, i)
			copy(out, view[:i])
			return out, true
		}
	}
	// Unterminated to end of memory.
	return nil, false
}
