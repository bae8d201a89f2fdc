package bridge

import (
	"sync"

	"go.uber.org/zap"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/errors"
)

// relay owns the per-kind active-stream slots and forwards engine chunks to
// the host in arrival order.
type relay struct {
	bridge *Bridge

	mu    sync.Mutex
	slots []streamSlot
}

// streamSlot is the process-wide record of one in-progress stream of a given
// kind. handle is nil while the slot is idle. release frees the
// foreign-compatible buffers the engine keeps reading for the whole session.
type streamSlot struct {
	handle  *Handle
	release func()
}

func newRelay(b *Bridge) *relay {
	return &relay{
		bridge: b,
		slots:  make([]streamSlot, appleai.NumStreamKinds()),
	}
}

// GenerateStream starts a streaming generation call of the given kind.
// Deliveries arrive on fn, on the loop goroutine, in chunk arrival order:
// text chunks as successes, sentinel chunks as mid-stream failures, then
// exactly one empty delivery as the end marker.
//
// Starting a new stream while one of the same kind is active retires the
// previous stream's handle; its consumer receives a final end marker and
// nothing else. The foreign side is not signalled.
func (b *Bridge) GenerateStream(kind appleai.StreamKind, req appleai.GenerateRequest, fn func(appleai.Delivery)) error {
	return b.relay.start(kind, req, fn)
}

// StreamText is the plain streaming call: message history only.
func (b *Bridge) StreamText(messages string, fn func(appleai.Delivery)) error {
	return b.relay.start(appleai.StreamPlain, appleai.GenerateRequest{Messages: messages}, fn)
}

// StreamWithHistory streams a history-based call with sampling controls.
func (b *Bridge) StreamWithHistory(messages string, temperature float64, maxTokens int, fn func(appleai.Delivery)) error {
	return b.relay.start(appleai.StreamPlain, appleai.GenerateRequest{
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, fn)
}

// StreamStructured streams schema-constrained output.
func (b *Bridge) StreamStructured(messages, schema string, fn func(appleai.Delivery)) error {
	return b.relay.start(appleai.StreamUnified,
		appleai.GenerateRequest{Messages: messages, Schema: schema}, fn)
}

// StreamWithTools streams a tool-augmented call. Generation stops after tool
// calls, matching the engine default.
func (b *Bridge) StreamWithTools(messages, tools string, fn func(appleai.Delivery)) error {
	return b.relay.start(appleai.StreamTools, appleai.GenerateRequest{
		Messages:           messages,
		Tools:              tools,
		StopAfterToolCalls: true,
	}, fn)
}

func (r *relay) start(kind appleai.StreamKind, req appleai.GenerateRequest, fn func(appleai.Delivery)) error {
	if int(kind) < 0 || int(kind) >= appleai.NumStreamKinds() {
		return errors.InvalidInput(errors.PhaseStream, "unknown stream kind")
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseStream, "delivery callback is required")
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	b := r.bridge
	b.ensureInit()
	if req.Tools != "" {
		b.ensureToolDispatcher()
	}

	h := b.loop.NewHandle(fn)

	r.mu.Lock()
	old := r.slots[kind].handle
	oldRelease := r.slots[kind].release
	r.slots[kind] = streamSlot{handle: h}
	r.mu.Unlock()

	// The previous consumer gets its end marker and is never invoked again;
	// the foreign side of the abandoned stream keeps running unobserved.
	if old != nil {
		b.log.Debug("replacing active stream", zap.Stringer("kind", kind))
		old.Retire()
	}
	if oldRelease != nil {
		oldRelease()
	}

	release, err := b.eng.StartStream(kind, toParams(req), func(chunk []byte, end bool) {
		r.onChunk(kind, h, chunk, end)
	})
	if err != nil {
		r.mu.Lock()
		if r.slots[kind].handle == h {
			r.slots[kind] = streamSlot{}
		}
		r.mu.Unlock()
		h.Retire()
		return err
	}

	// The stream may already have ended on a fast engine thread; if the slot
	// no longer holds our handle, the buffers are done with.
	r.mu.Lock()
	if r.slots[kind].handle == h {
		r.slots[kind].release = release
		release = nil
	}
	r.mu.Unlock()
	if release != nil {
		release()
	}
	return nil
}

// onChunk runs on an engine-owned thread. The slot lock is never held while
// a handle is invoked, and nothing here ever blocks the engine thread.
func (r *relay) onChunk(kind appleai.StreamKind, h *Handle, chunk []byte, end bool) {
	if end {
		h.Invoke(appleai.Delivery{})
		h.Retire()

		var release func()
		r.mu.Lock()
		if r.slots[kind].handle == h {
			release = r.slots[kind].release
			r.slots[kind] = streamSlot{}
		}
		r.mu.Unlock()
		if release != nil {
			release()
		}
		return
	}

	if msg, isErr := appleai.DecodeSentinel(chunk); isErr {
		// One rejected delivery; the stream itself continues.
		h.Invoke(appleai.Delivery{Err: errors.StreamError(msg)})
		return
	}
	if len(chunk) == 0 {
		return
	}
	h.Invoke(appleai.Delivery{Text: appleai.LenientString(chunk)})
}

// retireAll ends every active stream's consumer, for Close.
func (r *relay) retireAll() {
	r.mu.Lock()
	slots := make([]streamSlot, len(r.slots))
	copy(slots, r.slots)
	for i := range r.slots {
		r.slots[i] = streamSlot{}
	}
	r.mu.Unlock()

	for _, s := range slots {
		if s.handle != nil {
			s.handle.Retire()
		}
		if s.release != nil {
			s.release()
		}
	}
}
