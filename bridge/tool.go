package bridge

import (
	"sync"
	"time"

	"go.uber.org/zap"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/errors"
)

// toolBridge implements the tool-call rendezvous: an engine thread invokes
// dispatch synchronously and parks on a one-shot channel while the host runs
// the tool on the loop; deliver hands the result back (or the wait times out
// to an empty-object fallback).
type toolBridge struct {
	bridge  *Bridge
	timeout time.Duration

	mu      sync.Mutex
	pending map[uint64]chan string

	cbMu sync.Mutex
	cb   *toolHandle
}

// toolHandle marshals tool invocations onto the loop. Unlike the stream
// Handle it has no terminal marker: retiring simply silences it.
type toolHandle struct {
	loop *Loop
	fn   func(appleai.ToolCall)

	mu      sync.Mutex
	retired bool
}

func (t *toolHandle) invoke(c appleai.ToolCall) {
	t.mu.Lock()
	if !t.retired {
		t.loop.post(func() { t.fn(c) })
	}
	t.mu.Unlock()
}

func (t *toolHandle) retire() {
	t.mu.Lock()
	t.retired = true
	t.mu.Unlock()
}

// register installs fn as the host tool handler. The previous handle is
// retired first; no two live handles coexist.
func (t *toolBridge) register(fn func(appleai.ToolCall)) {
	h := &toolHandle{loop: t.bridge.loop, fn: fn}

	t.cbMu.Lock()
	old := t.cb
	t.cb = h
	t.cbMu.Unlock()

	if old != nil {
		old.retire()
	}
}

// clear retires the current host tool handler.
func (t *toolBridge) clear() {
	t.cbMu.Lock()
	old := t.cb
	t.cb = nil
	t.cbMu.Unlock()

	if old != nil {
		old.retire()
	}
}

// dispatch is the engine-facing entry point, called synchronously on an
// engine-owned thread. It must return a result blob and must never let a
// failure unwind across the foreign boundary.
func (t *toolBridge) dispatch(id uint64, args string) (result string) {
	log := t.bridge.log
	defer func() {
		if r := recover(); r != nil {
			log.Error("tool dispatch panicked",
				zap.Uint64("tool_id", id), zap.Any("panic", r))
			result = appleai.EmptyObject
		}
	}()

	if args == "" {
		args = appleai.EmptyObject
	}

	ch := make(chan string, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	// Fire-and-forget into the loop; the engine thread must never wait on
	// the loop's own progress, only on the rendezvous below.
	t.cbMu.Lock()
	cb := t.cb
	t.cbMu.Unlock()
	if cb != nil {
		cb.invoke(appleai.ToolCall{ID: id, Args: args})
	} else {
		log.Warn("tool invocation with no registered callback", zap.Uint64("tool_id", id))
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res
	case <-timer.C:
		// Remove the stale record so a late delivery cannot write into a
		// vacated slot and the table does not grow without bound.
		t.mu.Lock()
		if t.pending[id] == ch {
			delete(t.pending, id)
		}
		t.mu.Unlock()
		log.Warn("tool invocation timed out", zap.Uint64("tool_id", id),
			zap.Duration("timeout", t.timeout))
		return appleai.EmptyObject
	}
}

// deliver forwards a host-side tool result. Both effects always happen: the
// engine is notified through its result entry point, and any parked waiter
// is released. A result with no waiter is dropped on the channel side only.
func (t *toolBridge) deliver(id uint64, result string) error {
	if !appleai.ValidatePayload(result) {
		return errors.InvalidPayload("result blob contains embedded NUL byte")
	}

	t.bridge.eng.NotifyToolResult(id, result)

	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if ok {
		ch <- result // buffered; never blocks
	}
	return nil
}

// pendingCount reports the rendezvous table size.
func (t *toolBridge) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
