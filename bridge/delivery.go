package bridge

import (
	"sync"

	"go.uber.org/zap"

	appleai "github.com/gaodeng/apple-on-device-ai"
)

// Loop is the bridge's single-threaded execution context. Every
// consumer-visible callback runs on its goroutine, in enqueue order, which
// gives engine threads a safe place to marshal values without blocking.
type Loop struct {
	log *zap.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	stopped chan struct{}
}

func newLoop(log *zap.Logger) *Loop {
	l := &Loop{
		log:     log,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// post enqueues fn for execution on the loop goroutine. It never blocks and
// never runs fn inline. Returns false once the loop is closed.
func (l *Loop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		<-l.wake

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closed := l.closed
				l.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			l.runOne(fn)
		}
	}
}

// runOne shields the loop goroutine from consumer panics; one bad callback
// must not take down every stream and tool handler in the process.
func (l *Loop) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("delivery callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// close drains already-accepted work, then stops the loop goroutine.
func (l *Loop) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.stopped
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.stopped
}

// Handle is a thread-safe delivery callable: Invoke can be called from any
// goroutine or foreign thread and marshals its payload onto the loop. After
// Retire the handle accepts nothing further; deliveries accepted earlier
// still run, and the consumer receives at most one terminal end marker:
// either the stream's own, or one posted at retirement so an unfinished
// reader always unblocks.
type Handle struct {
	loop *Loop
	fn   func(appleai.Delivery)

	mu      sync.Mutex
	retired bool
	ended   bool // terminal marker already accepted
}

// NewHandle creates a delivery handle whose payloads run fn on the loop.
func (l *Loop) NewHandle(fn func(appleai.Delivery)) *Handle {
	return &Handle{loop: l, fn: fn}
}

// Invoke marshals d onto the loop. Never blocks the caller.
func (h *Handle) Invoke(d appleai.Delivery) {
	h.mu.Lock()
	if h.retired || h.ended {
		h.mu.Unlock()
		return
	}
	if d.End() {
		h.ended = true
	}
	h.loop.post(func() { h.fn(d) })
	h.mu.Unlock()
}

// Retire permanently disables the handle. If the consumer has not yet been
// sent a terminal marker, one is posted so it does not wait forever.
func (h *Handle) Retire() {
	h.mu.Lock()
	if h.retired {
		h.mu.Unlock()
		return
	}
	h.retired = true
	if !h.ended {
		h.ended = true
		h.loop.post(func() { h.fn(appleai.Delivery{}) })
	}
	h.mu.Unlock()
}
