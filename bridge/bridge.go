package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/engine"
)

// DefaultToolTimeout bounds how long an engine thread waits for a host-side
// tool result before falling back to an empty object.
const DefaultToolTimeout = 10 * time.Second

// Bridge is the host-facing surface over one engine backend. All methods are
// safe for concurrent use; consumer callbacks run on the bridge's loop
// goroutine.
type Bridge struct {
	eng  engine.Engine
	log  *zap.Logger
	loop *Loop

	tools *toolBridge
	relay *relay

	initOnce     sync.Once
	dispatchOnce sync.Once
	closed       atomic.Bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithToolTimeout overrides the rendezvous timeout for tool invocations.
func WithToolTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.tools.timeout = d
		}
	}
}

// New creates a Bridge over eng. Engine initialization is deferred to the
// first operation that needs it.
func New(eng engine.Engine, opts ...Option) *Bridge {
	b := &Bridge{
		eng: eng,
		log: zap.NewNop(),
	}
	b.tools = &toolBridge{
		bridge:  b,
		timeout: DefaultToolTimeout,
		pending: make(map[uint64]chan string),
	}
	b.relay = newRelay(b)
	for _, opt := range opts {
		opt(b)
	}
	b.loop = newLoop(b.log)
	return b
}

// Close retires all delivery handles and stops the loop. Idempotent. In-flight
// blocking calls finish on their workers; their futures still resolve.
func (b *Bridge) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.tools.clear()
	b.relay.retireAll()
	b.loop.close()
}

// ensureInit performs the one-time engine setup. Initialization failure is
// unrecoverable: the engine cannot be partially initialized and no later
// call can succeed, so the process aborts.
func (b *Bridge) ensureInit() {
	b.initOnce.Do(func() {
		if err := b.eng.Init(); err != nil {
			b.log.Error("engine initialization failed", zap.Error(err))
			panic(err)
		}
	})
}

// ensureToolDispatcher registers the engine-facing tool dispatcher at most
// once per process. The foreign interface accepts exactly one function
// pointer for it.
func (b *Bridge) ensureToolDispatcher() {
	b.dispatchOnce.Do(func() {
		b.eng.RegisterToolDispatcher(b.tools.dispatch)
	})
}

// Availability reports whether the on-device model can generate.
func (b *Bridge) Availability() appleai.Availability {
	b.ensureInit()
	ok, reason := b.eng.Availability()
	return appleai.Availability{Available: ok, Reason: reason}
}

// SupportedLanguages lists the languages the model supports.
func (b *Bridge) SupportedLanguages() []string {
	b.ensureInit()
	return b.eng.SupportedLanguages()
}

// RegisterToolCallback installs fn as the host tool handler, replacing and
// retiring any previous one. fn runs on the loop goroutine; it should kick
// off the actual tool work asynchronously and call SubmitToolResult when
// done.
func (b *Bridge) RegisterToolCallback(fn func(appleai.ToolCall)) {
	b.tools.register(fn)
}

// ClearToolCallback retires the current host tool handler.
func (b *Bridge) ClearToolCallback() {
	b.tools.clear()
}

// SubmitToolResult delivers the host-side result of tool invocation id. The
// result is forwarded to the engine and, independently, to the engine thread
// still parked on the rendezvous for id, if any. Submitting for an unknown
// or already timed-out id is not an error.
func (b *Bridge) SubmitToolResult(id uint64, result string) error {
	return b.tools.deliver(id, result)
}
