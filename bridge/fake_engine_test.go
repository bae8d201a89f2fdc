package bridge

import (
	"sync"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/engine"
)

type toolNote struct {
	id     uint64
	result string
}

// fakeEngine records every foreign call and lets tests drive the chunk sink
// as if they were engine-owned threads.
type fakeEngine struct {
	mu sync.Mutex

	initErr       error
	initCalls     int
	available     bool
	reason        string
	langs         []string
	generateFn    func(engine.Params) (string, error)
	generateCalls []engine.Params
	streamCalls   []engine.Params
	registerCalls int
	dispatcher    engine.ToolDispatcher
	notes         []toolNote

	sinks    map[appleai.StreamKind]engine.ChunkSink
	released map[appleai.StreamKind]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		available: true,
		reason:    "Available",
		sinks:     make(map[appleai.StreamKind]engine.ChunkSink),
		released:  make(map[appleai.StreamKind]int),
	}
}

func (f *fakeEngine) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeEngine) Availability() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available, f.reason
}

func (f *fakeEngine) SupportedLanguages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.langs
}

func (f *fakeEngine) RegisterToolDispatcher(fn engine.ToolDispatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	f.dispatcher = fn
}

func (f *fakeEngine) NotifyToolResult(id uint64, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, toolNote{id: id, result: result})
}

func (f *fakeEngine) Generate(p engine.Params) (string, error) {
	f.mu.Lock()
	f.generateCalls = append(f.generateCalls, p)
	fn := f.generateFn
	f.mu.Unlock()
	if fn == nil {
		return "ok", nil
	}
	return fn(p)
}

func (f *fakeEngine) StartStream(kind appleai.StreamKind, p engine.Params, sink engine.ChunkSink) (func(), error) {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, p)
	f.sinks[kind] = sink
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.released[kind]++
		f.mu.Unlock()
	}, nil
}

func (f *fakeEngine) sink(kind appleai.StreamKind) engine.ChunkSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[kind]
}

func (f *fakeEngine) releaseCount(kind appleai.StreamKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[kind]
}

func (f *fakeEngine) notified() []toolNote {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]toolNote, len(f.notes))
	copy(out, f.notes)
	return out
}

func (f *fakeEngine) counts() (init, register, generate, stream int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, f.registerCalls, len(f.generateCalls), len(f.streamCalls)
}
