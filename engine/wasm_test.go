package engine

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	appleai "github.com/gaodeng/apple-on-device-ai"
)

// fakeMemory implements the subset of api.Memory the string helpers touch.
type fakeMemory struct {
	api.Memory
	data []byte
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.data)) }

func (m *fakeMemory) Read(off, count uint32) ([]byte, bool) {
	if uint64(off)+uint64(count) > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[off : off+count], true
}

func (m *fakeMemory) Write(off uint32, v []byte) bool {
	if uint64(off)+uint64(len(v)) > uint64(len(m.data)) {
		return false
	}
	copy(m.data[off:], v)
	return true
}

// fakeGuest stands in for an instantiated engine module: linear memory, a
// bump allocator behind malloc, and recorders for the guest-facing calls.
type fakeGuest struct {
	api.Module

	mem     *fakeMemory
	missing map[string]bool

	mu      sync.Mutex
	next    uint32
	freed   []uint32
	results []guestResult
}

type guestResult struct {
	id     uint64
	result string
}

func newFakeGuest() *fakeGuest {
	return &fakeGuest{
		mem:  &fakeMemory{data: make([]byte, 1<<16)},
		next: 8, // 0 is the null pointer
	}
}

func (g *fakeGuest) Memory() api.Memory { return g.mem }

func (g *fakeGuest) ExportedFunction(name string) api.Function {
	if g.missing[name] {
		return nil
	}
	return &guestFn{g: g, name: name}
}

// place writes s into guest memory as a NUL-terminated string.
func (g *fakeGuest) place(s string) uint32 {
	g.mu.Lock()
	ptr := g.next
	g.next += uint32(len(s)) + 1
	g.mu.Unlock()
	copy(g.mem.data[ptr:], s)
	g.mem.data[ptr+uint32(len(s))] = 0
	return ptr
}

func (g *fakeGuest) resultCalls() []guestResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]guestResult(nil), g.results...)
}

func (g *fakeGuest) freedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.freed)
}

type guestFn struct {
	api.Function
	g    *fakeGuest
	name string
}

func (f *guestFn) Call(_ context.Context, params ...uint64) ([]uint64, error) {
	g := f.g
	switch f.name {
	case guestMalloc:
		g.mu.Lock()
		ptr := g.next
		g.next += uint32(params[0])
		g.mu.Unlock()
		return []uint64{uint64(ptr)}, nil
	case guestFree:
		g.mu.Lock()
		g.freed = append(g.freed, uint32(params[0]))
		g.mu.Unlock()
		return nil, nil
	case guestToolResult:
		b, _ := readGuestCString(g.mem, uint32(params[1]))
		g.mu.Lock()
		g.results = append(g.results, guestResult{id: params[0], result: string(b)})
		g.mu.Unlock()
		return nil, nil
	}
	return nil, nil
}

func newTestWasm(g *fakeGuest) *Wasm {
	return &Wasm{
		module:   g,
		ctx:      context.Background(),
		sinks:    make([]ChunkSink, appleai.NumStreamKinds()),
		sinkSeq:  make([]uint64, appleai.NumStreamKinds()),
		inFlight: make(map[uint64]struct{}),
	}
}

func TestReadGuestCString(t *testing.T) {
	mem := &fakeMemory{data: []byte("hello\x00world\x00tail-without-nul")}

	tests := []struct {
		name string
		ptr  uint32
		want []byte
		ok   bool
	}{
		{"first string", 0, []byte("hello"), true},
		{"second string", 6, []byte("world"), true},
		{"empty string at terminator", 5, []byte{}, true},
		{"unterminated tail", 12, nil, false},
		{"pointer past memory", 1000, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := readGuestCString(mem, tt.ptr)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !bytes.Equal(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadGuestCString_CopiesOut(t *testing.T) {
	mem := &fakeMemory{data: []byte("abc\x00")}
	got, ok := readGuestCString(mem, 0)
	if !ok {
		t.Fatal("expected read to succeed")
	}
	mem.data[0] = 'z'
	if got[0] != 'a' {
		t.Error("returned slice aliases guest memory; adoption must copy")
	}
}

func TestCheckGuestExports(t *testing.T) {
	g := newFakeGuest()
	if err := checkGuestExports(g); err != nil {
		t.Fatalf("complete module rejected: %v", err)
	}

	for _, name := range guestExports {
		g.missing = map[string]bool{name: true}
		err := checkGuestExports(g)
		if err == nil {
			t.Fatalf("module missing %q accepted", name)
		}
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name the missing export %q", err, name)
		}
	}
}

// The guest-call mutex is held for the whole tool-augmented session; a
// result submitted while the engine is parked inside the tool_call import
// must reach it as that import's return value, not through a guest call
// that would wait on the same mutex.
func TestWasm_ToolResultDuringGuestCall(t *testing.T) {
	g := newFakeGuest()
	w := newTestWasm(g)

	w.RegisterToolDispatcher(func(id uint64, args string) string {
		if args != "{}" {
			t.Errorf("args = %q, want {}", args)
		}
		res := make(chan string, 1)
		go func() {
			w.NotifyToolResult(id, `{"ok":true}`)
			res <- `{"ok":true}`
		}()
		select {
		case r := <-res:
			return r
		case <-time.After(2 * time.Second):
			return "notify never returned"
		}
	})

	argsPtr := g.place("{}")
	done := make(chan uint32, 1)
	go func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		done <- w.hostToolCall(context.Background(), g, 42, argsPtr)
	}()

	var ptr uint32
	select {
	case ptr = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("tool invocation deadlocked against the guest-call mutex")
	}

	got, ok := readGuestCString(g.mem, ptr)
	if !ok || string(got) != `{"ok":true}` {
		t.Fatalf("guest received %q, want the submitted result", got)
	}
	if n := len(g.resultCalls()); n != 0 {
		t.Fatalf("parked invocation also notified the guest %d times", n)
	}
	w.toolMu.Lock()
	pending := len(w.inFlight)
	w.toolMu.Unlock()
	if pending != 0 {
		t.Fatalf("in-flight table holds %d stale entries", pending)
	}
}

func TestWasm_NotifyToolResultReachesIdleGuest(t *testing.T) {
	g := newFakeGuest()
	w := newTestWasm(g)

	w.NotifyToolResult(7, `{"n":1}`)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if calls := g.resultCalls(); len(calls) == 1 {
			if calls[0].id != 7 || calls[0].result != `{"n":1}` {
				t.Fatalf("guest notified with %+v", calls[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("guest never received the tool result")
		}
		time.Sleep(time.Millisecond)
	}

	for g.freedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("lent result buffer never freed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWasm_HostToolCallWithoutDispatcher(t *testing.T) {
	g := newFakeGuest()
	w := newTestWasm(g)

	ptr := w.hostToolCall(context.Background(), g, 1, 0)
	got, ok := readGuestCString(g.mem, ptr)
	if !ok || string(got) != appleai.EmptyObject {
		t.Fatalf("got %q, want the empty-object fallback", got)
	}
}

func TestWasm_HostChunkSequence(t *testing.T) {
	g := newFakeGuest()
	w := newTestWasm(g)

	type event struct {
		text string
		end  bool
	}
	var mu sync.Mutex
	var events []event
	kind := appleai.StreamUnified
	w.sinks[kind] = func(chunk []byte, end bool) {
		mu.Lock()
		events = append(events, event{text: string(chunk), end: end})
		mu.Unlock()
	}

	for _, s := range []string{"hello", "\x02bad argument", " world"} {
		w.hostChunk(context.Background(), g, uint32(kind), g.place(s))
	}
	w.hostChunk(context.Background(), g, uint32(kind), 0)

	want := []event{
		{text: "hello"},
		{text: "\x02bad argument"},
		{text: " world"},
		{end: true},
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, e := range events {
		if e != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, e, want[i])
		}
	}
}

func TestWasm_HostChunkDropsWithoutSink(t *testing.T) {
	g := newFakeGuest()
	w := newTestWasm(g)

	// No sink installed and an out-of-range kind: both must be ignored.
	w.hostChunk(context.Background(), g, uint32(appleai.StreamPlain), g.place("x"))
	w.hostChunk(context.Background(), g, 99, g.place("y"))
	w.hostChunk(context.Background(), g, 99, 0)
}
