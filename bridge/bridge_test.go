package bridge

import (
	"testing"
	"time"

	appleai "github.com/gaodeng/apple-on-device-ai"
)

func TestBridge_Availability(t *testing.T) {
	eng := newFakeEngine()
	eng.available = false
	eng.reason = "Model assets not downloaded"
	b := newTestBridge(t, eng)

	got := b.Availability()
	if got.Available {
		t.Error("expected unavailable")
	}
	if got.Reason != "Model assets not downloaded" {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestBridge_SupportedLanguages(t *testing.T) {
	eng := newFakeEngine()
	eng.langs = []string{"en-US", "de-DE", "ja-JP"}
	b := newTestBridge(t, eng)

	got := b.SupportedLanguages()
	if len(got) != 3 || got[0] != "en-US" {
		t.Errorf("languages = %v", got)
	}
}

func TestBridge_CloseIsIdempotent(t *testing.T) {
	b := New(newFakeEngine())
	b.Close()
	b.Close()
}

func TestBridge_CloseRetiresActiveStreams(t *testing.T) {
	eng := newFakeEngine()
	b := New(eng)
	c := newCollector()

	if err := b.StreamText("[]", c.fn); err != nil {
		t.Fatalf("start stream: %v", err)
	}
	sink := eng.sink(appleai.StreamPlain)
	sink([]byte("partial"), false)

	b.Close()

	// The consumer got its chunk and a terminal marker; post-close chunks
	// are dropped rather than delivered to a stopped loop.
	if n := c.count(); n != 2 {
		t.Fatalf("deliveries at close = %d, want chunk plus end marker", n)
	}
	sink([]byte("late"), false)
	time.Sleep(10 * time.Millisecond)
	if n := c.count(); n != 2 {
		t.Errorf("deliveries after close = %d, want no change", n)
	}
	if n := eng.releaseCount(appleai.StreamPlain); n != 1 {
		t.Errorf("release count = %d, want 1", n)
	}
}
