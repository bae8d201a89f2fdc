package engine

import (
	"errors"
	"testing"

	appleai "github.com/gaodeng/apple-on-device-ai"
	bridgeerrors "github.com/gaodeng/apple-on-device-ai/errors"
)

func TestUnavailable_Surface(t *testing.T) {
	eng := Unavailable("no native engine on this platform")

	if err := eng.Init(); err != nil {
		t.Fatalf("Init should succeed on the stub: %v", err)
	}

	ok, reason := eng.Availability()
	if ok {
		t.Error("stub must report unavailable")
	}
	if reason != "no native engine on this platform" {
		t.Errorf("reason = %q", reason)
	}

	if langs := eng.SupportedLanguages(); len(langs) != 0 {
		t.Errorf("expected no languages, got %v", langs)
	}

	if _, err := eng.Generate(Params{Messages: "[]"}); !errors.Is(err,
		&bridgeerrors.Error{Phase: bridgeerrors.PhaseEngine, Kind: bridgeerrors.KindUnsupported}) {
		t.Errorf("Generate error = %v, want unsupported", err)
	}

	if _, err := eng.StartStream(appleai.StreamUnified, Params{Messages: "[]"}, func([]byte, bool) {}); err == nil {
		t.Error("StartStream should fail on the stub")
	}
}
