package appleai

import (
	"errors"
	"testing"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want bool
	}{
		{"empty", "", true},
		{"plain json", `{"role":"user"}`, true},
		{"embedded nul", "abc\x00def", false},
		{"leading nul", "\x00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidatePayload(tt.blob); got != tt.want {
				t.Fatalf("ValidatePayload(%q) = %v, want %v", tt.blob, got, tt.want)
			}
		})
	}
}

func TestDecodeSentinel(t *testing.T) {
	tests := []struct {
		name    string
		chunk   []byte
		wantMsg string
		wantErr bool
	}{
		{"ordinary text", []byte("hello"), "", false},
		{"empty chunk", nil, "", false},
		{"sentinel with message", []byte("\x02bad argument"), "bad argument", true},
		{"sentinel alone", []byte{ErrorSentinel}, "", true},
		{"sentinel mid-chunk is text", []byte("a\x02b"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, isErr := DecodeSentinel(tt.chunk)
			if isErr != tt.wantErr {
				t.Fatalf("DecodeSentinel(%q) isErr = %v, want %v", tt.chunk, isErr, tt.wantErr)
			}
			if msg != tt.wantMsg {
				t.Fatalf("DecodeSentinel(%q) msg = %q, want %q", tt.chunk, msg, tt.wantMsg)
			}
		})
	}
}

func TestLenientString(t *testing.T) {
	if got := LenientString([]byte("caf\xc3\xa9")); got != "café" {
		t.Fatalf("valid UTF-8 changed: %q", got)
	}
	if got := LenientString([]byte("a\xffb")); got != "a�b" {
		t.Fatalf("invalid byte not replaced: %q", got)
	}
	if got := LenientString(nil); got != "" {
		t.Fatalf("nil should decode to empty, got %q", got)
	}
}

func TestDelivery_End(t *testing.T) {
	if !(Delivery{}).End() {
		t.Fatal("zero delivery must be the end marker")
	}
	if (Delivery{Text: "x"}).End() {
		t.Fatal("text delivery is not the end marker")
	}
	if (Delivery{Err: errors.New("boom")}).End() {
		t.Fatal("failed delivery is not the end marker")
	}
}

func TestStreamKind_String(t *testing.T) {
	for kind, want := range map[StreamKind]string{
		StreamPlain:   "plain",
		StreamUnified: "unified",
		StreamTools:   "tools",
		StreamKind(9): "unknown",
	} {
		if got := kind.String(); got != want {
			t.Fatalf("StreamKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
