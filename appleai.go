package appleai

import "strings"

// ErrorSentinel is the reserved first byte of a streamed chunk that carries
// an error instead of text. The remaining bytes are the UTF-8 error message,
// decoded leniently.
const ErrorSentinel byte = 0x02

// EmptyObject is the fallback payload returned to the engine when a tool
// invocation produces no usable result (timeout, missing callback, panic).
const EmptyObject = "{}"

// StreamKind identifies one of the per-kind active-stream slots. At most one
// stream of each kind is active at a time.
type StreamKind int

const (
	StreamPlain StreamKind = iota
	StreamUnified
	StreamTools

	numStreamKinds
)

// NumStreamKinds reports how many stream slots exist.
func NumStreamKinds() int { return int(numStreamKinds) }

func (k StreamKind) String() string {
	switch k {
	case StreamPlain:
		return "plain"
	case StreamUnified:
		return "unified"
	case StreamTools:
		return "tools"
	}
	return "unknown"
}

// GenerateRequest describes one generation call. All blob fields are opaque
// text whose structure is a caller/engine convention; the bridge never
// interprets them beyond the reserved sentinel byte on streamed chunks.
type GenerateRequest struct {
	// Messages is the message-history blob. Required.
	Messages string
	// Tools is the tool-declaration blob. Empty means no tools.
	Tools string
	// Schema is the response-schema blob. Empty means unconstrained output.
	Schema string
	// Temperature in the engine-defined range. Zero means engine default.
	Temperature float64
	// MaxTokens is the token budget. Zero means engine default.
	MaxTokens int
	// StopAfterToolCalls stops generation immediately after any tool call.
	StopAfterToolCalls bool
}

// Delivery is one host-visible event from a stream or a tool notification.
// A zero Delivery is the end-of-stream marker.
type Delivery struct {
	Text string
	Err  error
}

// End reports whether d is the terminal end-of-stream marker.
func (d Delivery) End() bool { return d.Text == "" && d.Err == nil }

// ToolCall is a foreign-initiated tool invocation forwarded to the host.
// Args is an opaque arguments blob; a null pointer upstream arrives as "{}".
type ToolCall struct {
	ID   uint64
	Args string
}

// Availability reports whether the on-device model can be used, with a
// human-readable reason when it cannot.
type Availability struct {
	Available bool
	Reason    string
}

// ValidatePayload reports whether a blob can cross the C boundary. Foreign
// calls take NUL-terminated buffers, so an embedded NUL is unrepresentable.
func ValidatePayload(blob string) bool {
	return !strings.ContainsRune(blob, 0)
}

// DecodeSentinel splits a raw adopted chunk into (message, true) when it
// carries the error sentinel, or ("", false) when it is ordinary text.
func DecodeSentinel(chunk []byte) (string, bool) {
	if len(chunk) == 0 || chunk[0] != ErrorSentinel {
		return "", false
	}
	return LenientString(chunk[1:]), true
}

// LenientString decodes b as UTF-8, substituting the replacement character
// for invalid sequences. Foreign buffers are not guaranteed to be valid UTF-8.
func LenientString(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
