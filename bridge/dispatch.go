package bridge

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/engine"
	"github.com/gaodeng/apple-on-device-ai/errors"
)

// Future is the host-visible result of one blocking generation call.
type Future struct {
	done chan struct{}
	text string
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(text string, err error) {
	f.text = text
	f.err = err
	close(f.done)
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the call resolves or ctx is cancelled. Cancellation
// abandons the result; the worker finishes in the background.
func (f *Future) Await(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.text, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Dispatch runs one blocking generation call on a worker goroutine and
// returns its Future immediately. Payload validation happens before anything
// crosses the foreign boundary.
func (b *Bridge) Dispatch(req appleai.GenerateRequest) *Future {
	f := newFuture()

	if err := validateRequest(req); err != nil {
		f.resolve("", err)
		return f
	}

	b.ensureInit()
	if req.Tools != "" {
		b.ensureToolDispatcher()
	}

	requestID := uuid.NewString()
	b.log.Debug("dispatching generate call",
		zap.String("request_id", requestID),
		zap.Bool("tools", req.Tools != ""),
		zap.Bool("schema", req.Schema != ""))

	go func() {
		text, err := b.eng.Generate(toParams(req))
		if err != nil {
			b.log.Debug("generate call failed",
				zap.String("request_id", requestID), zap.Error(err))
		}
		f.resolve(text, err)
	}()

	return f
}

// Generate runs a plain generation call over an encoded message history.
func (b *Bridge) Generate(messages string) *Future {
	return b.Dispatch(appleai.GenerateRequest{Messages: messages})
}

// GenerateWithHistory runs a history-based call with sampling controls.
func (b *Bridge) GenerateWithHistory(messages string, temperature float64, maxTokens int) *Future {
	return b.Dispatch(appleai.GenerateRequest{
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
}

// GenerateStructured constrains the output to an encoded response schema.
func (b *Bridge) GenerateStructured(messages, schema string) *Future {
	return b.Dispatch(appleai.GenerateRequest{Messages: messages, Schema: schema})
}

// GenerateWithTools runs a tool-augmented call. Generation stops after tool
// calls, matching the engine default.
func (b *Bridge) GenerateWithTools(messages, tools string) *Future {
	return b.Dispatch(appleai.GenerateRequest{
		Messages:           messages,
		Tools:              tools,
		StopAfterToolCalls: true,
	})
}

// validateRequest rejects blobs that cannot cross the foreign boundary,
// before any foreign call is attempted.
func validateRequest(req appleai.GenerateRequest) error {
	if req.Messages == "" {
		return errors.InvalidInput(errors.PhasePayload, "messages blob is required")
	}
	for _, blob := range []struct {
		name  string
		value string
	}{
		{"messages", req.Messages},
		{"tools", req.Tools},
		{"schema", req.Schema},
	} {
		if !appleai.ValidatePayload(blob.value) {
			return errors.InvalidPayload(blob.name + " blob contains embedded NUL byte")
		}
	}
	return nil
}

func toParams(req appleai.GenerateRequest) engine.Params {
	return engine.Params{
		Messages:           req.Messages,
		Tools:              req.Tools,
		Schema:             req.Schema,
		Temperature:        req.Temperature,
		MaxTokens:          req.MaxTokens,
		StopAfterToolCalls: req.StopAfterToolCalls,
	}
}
