package engine

import (
	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/errors"
)

// unavailable is the backend of last resort: it initializes, reports the
// model unavailable with a fixed reason, and fails every generation call.
type unavailable struct {
	reason string
}

// Unavailable returns an Engine that reports the model unavailable for the
// given reason. It keeps the host-facing surface total on platforms without
// a real backend.
func Unavailable(reason string) Engine {
	return &unavailable{reason: reason}
}

func (u *unavailable) Init() error { return nil }

func (u *unavailable) Availability() (bool, string) { return false, u.reason }

func (u *unavailable) SupportedLanguages() []string { return nil }

func (u *unavailable) RegisterToolDispatcher(ToolDispatcher) {}

func (u *unavailable) NotifyToolResult(uint64, string) {}

func (u *unavailable) Generate(Params) (string, error) {
	return "", errors.Unsupported(u.reason)
}

func (u *unavailable) StartStream(kind appleai.StreamKind, p Params, sink ChunkSink) (func(), error) {
	return nil, errors.Unsupported(u.reason)
}
