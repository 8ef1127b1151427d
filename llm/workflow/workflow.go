package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/codec"
)

// Invoker is the next pipeline stage a Workflow wraps — in practice the
// Compatibility stage in front of a Provider. Accepting this narrow
// interface rather than a concrete Provider type keeps Workflow
// independent of the provider package (accept interfaces, return structs).
type Invoker interface {
	Call(ctx context.Context, payload codec.Payload) (codec.Payload, error)
	Stream(ctx context.Context, payload codec.Payload) (<-chan codec.StreamEvent, error)
}

// Workflow decides streaming vs non-streaming transport and wraps the call
// with the matching semantics (spec §4, Workflow responsibility).
type Workflow struct {
	next   Invoker
	logger *zap.Logger
}

func New(next Invoker, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{next: next, logger: logger}
}

// IsStreamingRequest inspects the normalized request payload's `stream`
// field the way every OpenAI-compatible family signals streaming.
func IsStreamingRequest(payload codec.Payload) bool {
	if v, ok := payload["stream"]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Execute runs payload through the wrapped Invoker with one-shot or
// streaming semantics, as determined by IsStreamingRequest.
func (w *Workflow) Execute(ctx context.Context, payload codec.Payload) (codec.Payload, <-chan codec.StreamEvent, error) {
	if IsStreamingRequest(payload) {
		ch, err := w.next.Stream(ctx, payload)
		if err != nil {
			w.logger.Debug("workflow: streaming call failed", zap.Error(err))
			return nil, nil, err
		}
		return nil, ch, nil
	}
	resp, err := w.next.Call(ctx, payload)
	if err != nil {
		w.logger.Debug("workflow: one-shot call failed", zap.Error(err))
		return nil, nil, err
	}
	return resp, nil, nil
}
