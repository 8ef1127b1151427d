package pipeline

import (
	"context"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/codec"
)

// providerInvoker adapts an existing llm.Provider (the ProviderAdapter
// implementations in llm/providers/*) to the codec.Payload-shaped
// workflow.Invoker interface the new pipeline speaks, so qwen/glm/deepseek/
// openaicompat and friends are reused unmodified as the Provider stage of
// spec §4.4's pipeline.
type providerInvoker struct {
	provider llm.Provider
}

func newProviderInvoker(p llm.Provider) *providerInvoker {
	return &providerInvoker{provider: p}
}

func (p *providerInvoker) Call(ctx context.Context, payload codec.Payload) (codec.Payload, error) {
	req, err := payloadToChatRequest(payload)
	if err != nil {
		return nil, err
	}
	resp, err := p.provider.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	return chatResponseToPayload(resp), nil
}

func (p *providerInvoker) Stream(ctx context.Context, payload codec.Payload) (<-chan codec.StreamEvent, error) {
	req, err := payloadToChatRequest(payload)
	if err != nil {
		return nil, err
	}
	upstream, err := p.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan codec.StreamEvent, 16)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.Err != nil {
				out <- codec.StreamEvent{Data: codec.Payload{"error": map[string]any{"message": chunk.Err.Message}}}
				return
			}
			out <- streamChunkToEvent(chunk)
			if chunk.FinishReason != "" {
				out <- codec.StreamEvent{Raw: []byte("[DONE]")}
				return
			}
		}
	}()
	return out, nil
}
