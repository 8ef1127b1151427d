package codec

import (
	"context"

	"github.com/BaSui01/agentflow/llm/vrouter"
)

// Payload is the tagged-union JSON value codecs operate on.
type Payload = map[string]any

// StreamEvent is one upstream or client-protocol stream frame: either a
// named SSE event (Anthropic-style) or a bare JSON data frame
// (OpenAI-style, Event left empty).
type StreamEvent struct {
	Event string
	Data  Payload
	Raw   []byte // passthrough escape hatch for bytes that aren't JSON (e.g. "[DONE]")
}

// Codec bidirectionally translates between an entry protocol and a
// provider protocol (spec §4.5). Implementations are pure functions of
// their input plus ctx (used only for request-id/logging correlation).
type Codec interface {
	// ConvertRequest maps a client-shaped request into the provider's
	// wire shape.
	ConvertRequest(ctx context.Context, clientPayload Payload) (Payload, error)
	// ConvertResponse maps a complete (non-streaming) provider response
	// back into the client's wire shape.
	ConvertResponse(ctx context.Context, providerPayload Payload) (Payload, error)
	// ConvertResponseStream maps one upstream stream event into zero or
	// more client-protocol stream events. Implementations are stateful
	// across calls for the same logical stream (tool-call argument
	// accumulation); callers must use one Codec instance per stream.
	ConvertResponseStream(ctx context.Context, upstream StreamEvent) ([]StreamEvent, error)
}

// Pair identifies a (entryProtocol, providerProtocol) codec lookup key.
type Pair struct {
	Entry    vrouter.Protocol
	Provider vrouter.Protocol
}

// Registry resolves the Codec for an (entry, provider) protocol pair.
type Registry struct {
	factories map[Pair]func() Codec
}

// NewRegistry builds the registry with the pairs wired below. The
// (openai-responses, anthropic-messages) and (anthropic-messages,
// openai-responses) pairs are not registered, so New reports them as
// unknown.
func NewRegistry() *Registry {
	r := &Registry{factories: map[Pair]func() Codec{}}

	identity := func() Codec { return &IdentityCodec{} }
	for _, entry := range []vrouter.Protocol{vrouter.ProtocolOpenAIChat, vrouter.ProtocolOpenAIResponses, vrouter.ProtocolAnthropicMsgs} {
		r.factories[Pair{Entry: entry, Provider: vrouter.ProtocolOpenAIChat}] = identity
	}
	// The identity codec normalizes openai-chat -> openai-chat only;
	// overwrite non-matching entries with the real translators below.
	r.factories[Pair{Entry: vrouter.ProtocolOpenAIChat, Provider: vrouter.ProtocolOpenAIChat}] = func() Codec { return &IdentityCodec{} }

	r.factories[Pair{Entry: vrouter.ProtocolAnthropicMsgs, Provider: vrouter.ProtocolOpenAIChat}] = func() Codec { return &AnthropicToOpenAICodec{} }
	r.factories[Pair{Entry: vrouter.ProtocolOpenAIChat, Provider: vrouter.ProtocolAnthropicMsgs}] = func() Codec { return &OpenAIToAnthropicCodec{} }
	r.factories[Pair{Entry: vrouter.ProtocolAnthropicMsgs, Provider: vrouter.ProtocolAnthropicMsgs}] = func() Codec { return &IdentityAnthropicCodec{} }

	r.factories[Pair{Entry: vrouter.ProtocolOpenAIResponses, Provider: vrouter.ProtocolOpenAIChat}] = func() Codec { return &ResponsesToChatCodec{} }
	r.factories[Pair{Entry: vrouter.ProtocolOpenAIChat, Provider: vrouter.ProtocolOpenAIResponses}] = func() Codec { return &ChatToResponsesCodec{} }
	r.factories[Pair{Entry: vrouter.ProtocolOpenAIResponses, Provider: vrouter.ProtocolOpenAIResponses}] = func() Codec { return &IdentityCodec{} }

	r.factories[Pair{Entry: vrouter.ProtocolOpenAIChat, Provider: vrouter.ProtocolGeminiChat}] = func() Codec { return &OpenAIToGeminiCodec{} }
	r.factories[Pair{Entry: vrouter.ProtocolAnthropicMsgs, Provider: vrouter.ProtocolGeminiChat}] = func() Codec {
		return &ChainedCodec{First: &AnthropicToOpenAICodec{}, Second: &OpenAIToGeminiCodec{}}
	}
	r.factories[Pair{Entry: vrouter.ProtocolOpenAIResponses, Provider: vrouter.ProtocolGeminiChat}] = func() Codec {
		return &ChainedCodec{First: &ResponsesToChatCodec{}, Second: &OpenAIToGeminiCodec{}}
	}

	return r
}

// New resolves (and instantiates a fresh, stream-state-free) Codec for a
// protocol pair.
func (r *Registry) New(pair Pair) (Codec, bool) {
	factory, ok := r.factories[pair]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// ChainedCodec composes two codecs end to end, e.g. anthropic-messages ->
// openai-chat -> gemini-chat, reusing the pairwise translators instead of
// hand-writing every transitive combination.
type ChainedCodec struct {
	First  Codec
	Second Codec
}

func (c *ChainedCodec) ConvertRequest(ctx context.Context, clientPayload Payload) (Payload, error) {
	mid, err := c.First.ConvertRequest(ctx, clientPayload)
	if err != nil {
		return nil, err
	}
	return c.Second.ConvertRequest(ctx, mid)
}

func (c *ChainedCodec) ConvertResponse(ctx context.Context, providerPayload Payload) (Payload, error) {
	mid, err := c.Second.ConvertResponse(ctx, providerPayload)
	if err != nil {
		return nil, err
	}
	return c.First.ConvertResponse(ctx, mid)
}

func (c *ChainedCodec) ConvertResponseStream(ctx context.Context, upstream StreamEvent) ([]StreamEvent, error) {
	midEvents, err := c.Second.ConvertResponseStream(ctx, upstream)
	if err != nil {
		return nil, err
	}
	var out []StreamEvent
	for _, ev := range midEvents {
		finalEvents, err := c.First.ConvertResponseStream(ctx, ev)
		if err != nil {
			return nil, err
		}
		out = append(out, finalEvents...)
	}
	return out, nil
}
