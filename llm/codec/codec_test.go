package codec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityCodecNormalizesUndefinedContent(t *testing.T) {
	c := &IdentityCodec{}
	out, err := c.ConvertRequest(context.Background(), Payload{
		"messages": []any{map[string]any{"role": "user"}},
	})
	require.NoError(t, err)
	msgs := out["messages"].([]any)
	assert.Equal(t, "", msgs[0].(map[string]any)["content"])
}

func TestIdentityCodecDropsToolsMissingName(t *testing.T) {
	c := &IdentityCodec{}
	out, err := c.ConvertRequest(context.Background(), Payload{
		"tools": []any{
			map[string]any{"type": "function", "function": map[string]any{}},
			map[string]any{"type": "function", "function": map[string]any{"name": "ok"}},
		},
	})
	require.NoError(t, err)
	tools := out["tools"].([]any)
	assert.Len(t, tools, 1)
}

func TestAnthropicToOpenAIRequestMergesSystemMessage(t *testing.T) {
	c := &AnthropicToOpenAICodec{}
	out, err := c.ConvertRequest(context.Background(), Payload{
		"model":      "any",
		"system":     "be brief",
		"max_tokens": float64(10),
		"messages": []any{
			map[string]any{"role": "user", "content": []any{map[string]any{"type": "text", "text": "hi"}}},
		},
	})
	require.NoError(t, err)
	msgs := out["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "be brief", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "hi", msgs[1].(map[string]any)["content"])
	assert.Equal(t, float64(10), out["max_tokens"])
}

func TestAnthropicToOpenAIResponseSplitsTextAndStopsReason(t *testing.T) {
	c := &AnthropicToOpenAICodec{}
	out, err := c.ConvertResponse(context.Background(), Payload{
		"choices": []any{map[string]any{
			"message":       map[string]any{"role": "assistant", "content": "hello"},
			"finish_reason": "stop",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "message", out["type"])
	assert.Equal(t, "stop", out["stop_reason"])
	blocks := out["content"].([]any)
	require.Len(t, blocks, 1)
	assert.Equal(t, "text", blocks[0].(map[string]any)["type"])
	assert.Equal(t, "hello", blocks[0].(map[string]any)["text"])
}

func TestAnthropicStreamEmitsExactlyOneMessageStop(t *testing.T) {
	c := &AnthropicToOpenAICodec{}
	ctx := context.Background()

	events := []StreamEvent{
		{Data: Payload{"choices": []any{map[string]any{"delta": map[string]any{"content": "Hel"}}}}},
		{Data: Payload{"choices": []any{map[string]any{"delta": map[string]any{"content": "lo"}}}}},
		{Data: Payload{"choices": []any{map[string]any{"delta": map[string]any{}, "finish_reason": "stop"}}}},
	}

	stopCount := 0
	for _, ev := range events {
		out, err := c.ConvertResponseStream(ctx, ev)
		require.NoError(t, err)
		for _, o := range out {
			if o.Event == "message_stop" {
				stopCount++
			}
		}
	}
	assert.Equal(t, 1, stopCount)
}

func TestRoundTripModelIdentifierPreserved(t *testing.T) {
	fwd := &OpenAIToAnthropicCodec{}
	back := &AnthropicToOpenAICodec{}

	req, err := fwd.ConvertRequest(context.Background(), Payload{
		"model": "claude-3-opus",
		"messages": []any{
			map[string]any{"role": "user", "content": "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-opus", req["model"])

	resp, err := back.ConvertResponse(context.Background(), Payload{
		"model":   "claude-3-opus",
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": "hi back"}, "finish_reason": "stop"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-opus", resp["model"])
}

func TestRegistryResolvesAllNamedPairs(t *testing.T) {
	r := NewRegistry()
	_, ok := r.New(Pair{Entry: "anthropic-messages", Provider: "openai-chat"})
	assert.True(t, ok)
	_, ok = r.New(Pair{Entry: "openai-responses", Provider: "gemini-chat"})
	assert.True(t, ok)
	_, ok = r.New(Pair{Entry: "nope", Provider: "nope"})
	assert.False(t, ok)
}
