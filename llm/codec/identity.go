package codec

import (
	"context"
	"encoding/json"
)

// IdentityCodec is the openai-chat -> openai-chat translator. Even though
// entry and provider protocols agree, it still normalizes per spec §4.5:
// undefined content becomes "", assistant tool_calls arguments are
// JSON-stringified, string `parameters` are JSON-parsed, and tools missing
// `function.name` are dropped.
type IdentityCodec struct{}

func (c *IdentityCodec) ConvertRequest(_ context.Context, payload Payload) (Payload, error) {
	out := clonePayload(payload)

	if messages, ok := out["messages"].([]any); ok {
		for _, m := range messages {
			msg, ok := m.(map[string]any)
			if !ok {
				continue
			}
			if _, has := msg["content"]; !has || msg["content"] == nil {
				msg["content"] = ""
			}
			if tcs, ok := msg["tool_calls"].([]any); ok {
				for _, tc := range tcs {
					tcm, ok := tc.(map[string]any)
					if !ok {
						continue
					}
					fn, ok := tcm["function"].(map[string]any)
					if !ok {
						continue
					}
					if args, ok := fn["arguments"].(map[string]any); ok {
						if b, err := json.Marshal(args); err == nil {
							fn["arguments"] = string(b)
						}
					}
				}
			}
		}
	}

	if tools, ok := out["tools"].([]any); ok {
		filtered := make([]any, 0, len(tools))
		for _, t := range tools {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			fn, ok := tm["function"].(map[string]any)
			if !ok {
				continue
			}
			name, _ := fn["name"].(string)
			if name == "" {
				continue
			}
			if params, ok := fn["parameters"].(string); ok {
				var obj map[string]any
				if err := json.Unmarshal([]byte(params), &obj); err == nil {
					fn["parameters"] = obj
				}
			}
			filtered = append(filtered, tm)
		}
		out["tools"] = filtered
	}

	return out, nil
}

func (c *IdentityCodec) ConvertResponse(_ context.Context, payload Payload) (Payload, error) {
	return clonePayload(payload), nil
}

func (c *IdentityCodec) ConvertResponseStream(_ context.Context, upstream StreamEvent) ([]StreamEvent, error) {
	return []StreamEvent{upstream}, nil
}

// IdentityAnthropicCodec is the anthropic-messages -> anthropic-messages
// pass-through (no normalization rules are specified for this pair beyond
// passthrough).
type IdentityAnthropicCodec struct{}

func (c *IdentityAnthropicCodec) ConvertRequest(_ context.Context, payload Payload) (Payload, error) {
	return clonePayload(payload), nil
}

func (c *IdentityAnthropicCodec) ConvertResponse(_ context.Context, payload Payload) (Payload, error) {
	return clonePayload(payload), nil
}

func (c *IdentityAnthropicCodec) ConvertResponseStream(_ context.Context, upstream StreamEvent) ([]StreamEvent, error) {
	return []StreamEvent{upstream}, nil
}

func clonePayload(p Payload) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
