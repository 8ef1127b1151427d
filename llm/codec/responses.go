package codec

import (
	"context"
	"encoding/json"
)

// ResponsesToChatCodec handles (entry=openai-responses,
// provider=openai-chat): `input[]` <-> `messages[]`, `instructions` <->
// system message, `output[]` <-> `choices[].message` (spec §4.5).
type ResponsesToChatCodec struct {
	stream chatStreamState
}

type chatStreamState struct {
	started      bool
	contentSoFar string
	argsSoFar    map[int]string
}

func (c *ResponsesToChatCodec) ConvertRequest(_ context.Context, responsesPayload Payload) (Payload, error) {
	out := Payload{}
	if model, ok := responsesPayload["model"]; ok {
		out["model"] = model
	}
	if stream, ok := responsesPayload["stream"]; ok {
		out["stream"] = stream
	}

	var messages []any
	if instructions, ok := responsesPayload["instructions"].(string); ok && instructions != "" {
		messages = append(messages, map[string]any{"role": "system", "content": instructions})
	}

	input, _ := responsesPayload["input"].([]any)
	for _, item := range input {
		im, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := im["role"].(string)
		if role == "" {
			role = "user"
		}
		messages = append(messages, map[string]any{"role": role, "content": stringifyContent(im["content"])})
	}
	out["messages"] = messages

	if tools, ok := responsesPayload["tools"].([]any); ok {
		out["tools"] = tools
	}
	return out, nil
}

func (c *ResponsesToChatCodec) ConvertResponse(_ context.Context, chatPayload Payload) (Payload, error) {
	choices, _ := chatPayload["choices"].([]any)
	var outputs []any
	for _, ch := range choices {
		choice, ok := ch.(map[string]any)
		if !ok {
			continue
		}
		message, _ := choice["message"].(map[string]any)
		content, _ := message["content"].(string)
		var contentItems []any
		if content != "" {
			contentItems = append(contentItems, map[string]any{"type": "output_text", "text": content})
		}
		if tcs, ok := message["tool_calls"].([]any); ok {
			for _, tc := range tcs {
				tcm, _ := tc.(map[string]any)
				fn, _ := tcm["function"].(map[string]any)
				contentItems = append(contentItems, map[string]any{
					"type": "tool_call", "id": tcm["id"], "name": fn["name"], "arguments": fn["arguments"],
				})
			}
		}
		outputs = append(outputs, map[string]any{
			"type": "message", "role": "assistant", "content": contentItems,
		})
	}

	out := Payload{
		"id":     chatPayload["id"],
		"model":  chatPayload["model"],
		"output": outputs,
	}
	if usage, ok := chatPayload["usage"].(map[string]any); ok {
		out["usage"] = usage
	}
	return out, nil
}

// ConvertResponseStream implements "Responses stream -> Chat stream" of
// spec §4.8: it reads *chat*-shaped upstream events (this codec's provider
// protocol) and emits responses-shaped client events.
func (c *ResponsesToChatCodec) ConvertResponseStream(_ context.Context, upstream StreamEvent) ([]StreamEvent, error) {
	if c.stream.argsSoFar == nil {
		c.stream.argsSoFar = map[int]string{}
	}
	if upstream.Raw != nil && string(upstream.Raw) == "[DONE]" {
		return []StreamEvent{{Raw: []byte("[DONE]")}}, nil
	}

	choices, _ := upstream.Data["choices"].([]any)
	if len(choices) == 0 {
		return nil, nil
	}
	choice, _ := choices[0].(map[string]any)
	delta, _ := choice["delta"].(map[string]any)

	var out []StreamEvent
	if text, ok := delta["content"].(string); ok && text != "" {
		out = append(out, StreamEvent{Data: Payload{
			"type": "response.output_text.delta", "delta": text,
		}})
	}
	if tcs, ok := delta["tool_calls"].([]any); ok {
		for _, tc := range tcs {
			tcm, _ := tc.(map[string]any)
			idxF, _ := tcm["index"].(float64)
			fn, _ := tcm["function"].(map[string]any)
			if argDelta, _ := fn["arguments"].(string); argDelta != "" {
				out = append(out, StreamEvent{Data: Payload{
					"type": "response.function_call_arguments.delta",
					"index": int(idxF), "delta": argDelta,
				}})
			}
		}
	}
	if fr, ok := choice["finish_reason"].(string); ok && fr != "" {
		out = append(out, StreamEvent{Data: Payload{"type": "response.completed", "finish_reason": fr}})
	}
	return out, nil
}

// ChatToResponsesCodec handles (entry=openai-chat, provider=openai-responses):
// the inverse direction. Its conversions are implemented in its own
// methods; the inner field is not used by them.
type ChatToResponsesCodec struct {
	inner ResponsesToChatCodec
}

func (c *ChatToResponsesCodec) ConvertRequest(_ context.Context, chatPayload Payload) (Payload, error) {
	out := Payload{}
	if model, ok := chatPayload["model"]; ok {
		out["model"] = model
	}
	if stream, ok := chatPayload["stream"]; ok {
		out["stream"] = stream
	}

	messages, _ := chatPayload["messages"].([]any)
	var input []any
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role == "system" {
			out["instructions"] = msg["content"]
			continue
		}
		input = append(input, map[string]any{"role": role, "content": msg["content"]})
	}
	out["input"] = input
	if tools, ok := chatPayload["tools"].([]any); ok {
		out["tools"] = tools
	}
	return out, nil
}

func (c *ChatToResponsesCodec) ConvertResponse(_ context.Context, responsesPayload Payload) (Payload, error) {
	outputs, _ := responsesPayload["output"].([]any)
	var text string
	var toolCalls []any
	for _, o := range outputs {
		om, ok := o.(map[string]any)
		if !ok {
			continue
		}
		items, _ := om["content"].([]any)
		for _, it := range items {
			item, ok := it.(map[string]any)
			if !ok {
				continue
			}
			switch item["type"] {
			case "output_text":
				if t, _ := item["text"].(string); t != "" {
					text += t
				}
			case "tool_call":
				toolCalls = append(toolCalls, map[string]any{
					"id": item["id"], "type": "function",
					"function": map[string]any{"name": item["name"], "arguments": item["arguments"]},
				})
			}
		}
	}
	msg := map[string]any{"role": "assistant", "content": text}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	out := Payload{
		"id":    responsesPayload["id"],
		"model": responsesPayload["model"],
		"choices": []any{map[string]any{
			"index": 0, "message": msg, "finish_reason": "stop",
		}},
	}
	if usage, ok := responsesPayload["usage"]; ok {
		out["usage"] = usage
	}
	return out, nil
}

func (c *ChatToResponsesCodec) ConvertResponseStream(_ context.Context, upstream StreamEvent) ([]StreamEvent, error) {
	return []StreamEvent{upstream}, nil
}

// marshalCompact encodes v as a compact JSON string, or "" if encoding
// fails. gemini.go uses it to turn tool-call args into an arguments string.
func marshalCompact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
