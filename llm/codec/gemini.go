package codec

import "context"

// OpenAIToGeminiCodec handles (entry=openai-chat, provider=gemini-chat).
// Field names follow google.golang.org/genai's GenerateContentRequest
// shape: `contents[].parts[].text`, `role` of "user"/"model" (Gemini has
// no "assistant" or "system" role; system becomes systemInstruction).
type OpenAIToGeminiCodec struct{}

func (c *OpenAIToGeminiCodec) ConvertRequest(_ context.Context, openaiPayload Payload) (Payload, error) {
	out := Payload{}
	messages, _ := openaiPayload["messages"].([]any)
	var contents []any
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		content, _ := msg["content"].(string)
		if role == "system" {
			out["systemInstruction"] = map[string]any{"parts": []any{map[string]any{"text": content}}}
			continue
		}
		geminiRole := "user"
		if role == "assistant" {
			geminiRole = "model"
		}
		contents = append(contents, map[string]any{
			"role":  geminiRole,
			"parts": []any{map[string]any{"text": content}},
		})
	}
	out["contents"] = contents

	if tools, ok := openaiPayload["tools"].([]any); ok {
		var decls []any
		for _, t := range tools {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			fn, _ := tm["function"].(map[string]any)
			decls = append(decls, map[string]any{
				"name":        fn["name"],
				"description": fn["description"],
				"parameters":  fn["parameters"],
			})
		}
		out["tools"] = []any{map[string]any{"functionDeclarations": decls}}
	}

	if maxTokens, ok := openaiPayload["max_tokens"]; ok {
		out["generationConfig"] = map[string]any{"maxOutputTokens": maxTokens}
	}
	return out, nil
}

func (c *OpenAIToGeminiCodec) ConvertResponse(_ context.Context, geminiPayload Payload) (Payload, error) {
	candidates, _ := geminiPayload["candidates"].([]any)
	var text string
	var toolCalls []any
	if len(candidates) > 0 {
		cand, _ := candidates[0].(map[string]any)
		content, _ := cand["content"].(map[string]any)
		parts, _ := content["parts"].([]any)
		for _, p := range parts {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := part["text"].(string); ok {
				text += t
			}
			if fc, ok := part["functionCall"].(map[string]any); ok {
				toolCalls = append(toolCalls, map[string]any{
					"type":     "function",
					"function": map[string]any{"name": fc["name"], "arguments": marshalCompact(fc["args"])},
				})
			}
		}
	}
	msg := map[string]any{"role": "assistant", "content": text}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	out := Payload{
		"model":   geminiPayload["modelVersion"],
		"choices": []any{map[string]any{"index": 0, "message": msg, "finish_reason": "stop"}},
	}
	if usage, ok := geminiPayload["usageMetadata"].(map[string]any); ok {
		out["usage"] = map[string]any{
			"prompt_tokens":     usage["promptTokenCount"],
			"completion_tokens": usage["candidatesTokenCount"],
		}
	}
	return out, nil
}

func (c *OpenAIToGeminiCodec) ConvertResponseStream(_ context.Context, upstream StreamEvent) ([]StreamEvent, error) {
	candidates, _ := upstream.Data["candidates"].([]any)
	if len(candidates) == 0 {
		return nil, nil
	}
	cand, _ := candidates[0].(map[string]any)
	content, _ := cand["content"].(map[string]any)
	parts, _ := content["parts"].([]any)
	var text string
	for _, p := range parts {
		if part, ok := p.(map[string]any); ok {
			if t, ok := part["text"].(string); ok {
				text += t
			}
		}
	}
	return []StreamEvent{{Data: Payload{
		"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": text}}},
	}}}, nil
}
