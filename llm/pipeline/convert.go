package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/codec"
	"github.com/BaSui01/agentflow/types"
)

// payloadToChatRequest adapts a provider-shaped (openai-chat) codec.Payload
// into the typed *llm.ChatRequest the existing ProviderAdapter stack
// expects, so llm/providers/* (qwen, glm, deepseek, ...) can be reused
// unmodified as the Provider stage.
func payloadToChatRequest(payload codec.Payload) (*llm.ChatRequest, error) {
	req := &llm.ChatRequest{}

	if model, ok := payload["model"].(string); ok {
		req.Model = model
	}
	if maxTokens, ok := asInt(payload["max_tokens"]); ok {
		req.MaxTokens = maxTokens
	}
	if temp, ok := asFloat32(payload["temperature"]); ok {
		req.Temperature = temp
	}
	if topP, ok := asFloat32(payload["top_p"]); ok {
		req.TopP = topP
	}
	if choice, ok := payload["tool_choice"].(string); ok {
		req.ToolChoice = choice
	}

	messages, _ := payload["messages"].([]any)
	for _, m := range messages {
		mm, ok := m.(map[string]any)
		if !ok {
			continue
		}
		msg := types.Message{
			Role:       types.Role(fmt.Sprintf("%v", mm["role"])),
			Content:    fmt.Sprintf("%v", mm["content"]),
			Name:       stringOrEmpty(mm["name"]),
			ToolCallID: stringOrEmpty(mm["tool_call_id"]),
		}
		if mm["content"] == nil {
			msg.Content = ""
		}
		if tcs, ok := mm["tool_calls"].([]any); ok {
			for _, tc := range tcs {
				tcm, ok := tc.(map[string]any)
				if !ok {
					continue
				}
				fn, _ := tcm["function"].(map[string]any)
				var args json.RawMessage
				switch a := fn["arguments"].(type) {
				case string:
					args = json.RawMessage(a)
				case map[string]any:
					b, _ := json.Marshal(a)
					args = b
				}
				msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
					ID:        stringOrEmpty(tcm["id"]),
					Name:      stringOrEmpty(fn["name"]),
					Arguments: args,
				})
			}
		}
		req.Messages = append(req.Messages, msg)
	}

	if tools, ok := payload["tools"].([]any); ok {
		for _, t := range tools {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			fn, _ := tm["function"].(map[string]any)
			params, _ := json.Marshal(fn["parameters"])
			req.Tools = append(req.Tools, types.ToolSchema{
				Name:        stringOrEmpty(fn["name"]),
				Description: stringOrEmpty(fn["description"]),
				Parameters:  params,
			})
		}
	}

	return req, nil
}

// chatResponseToPayload is the inverse of payloadToChatRequest, producing
// the openai-chat shaped document the Compatibility/Codec stages expect
// upstream of the Provider.
func chatResponseToPayload(resp *llm.ChatResponse) codec.Payload {
	var choices []any
	for _, c := range resp.Choices {
		msg := map[string]any{"role": string(c.Message.Role), "content": c.Message.Content}
		if len(c.Message.ToolCalls) > 0 {
			var tcs []any
			for _, tc := range c.Message.ToolCalls {
				tcs = append(tcs, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(tc.Arguments),
					},
				})
			}
			msg["tool_calls"] = tcs
		}
		choices = append(choices, map[string]any{
			"index":         c.Index,
			"message":       msg,
			"finish_reason": c.FinishReason,
		})
	}

	return codec.Payload{
		"id":      resp.ID,
		"model":   resp.Model,
		"choices": choices,
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}
}

// streamChunkToEvent translates one llm.StreamChunk into the openai-chat
// SSE payload shape the codec/SSE stages expect from the provider side.
func streamChunkToEvent(chunk llm.StreamChunk) codec.StreamEvent {
	delta := map[string]any{}
	if chunk.Delta.Content != "" {
		delta["content"] = chunk.Delta.Content
	}
	if len(chunk.Delta.ToolCalls) > 0 {
		var tcs []any
		for i, tc := range chunk.Delta.ToolCalls {
			tcs = append(tcs, map[string]any{
				"index": i,
				"id":    tc.ID,
				"type":  "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": string(tc.Arguments),
				},
			})
		}
		delta["tool_calls"] = tcs
	}

	choice := map[string]any{"index": chunk.Index, "delta": delta}
	if chunk.FinishReason != "" {
		choice["finish_reason"] = chunk.FinishReason
	}

	payload := codec.Payload{
		"id":      chunk.ID,
		"model":   chunk.Model,
		"choices": []any{choice},
	}
	if chunk.Usage != nil {
		payload["usage"] = map[string]any{
			"prompt_tokens":     chunk.Usage.PromptTokens,
			"completion_tokens": chunk.Usage.CompletionTokens,
			"total_tokens":      chunk.Usage.TotalTokens,
		}
	}
	return codec.StreamEvent{Data: payload}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat32(v any) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	default:
		return 0, false
	}
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}
