package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClaudeProviderDefaults(t *testing.T) {
	p := NewClaudeProvider(providers.ClaudeConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-ant-x", BaseURL: "https://api.anthropic.com"},
	}, nil)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, defaultAnthropicVersion, p.Cfg.AnthropicVersion)
	assert.True(t, p.SupportsNativeFunctionCalling())
	require.NotNil(t, p.Client)
	require.NotNil(t, p.RewriterChain)
}

func TestBuildHeadersUsesXApiKeyByDefault(t *testing.T) {
	p := NewClaudeProvider(providers.ClaudeConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-ant-x"}}, nil)
	req, _ := http.NewRequest(http.MethodPost, "https://example.invalid/v1/messages", nil)
	p.buildHeaders(req, "sk-ant-x")
	assert.Equal(t, "sk-ant-x", req.Header.Get("x-api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Equal(t, defaultAnthropicVersion, req.Header.Get("anthropic-version"))
}

func TestBuildHeadersUsesBearerWhenConfigured(t *testing.T) {
	p := NewClaudeProvider(providers.ClaudeConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "tok"},
		AuthType:           "bearer",
	}, nil)
	req, _ := http.NewRequest(http.MethodPost, "https://example.invalid/v1/messages", nil)
	p.buildHeaders(req, "tok")
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Get("x-api-key"))
}

func TestCompletionExtractsSystemMessageAndToolUse(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(anthropicMessage{
			ID:    "msg_1",
			Model: "claude-3-5-sonnet",
			Role:  "assistant",
			Content: []anthropicBlockIn{
				{Type: "text", Text: "hello"},
				{Type: "tool_use", ID: "tu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"sf"}`)},
			},
			StopReason: "tool_use",
			Usage:      anthropicUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer srv.Close()

	p := NewClaudeProvider(providers.ClaudeConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-ant-x", BaseURL: srv.URL}}, nil)
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model: "claude-3-5-sonnet",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be terse"},
			{Role: llm.RoleUser, Content: "what's the weather"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "be terse", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)

	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.Choices[0].Message.ToolCalls[0].Name)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestCompletionMapsToolRoleMessageToToolResultBlock(t *testing.T) {
	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(anthropicMessage{ID: "msg_2", Model: "claude-3-5-sonnet", StopReason: "end_turn"})
	}))
	defer srv.Close()

	p := NewClaudeProvider(providers.ClaudeConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-ant-x", BaseURL: srv.URL}}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model: "claude-3-5-sonnet",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "call the tool"},
			{Role: llm.RoleTool, Content: "42", ToolCallID: "tu_1"},
		},
	})
	require.NoError(t, err)

	require.Len(t, captured.Messages, 2)
	toolMsg := captured.Messages[1]
	assert.Equal(t, "user", toolMsg.Role)
	require.Len(t, toolMsg.Content, 1)
	assert.Equal(t, "tool_result", toolMsg.Content[0].Type)
	assert.Equal(t, "tu_1", toolMsg.Content[0].ToolUseID)
	assert.Equal(t, "42", toolMsg.Content[0].Content)
}

func TestCompletionMapsUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "invalid x-api-key"}})
	}))
	defer srv.Close()

	p := NewClaudeProvider(providers.ClaudeConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "bad", BaseURL: srv.URL}}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "claude-3-5-sonnet", Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrUnauthorized, llmErr.Code)
}

func TestStreamAccumulatesTextAndToolUseDeltas(t *testing.T) {
	sse := "" +
		"event: message_start\ndata: {\"message\":{\"id\":\"msg_3\"}}\n\n" +
		"event: content_block_start\ndata: {\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n" +
		"event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"he\"}}\n\n" +
		"event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"llo\"}}\n\n" +
		"event: content_block_start\ndata: {\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"tu_1\",\"name\":\"get_weather\"}}\n\n" +
		"event: content_block_delta\ndata: {\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"city\\\":\\\"sf\\\"}\"}}\n\n" +
		"event: message_delta\ndata: {\"delta\":{\"stop_reason\":\"tool_use\"},\"usage\":{\"output_tokens\":7}}\n\n" +
		"event: message_stop\ndata: {}\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse))
	}))
	defer srv.Close()

	p := NewClaudeProvider(providers.ClaudeConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-ant-x", BaseURL: srv.URL}}, nil)
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Model: "claude-3-5-sonnet", Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	var text string
	var toolArgs string
	var finishReason string
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		text += chunk.Delta.Content
		for _, tc := range chunk.Delta.ToolCalls {
			toolArgs += string(tc.Arguments)
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}
	assert.Equal(t, "hello", text)
	assert.Equal(t, `{"city":"sf"}`, toolArgs)
	assert.Equal(t, "tool_calls", finishReason)
}
