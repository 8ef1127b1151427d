package claude

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/agentflow/internal/tlsutil"
	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/middleware"
	"github.com/BaSui01/agentflow/llm/providers"
	"go.uber.org/zap"
)

const (
	defaultAnthropicVersion = "2023-06-01"
	defaultEndpointPath     = "/v1/messages"
	defaultModelsEndpoint   = "/v1/models"
)

// ReasoningMode selects Claude's extended-thinking budget (spec-adjacent
// feature carried from the original provider's Extra-field convention,
// mirroring deepseek's reasoning_mode knob).
type ReasoningMode string

const (
	ReasoningModeNone     ReasoningMode = ""
	ReasoningModeFast     ReasoningMode = "fast"
	ReasoningModeExtended ReasoningMode = "extended"
)

// Config holds ClaudeProvider construction parameters, mirroring
// openaicompat.Config's shape where the concerns overlap.
type Config struct {
	ProviderName     string
	APIKey           string
	BaseURL          string
	DefaultModel     string
	Timeout          time.Duration
	AnthropicVersion string
	// AuthType selects the credential header: "api_key" (default, x-api-key)
	// or "bearer" (Authorization: Bearer, used by some OAuth-fronted
	// Anthropic-compatible gateways).
	AuthType string
	// ReasoningMode, if set, enables extended thinking with a budget derived
	// from the mode.
	ReasoningMode ReasoningMode
	SupportsTools *bool
}

// Provider implements llm.Provider directly against the Anthropic Messages
// API rather than embedding openaicompat.Provider, since Claude's wire
// format (content blocks, x-api-key auth, independent SSE event names)
// diverges from the OpenAI-compatible shape at nearly every layer.
type Provider struct {
	Cfg           Config
	Client        *http.Client
	Logger        *zap.Logger
	RewriterChain *middleware.RewriterChain
}

func NewClaudeProvider(cfg providers.ClaudeConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	version := cfg.AnthropicVersion
	if version == "" {
		version = defaultAnthropicVersion
	}
	return &Provider{
		Cfg: Config{
			ProviderName:     "anthropic",
			APIKey:           cfg.APIKey,
			BaseURL:          cfg.BaseURL,
			DefaultModel:     cfg.Model,
			Timeout:          timeout,
			AnthropicVersion: version,
			AuthType:         cfg.AuthType,
		},
		Client: tlsutil.SecureHTTPClient(timeout),
		Logger: logger,
		RewriterChain: middleware.NewRewriterChain(
			middleware.NewEmptyToolsCleaner(),
		),
	}
}

func (p *Provider) Name() string { return p.Cfg.ProviderName }

func (p *Provider) SupportsNativeFunctionCalling() bool {
	if p.Cfg.SupportsTools != nil {
		return *p.Cfg.SupportsTools
	}
	return true
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.Cfg.BaseURL, "/") + path
}

func (p *Provider) resolveAPIKey(ctx context.Context) string {
	if c, ok := llm.CredentialOverrideFromContext(ctx); ok {
		if strings.TrimSpace(c.APIKey) != "" {
			return strings.TrimSpace(c.APIKey)
		}
	}
	return p.Cfg.APIKey
}

// buildHeaders sets the auth header using the Anthropic convention
// (x-api-key) unless AuthType is "bearer", plus the anthropic-version
// header every Messages API call requires.
func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", p.Cfg.AnthropicVersion)
	if p.Cfg.AuthType == "bearer" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
		return
	}
	req.Header.Set("x-api-key", apiKey)
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(defaultModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.Cfg.APIKey)

	resp, err := p.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("anthropic health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ListModels queries /v1/models, which follows the OpenAI-compatible list
// shape even on Anthropic's own API.
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return providers.ListModelsOpenAICompat(
		ctx, p.Client, p.Cfg.BaseURL, p.Cfg.APIKey, p.Cfg.ProviderName,
		defaultModelsEndpoint, p.buildHeaders,
	)
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	rewrittenReq, err := p.RewriterChain.Execute(ctx, req)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: fmt.Sprintf("request rewrite failed: %v", err), HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	req = rewrittenReq

	apiKey := p.resolveAPIKey(ctx)
	body := p.buildMessagesRequest(req, false)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(defaultEndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, apiKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var amResp anthropicMessage
	if err := json.NewDecoder(resp.Body).Decode(&amResp); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	return anthropicToChatResponse(amResp, p.Name()), nil
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	rewrittenReq, err := p.RewriterChain.Execute(ctx, req)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: fmt.Sprintf("request rewrite failed: %v", err), HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	req = rewrittenReq

	apiKey := p.resolveAPIKey(ctx)
	body := p.buildMessagesRequest(req, true)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(defaultEndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	return streamAnthropicSSE(ctx, resp.Body, p.Name(), req.Model), nil
}

// buildMessagesRequest converts the unified ChatRequest into Anthropic's
// Messages API shape: system prompt extracted to its own top-level field,
// tool results wrapped as user-role tool_result blocks, and an optional
// extended-thinking budget.
func (p *Provider) buildMessagesRequest(req *llm.ChatRequest, stream bool) anthropicRequest {
	model := req.Model
	if model == "" {
		model = p.Cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
		StopSeqs:    req.Stop,
	}

	var systemParts []string
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		body.Messages = append(body.Messages, convertMessageToAnthropic(m))
	}
	if len(systemParts) > 0 {
		body.System = strings.Join(systemParts, "\n\n")
	}

	if len(req.Tools) > 0 {
		body.Tools = convertToolsToAnthropic(req.Tools)
		if req.ToolChoice != "" {
			body.ToolChoice = toolChoiceToAnthropic(req.ToolChoice)
		}
	}

	if p.Cfg.ReasoningMode != ReasoningModeNone {
		budget := 4096
		if p.Cfg.ReasoningMode == ReasoningModeExtended {
			budget = 32768
		}
		body.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
	}

	return body
}

// streamAnthropicSSE parses Claude's independent SSE event vocabulary
// (message_start / content_block_start / content_block_delta /
// content_block_stop / message_delta / message_stop), accumulating
// tool_use argument fragments per content block index the way
// openaicompat.StreamSSE accumulates OpenAI-style tool_calls deltas.
func streamAnthropicSSE(ctx context.Context, body io.ReadCloser, providerName, model string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		reader := bufio.NewReader(body)
		var msgID string
		toolNames := map[int]string{}
		toolIDs := map[int]string{}

		emit := func(chunk llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}

		var eventName string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					emit(llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}})
				}
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			case !strings.HasPrefix(line, "data:"):
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}

			switch eventName {
			case "message_start":
				var ev struct {
					Message struct {
						ID string `json:"id"`
					} `json:"message"`
				}
				if err := json.Unmarshal([]byte(data), &ev); err == nil {
					msgID = ev.Message.ID
				}

			case "content_block_start":
				var ev struct {
					Index        int `json:"index"`
					ContentBlock struct {
						Type string `json:"type"`
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"content_block"`
				}
				if err := json.Unmarshal([]byte(data), &ev); err == nil && ev.ContentBlock.Type == "tool_use" {
					toolNames[ev.Index] = ev.ContentBlock.Name
					toolIDs[ev.Index] = ev.ContentBlock.ID
				}

			case "content_block_delta":
				var ev struct {
					Index int `json:"index"`
					Delta struct {
						Type        string `json:"type"`
						Text        string `json:"text"`
						PartialJSON string `json:"partial_json"`
					} `json:"delta"`
				}
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					continue
				}
				chunk := llm.StreamChunk{ID: msgID, Provider: providerName, Model: model, Index: ev.Index, Delta: llm.Message{Role: llm.RoleAssistant}}
				switch ev.Delta.Type {
				case "text_delta":
					chunk.Delta.Content = ev.Delta.Text
				case "input_json_delta":
					chunk.Delta.ToolCalls = []llm.ToolCall{{
						ID:        toolIDs[ev.Index],
						Name:      toolNames[ev.Index],
						Arguments: json.RawMessage(ev.Delta.PartialJSON),
					}}
				default:
					continue
				}
				if !emit(chunk) {
					return
				}

			case "message_delta":
				var ev struct {
					Delta struct {
						StopReason string `json:"stop_reason"`
					} `json:"delta"`
					Usage struct {
						OutputTokens int `json:"output_tokens"`
					} `json:"usage"`
				}
				if err := json.Unmarshal([]byte(data), &ev); err == nil && ev.Delta.StopReason != "" {
					if !emit(llm.StreamChunk{
						ID: msgID, Provider: providerName, Model: model,
						FinishReason: mapStopReason(ev.Delta.StopReason),
						Delta:        llm.Message{Role: llm.RoleAssistant},
						Usage:        &llm.ChatUsage{CompletionTokens: ev.Usage.OutputTokens},
					}) {
						return
					}
				}

			case "message_stop":
				return

			case "error":
				var ev struct {
					Error struct {
						Message string `json:"message"`
					} `json:"error"`
				}
				_ = json.Unmarshal([]byte(data), &ev)
				emit(llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: ev.Error.Message, HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName}})
				return
			}
		}
	}()
	return ch
}
