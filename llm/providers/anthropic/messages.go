package claude

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/agentflow/llm"
)

// anthropicRequest is the wire shape of a POST /v1/messages body.
type anthropicRequest struct {
	Model       string              `json:"model"`
	MaxTokens   int                 `json:"max_tokens"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMsg      `json:"messages"`
	Temperature float32             `json:"temperature,omitempty"`
	TopP        float32             `json:"top_p,omitempty"`
	StopSeqs    []string            `json:"stop_sequences,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
	Tools       []anthropicTool     `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
	Thinking    *anthropicThinking  `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMsg struct {
	Role    string              `json:"role"`
	Content []anthropicBlockOut `json:"content"`
}

// anthropicBlockOut is the tagged-union content block shape sent in
// requests: text, tool_use (assistant's prior call) or tool_result (the
// reply a "tool" role message becomes).
type anthropicBlockOut struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// anthropicMessage is the wire shape of a non-streaming /v1/messages
// response.
type anthropicMessage struct {
	ID           string             `json:"id"`
	Model        string             `json:"model"`
	Role         string             `json:"role"`
	Content      []anthropicBlockIn `json:"content"`
	StopReason   string             `json:"stop_reason"`
	Usage        anthropicUsage     `json:"usage"`
	Signature    string             `json:"thought_signature,omitempty"`
}

type anthropicBlockIn struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// convertMessageToAnthropic maps one unified Message into Claude's
// content-block shape. Tool-role messages become a user turn carrying a
// single tool_result block (spec-adjacent: Claude has no "tool" role).
func convertMessageToAnthropic(m llm.Message) anthropicMsg {
	if m.Role == llm.RoleTool {
		return anthropicMsg{
			Role: "user",
			Content: []anthropicBlockOut{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}},
		}
	}

	role := string(m.Role)
	if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
		role = "user"
	}

	var blocks []anthropicBlockOut
	if m.Content != "" {
		blocks = append(blocks, anthropicBlockOut{Type: "text", Text: m.Content})
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, anthropicBlockOut{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: tc.Arguments,
		})
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicBlockOut{Type: "text", Text: ""})
	}
	return anthropicMsg{Role: role, Content: blocks}
}

func convertToolsToAnthropic(tools []llm.ToolSchema) []anthropicTool {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

// toolChoiceToAnthropic maps the OpenAI-style tool_choice string ("auto",
// "none", "required", or a literal function name) onto Claude's
// {type, name?} shape.
func toolChoiceToAnthropic(choice string) *anthropicToolChoice {
	switch choice {
	case "auto", "":
		return &anthropicToolChoice{Type: "auto"}
	case "none":
		return &anthropicToolChoice{Type: "none"}
	case "required":
		return &anthropicToolChoice{Type: "any"}
	default:
		return &anthropicToolChoice{Type: "tool", Name: choice}
	}
}

var stopReasonAliases = map[string]string{
	"end_turn":      "stop",
	"stop_sequence": "stop",
	"max_tokens":    "length",
	"tool_use":      "tool_calls",
}

func mapStopReason(reason string) string {
	if alias, ok := stopReasonAliases[reason]; ok {
		return alias
	}
	return reason
}

// anthropicToChatResponse converts a complete Messages API response into
// the unified llm.ChatResponse shape, concatenating text blocks and
// collecting tool_use blocks into ToolCalls, and carrying forward any
// thought signature (2026 extended-thinking feature) for downstream
// multi-turn replay.
func anthropicToChatResponse(resp anthropicMessage, providerName string) *llm.ChatResponse {
	msg := llm.Message{Role: llm.RoleAssistant}
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			msg.Content += b.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		}
	}

	out := &llm.ChatResponse{
		ID:       resp.ID,
		Provider: providerName,
		Model:    resp.Model,
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: mapStopReason(resp.StopReason),
			Message:      msg,
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		CreatedAt: time.Now(),
	}
	if resp.Signature != "" {
		out.ThoughtSignatures = []string{resp.Signature}
	}
	return out
}
