package compat

import (
	"encoding/json"
	"regexp"
	"strings"
)

// MessageRule is one declarative request-side rule applied in order
// (spec §4.6's messagesRules engine).
type MessageRule struct {
	WhenRole         string // "" means any role
	WhenHasToolCalls *bool  // nil means don't care
	WhenLastOnly     bool   // if true, rule only applies to non-last matching messages (GLM pattern)
	Action           string // "drop", "keep", "set"
	Set              map[string]any
}

// FamilyConfig is the per-provider-family shape-filter configuration.
type FamilyConfig struct {
	Name string

	AllowedRequestKeys  []string
	AllowedResponseKeys []string

	MessagesRules []MessageRule

	// ArgumentsAsString controls whether assistant tool_calls[].function
	// arguments are normalized to a JSON string (true, OpenAI-compatible
	// wire convention) or left as a decoded object (false).
	ArgumentsAsString bool

	StripStrict  bool // GLM: strip tools[].function.strict
	ShellToolFix bool // ensure shell tool's `command` parameter is array-of-string shaped

	// ResponseBypass skips all response-side shape filtering, used for
	// /v1/responses where the upstream is itself responses-shaped.
	// Defaults to true per the open-question decision in DESIGN.md.
	ResponseBypass bool
}

// DefaultFamilyConfig returns a permissive baseline a specific family's
// config should start from.
func DefaultFamilyConfig(name string) FamilyConfig {
	return FamilyConfig{
		Name:              name,
		ArgumentsAsString: true,
		ResponseBypass:    true,
	}
}

// Filter applies one FamilyConfig's request/response shaping rules.
type Filter struct {
	cfg FamilyConfig
}

func NewFilter(cfg FamilyConfig) *Filter {
	return &Filter{cfg: cfg}
}

var reasoningTagRe = regexp.MustCompile(`(?s)<reasoning>.*?</reasoning>`)

// ProcessRequest applies the full request-side pipeline of spec §4.6 in
// order, returning the shaped payload or a *FilterError.
func (f *Filter) ProcessRequest(payload map[string]any) (map[string]any, error) {
	out := restrictKeys(payload, f.cfg.AllowedRequestKeys)

	messages, _ := out["messages"].([]any)
	messages = normalizeRoles(messages)
	messages, err := coerceContent(messages)
	if err != nil {
		return nil, err
	}
	messages = f.normalizeToolCallArguments(messages)
	messages = stripReasoningTags(messages)
	messages = f.applyMessagesRules(messages)
	messages = pairToolMessagesWithNames(messages)
	if messages != nil {
		out["messages"] = messages
	}

	if tools, ok := out["tools"].([]any); ok {
		tools = f.repairTools(tools)
		if len(tools) == 0 {
			delete(out, "tools")
			delete(out, "tool_choice")
		} else {
			out["tools"] = tools
		}
	} else {
		delete(out, "tool_choice")
	}

	return out, nil
}

// ProcessResponse applies the response-side normalization of spec §4.6,
// unless ResponseBypass is set.
func (f *Filter) ProcessResponse(payload map[string]any) map[string]any {
	if f.cfg.ResponseBypass {
		return payload
	}
	out := restrictKeys(payload, f.cfg.AllowedResponseKeys)

	if usage, ok := out["usage"].(map[string]any); ok {
		out["usage"] = normalizeUsage(usage)
	}
	if choices, ok := out["choices"].([]any); ok {
		out["choices"] = normalizeChoices(choices, f.cfg.ArgumentsAsString)
	}
	if createdAt, ok := out["created_at"]; ok {
		out["created"] = createdAt
		delete(out, "created_at")
	}
	return out
}

func restrictKeys(payload map[string]any, allow []string) map[string]any {
	if len(allow) == 0 {
		out := make(map[string]any, len(payload))
		for k, v := range payload {
			out[k] = v
		}
		return out
	}
	allowSet := make(map[string]struct{}, len(allow))
	for _, k := range allow {
		allowSet[k] = struct{}{}
	}
	out := make(map[string]any, len(allow))
	for k, v := range payload {
		if _, ok := allowSet[k]; ok {
			out[k] = v
		}
	}
	return out
}

var knownRoles = map[string]bool{"system": true, "user": true, "assistant": true, "tool": true}

func normalizeRoles(messages []any) []any {
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if !knownRoles[role] {
			msg["role"] = "user"
		}
	}
	return messages
}

func coerceContent(messages []any) ([]any, error) {
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		content := stringifyContent(msg["content"])
		msg["content"] = content
		if role == "tool" && strings.TrimSpace(content) == "" {
			return nil, &FilterError{Code: ErrCompatToolTextEmpty, Message: "tool message content must be non-empty"}
		}
	}
	return messages, nil
}

// stringifyContent coerces a content field of unknown shape (undefined,
// array-of-blocks, object) to a plain string.
func stringifyContent(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var sb strings.Builder
		for _, block := range c {
			if m, ok := block.(map[string]any); ok {
				if t, _ := m["text"].(string); t != "" {
					sb.WriteString(t)
				}
			}
		}
		return sb.String()
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func (f *Filter) normalizeToolCallArguments(messages []any) []any {
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		tcs, ok := msg["tool_calls"].([]any)
		if !ok {
			continue
		}
		for _, tc := range tcs {
			tcm, ok := tc.(map[string]any)
			if !ok {
				continue
			}
			fn, ok := tcm["function"].(map[string]any)
			if !ok {
				continue
			}
			fn["arguments"] = normalizeArguments(fn["arguments"], f.cfg.ArgumentsAsString)
		}
	}
	return messages
}

func normalizeArguments(v any, asString bool) any {
	switch args := v.(type) {
	case string:
		if asString {
			return args
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(args), &obj); err == nil {
			return obj
		}
		return args
	case map[string]any:
		if !asString {
			return args
		}
		b, err := json.Marshal(args)
		if err != nil {
			return "{}"
		}
		return string(b)
	default:
		return v
	}
}

func stripReasoningTags(messages []any) []any {
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if content, ok := msg["content"].(string); ok {
			msg["content"] = reasoningTagRe.ReplaceAllString(content, "")
		}
	}
	return messages
}

func (f *Filter) applyMessagesRules(messages []any) []any {
	if len(f.cfg.MessagesRules) == 0 {
		return messages
	}
	for _, rule := range f.cfg.MessagesRules {
		messages = applyOneRule(messages, rule)
	}
	return messages
}

func applyOneRule(messages []any, rule MessageRule) []any {
	lastMatchIdx := -1
	if rule.WhenLastOnly {
		for i, m := range messages {
			if ruleConditionMatches(m, rule) {
				lastMatchIdx = i
			}
		}
	}

	out := make([]any, 0, len(messages))
	for i, m := range messages {
		if !ruleConditionMatches(m, rule) {
			out = append(out, m)
			continue
		}
		if rule.WhenLastOnly && i == lastMatchIdx {
			out = append(out, m)
			continue
		}
		switch rule.Action {
		case "drop":
			continue
		case "set":
			if msg, ok := m.(map[string]any); ok {
				for k, v := range rule.Set {
					msg[k] = v
				}
			}
			out = append(out, m)
		default: // "keep"
			out = append(out, m)
		}
	}
	return out
}

func ruleConditionMatches(m any, rule MessageRule) bool {
	msg, ok := m.(map[string]any)
	if !ok {
		return false
	}
	if rule.WhenRole != "" {
		role, _ := msg["role"].(string)
		if role != rule.WhenRole {
			return false
		}
	}
	if rule.WhenHasToolCalls != nil {
		_, hasTC := msg["tool_calls"]
		if hasTC != *rule.WhenHasToolCalls {
			return false
		}
	}
	return true
}

// pairToolMessagesWithNames annotates role:tool messages with the function
// name taken from the preceding assistant turn's tool_calls entry whose id
// matches tool_call_id.
func pairToolMessagesWithNames(messages []any) []any {
	idToName := map[string]string{}
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "assistant" {
			if tcs, ok := msg["tool_calls"].([]any); ok {
				for _, tc := range tcs {
					tcm, ok := tc.(map[string]any)
					if !ok {
						continue
					}
					id, _ := tcm["id"].(string)
					fn, _ := tcm["function"].(map[string]any)
					name, _ := fn["name"].(string)
					if id != "" && name != "" {
						idToName[id] = name
					}
				}
			}
		}
		if role, _ := msg["role"].(string); role == "tool" {
			if id, _ := msg["tool_call_id"].(string); id != "" {
				if name, ok := idToName[id]; ok {
					msg["name"] = name
				}
			}
		}
	}
	return messages
}

func (f *Filter) repairTools(tools []any) []any {
	out := make([]any, 0, len(tools))
	seen := map[string]bool{}
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
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		if params, ok := fn["parameters"].(string); ok {
			var obj map[string]any
			if err := json.Unmarshal([]byte(params), &obj); err == nil {
				fn["parameters"] = obj
			} else {
				fn["parameters"] = map[string]any{}
			}
		} else if fn["parameters"] == nil {
			fn["parameters"] = map[string]any{}
		}

		if f.cfg.StripStrict {
			delete(fn, "strict")
		}

		if f.cfg.ShellToolFix && name == "shell" {
			fixShellToolCommandShape(fn)
		}

		out = append(out, tm)
	}
	return out
}

func fixShellToolCommandShape(fn map[string]any) {
	params, ok := fn["parameters"].(map[string]any)
	if !ok {
		return
	}
	props, ok := params["properties"].(map[string]any)
	if !ok {
		return
	}
	if cmd, ok := props["command"].(map[string]any); ok {
		if t, _ := cmd["type"].(string); t != "array" {
			props["command"] = map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			}
		}
	}
}

var finishReasonAliases = map[string]string{
	"tool_calls": "tool_calls",
	"stop":       "stop",
	"length":     "length",
	"max_tokens": "length",
	"end_turn":   "stop",
}

func normalizeUsage(usage map[string]any) map[string]any {
	if v, ok := usage["input_tokens"]; ok {
		usage["prompt_tokens"] = v
		delete(usage, "input_tokens")
	}
	if v, ok := usage["output_tokens"]; ok {
		usage["completion_tokens"] = v
		delete(usage, "output_tokens")
	}
	if _, ok := usage["total_tokens"]; !ok {
		pt, _ := usage["prompt_tokens"].(float64)
		ct, _ := usage["completion_tokens"].(float64)
		usage["total_tokens"] = pt + ct
	}
	return usage
}

func normalizeChoices(choices []any, argsAsString bool) []any {
	for _, c := range choices {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if fr, ok := cm["finish_reason"].(string); ok {
			if alias, ok := finishReasonAliases[fr]; ok {
				cm["finish_reason"] = alias
			}
		}
		if msg, ok := cm["message"].(map[string]any); ok {
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
					fn["arguments"] = normalizeArguments(fn["arguments"], argsAsString)
				}
			}
		}
	}
	return choices
}
