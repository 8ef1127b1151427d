package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessRequestNormalizesUnknownRole(t *testing.T) {
	f := NewFilter(DefaultFamilyConfig("openai"))
	out, err := f.ProcessRequest(map[string]any{
		"model": "gpt-4",
		"messages": []any{
			map[string]any{"role": "weird", "content": "hi"},
		},
	})
	require.NoError(t, err)
	msgs := out["messages"].([]any)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestProcessRequestEmptyToolContentFailsFast(t *testing.T) {
	f := NewFilter(DefaultFamilyConfig("openai"))
	_, err := f.ProcessRequest(map[string]any{
		"messages": []any{
			map[string]any{"role": "tool", "content": "", "tool_call_id": "x"},
		},
	})
	require.Error(t, err)
	var ferr *FilterError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, ErrCompatToolTextEmpty, ferr.Code)
}

func TestGLMShellToolRepairStripsStrictAndFixesCommandShape(t *testing.T) {
	cfg := DefaultFamilyConfig("glm")
	cfg.StripStrict = true
	cfg.ShellToolFix = true
	f := NewFilter(cfg)

	out, err := f.ProcessRequest(map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "run ls"}},
		"tools": []any{
			map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":   "shell",
					"strict": true,
					"parameters": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"command": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	})
	require.NoError(t, err)

	tools := out["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	_, hasStrict := fn["strict"]
	assert.False(t, hasStrict)

	params := fn["parameters"].(map[string]any)
	props := params["properties"].(map[string]any)
	cmd := props["command"].(map[string]any)
	assert.Equal(t, "array", cmd["type"])
}

func TestDropToolChoiceWhenNoTools(t *testing.T) {
	f := NewFilter(DefaultFamilyConfig("openai"))
	out, err := f.ProcessRequest(map[string]any{
		"messages":    []any{map[string]any{"role": "user", "content": "hi"}},
		"tool_choice": "auto",
	})
	require.NoError(t, err)
	_, has := out["tool_choice"]
	assert.False(t, has)
}

func TestResponseUsageAliasingAndFinishReason(t *testing.T) {
	cfg := DefaultFamilyConfig("anthropic")
	cfg.ResponseBypass = false
	f := NewFilter(cfg)

	out := f.ProcessResponse(map[string]any{
		"usage": map[string]any{"input_tokens": float64(10), "output_tokens": float64(5)},
		"choices": []any{
			map[string]any{"finish_reason": "end_turn", "message": map[string]any{}},
		},
		"created_at": float64(123),
	})

	usage := out["usage"].(map[string]any)
	assert.Equal(t, float64(10), usage["prompt_tokens"])
	assert.Equal(t, float64(5), usage["completion_tokens"])
	assert.Equal(t, float64(15), usage["total_tokens"])

	choices := out["choices"].([]any)
	assert.Equal(t, "stop", choices[0].(map[string]any)["finish_reason"])
	assert.Equal(t, float64(123), out["created"])
}

func TestResponseBypassSkipsFiltering(t *testing.T) {
	f := NewFilter(DefaultFamilyConfig("responses"))
	in := map[string]any{"created_at": float64(1)}
	out := f.ProcessResponse(in)
	_, hasCreated := out["created"]
	assert.False(t, hasCreated)
}
