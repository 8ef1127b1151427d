package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentflow/llm/compat"
	"github.com/BaSui01/agentflow/llm/vrouter"
)

func TestAssembleReusesPipelineAndProviderAcrossCalls(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "resp-1",
			"model": "test-model",
			"choices": []any{
				map[string]any{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "hi"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	desc := &vrouter.ProviderDescriptor{
		ID:      "testprov",
		Family:  "customfam",
		BaseURL: srv.URL,
		Keys: map[string]vrouter.KeyBinding{
			"default": {Alias: "default", ApiKeyLiteral: "sk-test"},
		},
	}
	target := vrouter.Target{
		ProviderID:     desc.ID,
		ModelID:        "test-model",
		KeyAlias:       "default",
		ProviderFamily: desc.Family,
		ProviderProto:  vrouter.ProtocolOpenAIChat,
	}

	asm := NewAssembler(nil, nil, nil)
	compatCfg := compat.DefaultFamilyConfig(string(desc.Family))

	p1, err := asm.Assemble(context.Background(), vrouter.ProtocolOpenAIChat, desc, target, compatCfg)
	require.NoError(t, err)
	p2, err := asm.Assemble(context.Background(), vrouter.ProtocolOpenAIChat, desc, target, compatCfg)
	require.NoError(t, err)
	assert.Same(t, p1, p2, "pipeline must be cached per Target")

	resp, stream, err := p1.Execute(context.Background(), map[string]any{
		"model":    "test-model",
		"messages": []any{map[string]any{"role": "user", "content": "hello"}},
	})
	require.NoError(t, err)
	assert.Nil(t, stream)
	assert.Equal(t, "resp-1", resp["id"])

	_, _, err = p1.Execute(context.Background(), map[string]any{
		"model":    "test-model",
		"messages": []any{map[string]any{"role": "user", "content": "hello again"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "provider instance must be reused, not rebuilt per call")
}

func TestAssembleUnknownCodecPairErrors(t *testing.T) {
	desc := &vrouter.ProviderDescriptor{
		ID:     "testprov",
		Family: "customfam",
		Keys: map[string]vrouter.KeyBinding{
			"default": {Alias: "default", ApiKeyLiteral: "sk-test"},
		},
	}
	target := vrouter.Target{
		ProviderID:    desc.ID,
		KeyAlias:      "default",
		ProviderProto: vrouter.Protocol("nonexistent-protocol"),
	}

	asm := NewAssembler(nil, nil, nil)
	_, err := asm.Assemble(context.Background(), vrouter.ProtocolOpenAIChat, desc, target, compat.DefaultFamilyConfig("customfam"))
	require.Error(t, err)
}

func TestAssembleMissingKeyBindingErrors(t *testing.T) {
	desc := &vrouter.ProviderDescriptor{
		ID:     "testprov",
		Family: "customfam",
		Keys:   map[string]vrouter.KeyBinding{},
	}
	target := vrouter.Target{
		ProviderID:    desc.ID,
		KeyAlias:      "missing",
		ProviderProto: vrouter.ProtocolOpenAIChat,
	}

	asm := NewAssembler(nil, nil, nil)
	_, err := asm.Assemble(context.Background(), vrouter.ProtocolOpenAIChat, desc, target, compat.DefaultFamilyConfig("customfam"))
	require.Error(t, err)
}
