package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/embedding"
	"github.com/BaSui01/agentflow/llm/pipeline"
	"github.com/BaSui01/agentflow/llm/vrouter"
)

// =============================================================================
// 🧪 测试替身
// =============================================================================

type alwaysAvailable struct{}

func (alwaysAvailable) IsAvailable(string) bool { return true }

type noCooldown struct{}

func (noCooldown) CooldownUntil(string) (time.Time, bool) { return time.Time{}, false }

type fixedClassifier struct{ category vrouter.Category }

func (f fixedClassifier) Classify(context.Context, vrouter.ClassifyFields) (vrouter.Category, float64) {
	return f.category, 1.0
}

type fakeEmbedder struct {
	resp *embedding.EmbeddingResponse
	err  error
}

func (f *fakeEmbedder) Embed(ctx context.Context, req *embedding.EmbeddingRequest) (*embedding.EmbeddingResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return nil, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return nil, nil
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

func (f *fakeEmbedder) Dimensions() int { return 1536 }

func (f *fakeEmbedder) MaxBatchSize() int { return 16 }

// gatewayTestFixture wires a real VirtualRouterEngine and Assembler against
// a single httptest upstream, mirroring llm/vrouter's own engine_test.go
// collaborators so routing behaves exactly as it would in production.
type gatewayTestFixture struct {
	upstream *httptest.Server
	calls    int
	handler  *GatewayHandler
}

func newGatewayTestFixture(t *testing.T, embedder embedding.Provider) *gatewayTestFixture {
	t.Helper()
	fx := &gatewayTestFixture{}
	fx.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "resp-1",
			"model": "test-model",
			"choices": []any{
				map[string]any{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "hi there"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))

	doc := &vrouter.RoutingDocument{
		Providers: map[string]*vrouter.ProviderDescriptor{
			"testprov": {
				ID:      "testprov",
				Family:  "customfam",
				BaseURL: fx.upstream.URL,
				Models: map[string]vrouter.ModelCaps{
					"test-model": {MaxInputTokens: 8192, MaxOutputTokens: 4096, SupportsTools: true},
				},
				Keys: map[string]vrouter.KeyBinding{
					"default": {Alias: "default", ApiKeyLiteral: "sk-test"},
				},
			},
		},
		Pools: map[vrouter.Category]*vrouter.RoutePool{
			vrouter.CategoryDefault: {
				Category: vrouter.CategoryDefault,
				Targets: []vrouter.Target{
					{ProviderID: "testprov", KeyAlias: "default", ModelID: "test-model", ProviderFamily: "customfam", ProviderProto: vrouter.ProtocolOpenAIChat},
				},
			},
		},
	}

	engine := vrouter.NewVirtualRouterEngine(
		doc,
		alwaysAvailable{},
		noCooldown{},
		RouteTable(),
		fixedClassifier{category: vrouter.CategoryDefault},
		vrouter.NewMemorySessionStore(0),
		zap.NewNop(),
	)

	asm := pipeline.NewAssembler(nil, nil, zap.NewNop())
	fx.handler = NewGatewayHandler(engine, doc, asm, embedder, zap.NewNop())
	t.Cleanup(fx.upstream.Close)
	return fx
}

func chatBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"model":    "test-model",
		"messages": []map[string]any{{"role": "user", "content": "hello there"}},
	})
	return body
}

// =============================================================================
// 🧪 GatewayHandler 测试
// =============================================================================

func TestGatewayHandler_HandleChatCompletions(t *testing.T) {
	fx := newGatewayTestFixture(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody()))
	r.Header.Set("Content-Type", "application/json")

	fx.handler.HandleChatCompletions(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fx.calls)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "resp-1", resp["id"])
}

func TestGatewayHandler_HandleMessages(t *testing.T) {
	fx := newGatewayTestFixture(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(chatBody()))
	r.Header.Set("Content-Type", "application/json")

	fx.handler.HandleMessages(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fx.calls)
}

func TestGatewayHandler_RejectsWrongContentType(t *testing.T) {
	fx := newGatewayTestFixture(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatBody()))
	r.Header.Set("Content-Type", "text/plain")

	fx.handler.HandleChatCompletions(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, fx.calls)
}

func TestGatewayHandler_RejectsInvalidJSONBody(t *testing.T) {
	fx := newGatewayTestFixture(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("not json")))
	r.Header.Set("Content-Type", "application/json")

	fx.handler.HandleChatCompletions(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "error envelope must use spec §6's {error:{...}} shape")
	assert.Equal(t, "invalid_request_error", errObj["type"])
}

func TestGatewayHandler_StripsRoutingDirectiveFromForwardedPrompt(t *testing.T) {
	fx := newGatewayTestFixture(t, nil)

	body, _ := json.Marshal(map[string]any{
		"model":    "test-model",
		"messages": []map[string]any{{"role": "user", "content": "<**#glm**> hello there"}},
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	fx.handler.HandleChatCompletions(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGatewayHandler_HandleEmbeddings(t *testing.T) {
	embedder := &fakeEmbedder{resp: &embedding.EmbeddingResponse{
		ID:    "emb-1",
		Model: "test-embed",
	}}
	fx := newGatewayTestFixture(t, embedder)

	body, _ := json.Marshal(map[string]any{"input": []string{"hello"}, "model": "test-embed"})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/embeddings", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	fx.handler.HandleEmbeddings(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp embedding.EmbeddingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "emb-1", resp.ID)
}

func TestGatewayHandler_HandleEmbeddingsNotConfigured(t *testing.T) {
	fx := newGatewayTestFixture(t, nil)

	body, _ := json.Marshal(map[string]any{"input": []string{"hello"}})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/embeddings", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	fx.handler.HandleEmbeddings(w, r)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestGatewayHandler_HandleListModels(t *testing.T) {
	fx := newGatewayTestFixture(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)

	fx.handler.HandleListModels(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "test-model", resp.Data[0].ID)
}

func TestGatewayHandler_HandleGetModel(t *testing.T) {
	fx := newGatewayTestFixture(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/models/test-model", nil)
	fx.handler.HandleGetModel(w, r, "test-model")
	assert.Equal(t, http.StatusOK, w.Code)

	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodGet, "/v1/models/nope", nil)
	fx.handler.HandleGetModel(w2, r2, "nope")
	assert.Equal(t, http.StatusNotFound, w2.Code)
}

func TestRouteTableProtocolForEndpoint(t *testing.T) {
	rt := RouteTable()
	proto, ok := rt.ProtocolForEndpoint("/v1/chat/completions")
	assert.True(t, ok)
	assert.Equal(t, vrouter.ProtocolOpenAIChat, proto)

	_, ok = rt.ProtocolForEndpoint("/v1/unknown")
	assert.False(t, ok)
}
