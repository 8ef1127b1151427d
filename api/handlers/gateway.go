package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/codec"
	"github.com/BaSui01/agentflow/llm/compat"
	"github.com/BaSui01/agentflow/llm/embedding"
	"github.com/BaSui01/agentflow/llm/pipeline"
	"github.com/BaSui01/agentflow/llm/vrouter"
)

// =============================================================================
// 🌐 多协议 LLM 路由网关 Handler
// =============================================================================

// gatewayRoute binds one of spec §6's six entry endpoints to the wire
// protocol it speaks, satisfying vrouter.EndpointClassifier.
type gatewayRoute struct {
	protocol vrouter.Protocol
}

var gatewayRoutes = map[string]gatewayRoute{
	"/v1/chat/completions": {protocol: vrouter.ProtocolOpenAIChat},
	"/v1/completions":      {protocol: vrouter.ProtocolOpenAIChat}, // legacy completions normalized to chat shape by the client adapter
	"/v1/messages":         {protocol: vrouter.ProtocolAnthropicMsgs},
	"/v1/responses":        {protocol: vrouter.ProtocolOpenAIResponses},
}

// routeTable is the EndpointClassifier the engine consults; embeddings and
// models are not LLM-switch-routed (they bypass the codec/workflow/compat
// chain entirely) so they aren't in gatewayRoutes.
type routeTable struct{}

func (routeTable) ProtocolForEndpoint(endpoint string) (vrouter.Protocol, bool) {
	r, ok := gatewayRoutes[endpoint]
	return r.protocol, ok
}

// GatewayHandler is the HttpFrontend of spec §6: it routes every request
// through the VirtualRouterEngine to a Target, assembles that Target's
// pipeline, and runs the request through it end to end.
type GatewayHandler struct {
	engine    *vrouter.VirtualRouterEngine
	doc       *vrouter.RoutingDocument
	assembler *pipeline.Assembler
	embedder  embedding.Provider // optional: nil disables /v1/embeddings
	logger    *zap.Logger
}

func NewGatewayHandler(engine *vrouter.VirtualRouterEngine, doc *vrouter.RoutingDocument, assembler *pipeline.Assembler, embedder embedding.Provider, logger *zap.Logger) *GatewayHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayHandler{engine: engine, doc: doc, assembler: assembler, embedder: embedder, logger: logger}
}

// RouteTable exposes the endpoint->protocol map so callers wire the same
// table into NewVirtualRouterEngine's EndpointClassifier argument.
func RouteTable() vrouter.EndpointClassifier { return routeTable{} }

func (h *GatewayHandler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "/v1/chat/completions")
}

func (h *GatewayHandler) HandleLegacyCompletions(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "/v1/completions")
}

func (h *GatewayHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "/v1/messages")
}

func (h *GatewayHandler) HandleResponses(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "/v1/responses")
}

// HandleEmbeddings serves /v1/embeddings directly against the configured
// embedding provider: embeddings don't participate in LLMSwitch/Workflow/
// Compatibility routing, so this bypasses the pipeline entirely.
func (h *GatewayHandler) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	w.Header().Set("X-Request-Id", requestID)

	if h.embedder == nil {
		writeGatewayError(w, http.StatusNotImplemented, "invalid_request_error", "embeddings are not configured", requestID)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req embedding.EmbeddingRequest
	if r.Body == nil {
		writeGatewayError(w, http.StatusBadRequest, "invalid_request_error", errEmptyBody.Error(), requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body", requestID)
		return
	}

	resp, err := h.embedder.Embed(r.Context(), &req)
	if err != nil {
		writeGatewayError(w, http.StatusBadGateway, "upstream_error", err.Error(), requestID)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleListModels serves /v1/models from the routing document's static
// model catalog — no upstream call needed, every model a Target could
// resolve to is already known at config-load time.
func (h *GatewayHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFor(r)
	w.Header().Set("X-Request-Id", requestID)

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	var models []modelEntry
	for _, desc := range h.doc.Providers {
		for id := range desc.Models {
			models = append(models, modelEntry{ID: id, Object: "model", OwnedBy: string(desc.Family)})
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"object": "list", "data": models})
}

// HandleGetModel serves /v1/models/:id, looking the id up across every
// configured provider's model catalog.
func (h *GatewayHandler) HandleGetModel(w http.ResponseWriter, r *http.Request, modelID string) {
	requestID := requestIDFor(r)
	w.Header().Set("X-Request-Id", requestID)

	for _, desc := range h.doc.Providers {
		if caps, ok := desc.Models[modelID]; ok {
			WriteJSON(w, http.StatusOK, map[string]any{
				"id": modelID, "object": "model", "owned_by": string(desc.Family),
				"max_input_tokens": caps.MaxInputTokens, "max_output_tokens": caps.MaxOutputTokens,
				"supports_tools": caps.SupportsTools, "supports_vision": caps.SupportsVision,
			})
			return
		}
	}
	writeGatewayError(w, http.StatusNotFound, "invalid_request_error", "model not found: "+modelID, requestID)
}

// handle is the shared body of the four LLM-switch-routed endpoints: decode,
// route, assemble, execute, write — spec §6's common request lifecycle.
func (h *GatewayHandler) handle(w http.ResponseWriter, r *http.Request, endpoint string) {
	requestID := requestIDFor(r)
	w.Header().Set("X-Request-Id", requestID)

	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var payload codec.Payload
	if err := decodeGatewayPayload(w, r, &payload, requestID, h.logger); err != nil {
		return
	}

	sessionID := r.Header.Get("X-Session-Id")
	result, err := h.engine.Route(r.Context(), vrouter.RouteRequest{
		Endpoint:       endpoint,
		SessionID:      sessionID,
		LastUserText:   lastUserText(payload),
		ClassifyFields: classifyFieldsFor(payload),
	})
	if err != nil {
		writeGatewayError(w, h.routingErrorStatus(err), "invalid_request_error", err.Error(), requestID)
		return
	}

	desc, ok := h.doc.Providers[result.Target.ProviderID]
	if !ok {
		writeGatewayError(w, http.StatusInternalServerError, "internal_error", "selected provider is not configured", requestID)
		return
	}

	entryProtocol := gatewayRoutes[endpoint].protocol
	compatCfg := compat.DefaultFamilyConfig(string(desc.Family))

	p, err := h.assembler.Assemble(r.Context(), entryProtocol, desc, result.Target, compatCfg)
	if err != nil {
		writeGatewayError(w, http.StatusInternalServerError, "internal_error", err.Error(), requestID)
		return
	}

	if applyStrippedText(payload, result.StrippedText) {
		h.logger.Debug("gateway: forwarded prompt with routing directives stripped", zap.String("request_id", requestID))
	}

	resp, stream, err := p.Execute(r.Context(), payload)
	if err != nil {
		writeGatewayError(w, http.StatusBadGateway, "upstream_error", err.Error(), requestID)
		return
	}

	if stream != nil {
		h.writeStream(w, stream, requestID)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *GatewayHandler) routingErrorStatus(err error) int {
	var unsupported *vrouter.UnsupportedEndpointError
	var noHealthy *vrouter.NoHealthyTargetError
	switch {
	case errors.As(err, &unsupported):
		return http.StatusNotFound
	case errors.As(err, &noHealthy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (h *GatewayHandler) writeStream(w http.ResponseWriter, stream <-chan codec.StreamEvent, requestID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeGatewayError(w, http.StatusInternalServerError, "internal_error", "streaming not supported", requestID)
		return
	}
	w.WriteHeader(http.StatusOK)

	for ev := range stream {
		if ev.Event != "" {
			w.Write([]byte("event: " + ev.Event + "\n"))
		}
		if ev.Raw != nil {
			w.Write([]byte("data: "))
			w.Write(ev.Raw)
			w.Write([]byte("\n\n"))
		} else {
			w.Write([]byte("data: "))
			_ = json.NewEncoder(w).Encode(ev.Data)
			w.Write([]byte("\n"))
		}
		flusher.Flush()
	}
}

// decodeGatewayPayload reads the request body into a generic codec.Payload
// (the pipeline's tagged-union JSON shape) rather than a fixed struct,
// since the wire shape varies by entry endpoint.
func decodeGatewayPayload(w http.ResponseWriter, r *http.Request, dst *codec.Payload, requestID string, logger *zap.Logger) error {
	if r.Body == nil {
		err := errEmptyBody
		writeGatewayError(w, http.StatusBadRequest, "invalid_request_error", err.Error(), requestID)
		return err
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeGatewayError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body", requestID)
		return err
	}
	return nil
}

func requestIDFor(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// lastUserText finds the content of the last user-role message, the text
// the directive parser and classifier's contextual inference inspect.
func lastUserText(payload codec.Payload) string {
	messages, _ := payload["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "user" {
			if content, ok := msg["content"].(string); ok {
				return content
			}
		}
	}
	return ""
}

// applyStrippedText rewrites the last user message's content in place with
// the directive-stripped text, returning true if a rewrite happened.
func applyStrippedText(payload codec.Payload, stripped string) bool {
	if stripped == "" {
		return false
	}
	messages, _ := payload["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "user" {
			if _, ok := msg["content"].(string); ok {
				msg["content"] = stripped
				return true
			}
			return false
		}
	}
	return false
}

func classifyFieldsFor(payload codec.Payload) vrouter.ClassifyFields {
	model, _ := payload["model"].(string)
	fields := vrouter.ClassifyFields{Model: model}

	if messages, ok := payload["messages"].([]any); ok {
		var chars int
		for _, m := range messages {
			if msg, ok := m.(map[string]any); ok {
				if c, ok := msg["content"].(string); ok {
					chars += len(c)
				}
			}
		}
		fields.TokenCount = chars / 4
	}

	if tools, ok := payload["tools"].([]any); ok {
		fields.HasTools = len(tools) > 0
		for _, t := range tools {
			if tm, ok := t.(map[string]any); ok {
				if fn, ok := tm["function"].(map[string]any); ok {
					if name, ok := fn["name"].(string); ok {
						fields.ToolTypes = append(fields.ToolTypes, name)
					}
				}
			}
		}
	}

	if thinking, ok := payload["thinking"]; ok {
		fields.HasThinking = thinking != nil
	}
	if strings.Contains(model, "thinking") {
		fields.HasThinking = true
	}

	return fields
}

// writeGatewayError writes spec §6's error envelope, distinct from the
// {success,data,error} Response shape the legacy single-provider handlers
// use.
func writeGatewayError(w http.ResponseWriter, status int, errType, message, requestID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    status,
			"param":   nil,
			"details": map[string]any{"requestId": requestID},
		},
	})
}

type gatewayError string

func (e gatewayError) Error() string { return string(e) }

const errEmptyBody = gatewayError("request body is empty")
