package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/auth"
	"github.com/BaSui01/agentflow/llm/codec"
	"github.com/BaSui01/agentflow/llm/compat"
	"github.com/BaSui01/agentflow/llm/vrouter"
	"github.com/BaSui01/agentflow/llm/workflow"
)

// Pipeline is the fully assembled per-Target stage chain: LLMSwitch ->
// Workflow -> Compatibility -> Provider (spec §4.4).
type Pipeline struct {
	codec    codec.Codec
	workflow *workflow.Workflow
}

// Execute runs one client-shaped payload through the complete pipeline,
// returning either a complete client-shaped response or a stream of
// client-protocol events, matching workflow.Workflow.Execute's shape.
func (p *Pipeline) Execute(ctx context.Context, clientPayload codec.Payload) (codec.Payload, <-chan codec.StreamEvent, error) {
	providerPayload, err := p.codec.ConvertRequest(ctx, clientPayload)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: convert request: %w", err)
	}

	resp, stream, err := p.workflow.Execute(ctx, providerPayload)
	if err != nil {
		return nil, nil, err
	}

	if stream != nil {
		return nil, translateStream(ctx, p.codec, stream), nil
	}

	clientResp, err := p.codec.ConvertResponse(ctx, resp)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: convert response: %w", err)
	}
	return clientResp, nil, nil
}

// translateStream runs each upstream event through the codec's stateful
// stream translator, fanning out zero or more client-protocol events per
// upstream event (tool-call argument accumulation happens inside the codec).
func translateStream(ctx context.Context, c codec.Codec, upstream <-chan codec.StreamEvent) <-chan codec.StreamEvent {
	out := make(chan codec.StreamEvent, 16)
	go func() {
		defer close(out)
		for ev := range upstream {
			translated, err := c.ConvertResponseStream(ctx, ev)
			if err != nil {
				out <- codec.StreamEvent{Data: codec.Payload{"error": map[string]any{"message": err.Error()}}}
				return
			}
			for _, t := range translated {
				out <- t
			}
		}
	}()
	return out
}

// moduleKey identifies a cached pipeline module instance (spec §4.4:
// "Module instances are keyed by (type, providerFamily, configHash) and
// reused across requests").
type moduleKey struct {
	kind           string
	providerFamily vrouter.Family
	configHash     string
}

// Assembler lazily builds and caches Pipelines per Target, plus the
// underlying Compatibility/Provider module instances they're built from.
type Assembler struct {
	registry   *codec.Registry
	tokenStore auth.TokenStore
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	pipelines map[string]*Pipeline // entry protocol + RuntimeKey -> Pipeline
	invokers  map[moduleKey]workflow.Invoker
}

func NewAssembler(tokenStore auth.TokenStore, httpClient *http.Client, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Assembler{
		registry:   codec.NewRegistry(),
		tokenStore: tokenStore,
		httpClient: httpClient,
		logger:     logger,
		pipelines:  map[string]*Pipeline{},
		invokers:   map[moduleKey]workflow.Invoker{},
	}
}

// Assemble returns the cached Pipeline for this entry protocol and Target, building it (and any
// missing underlying module instances) on first use.
func (a *Assembler) Assemble(ctx context.Context, entry vrouter.Protocol, desc *vrouter.ProviderDescriptor, target vrouter.Target, compatCfg compat.FamilyConfig) (*Pipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cacheKey := string(entry) + "|" + target.RuntimeKey()
	if p, ok := a.pipelines[cacheKey]; ok {
		return p, nil
	}

	pair := codec.Pair{Entry: entry, Provider: target.ProviderProto}
	c, ok := a.registry.New(pair)
	if !ok {
		return nil, fmt.Errorf("pipeline: no codec registered for %s -> %s", pair.Entry, pair.Provider)
	}

	invoker, err := a.invokerFor(ctx, desc, target, compatCfg)
	if err != nil {
		return nil, err
	}

	wf := workflow.New(invoker, a.logger)
	p := &Pipeline{codec: c, workflow: wf}
	a.pipelines[cacheKey] = p
	return p, nil
}

// invokerFor returns the cached Compatibility(Provider) invoker for a
// (providerFamily, keyAlias) pair, building it on first use. Keyed on
// family+alias rather than full Target so models sharing one provider/key
// binding reuse a single Provider instance instead of one per model.
func (a *Assembler) invokerFor(ctx context.Context, desc *vrouter.ProviderDescriptor, target vrouter.Target, compatCfg compat.FamilyConfig) (workflow.Invoker, error) {
	key := moduleKey{kind: "compat+provider", providerFamily: desc.Family, configHash: desc.ID + "." + target.KeyAlias}
	if inv, ok := a.invokers[key]; ok {
		return inv, nil
	}

	binding, ok := desc.Keys[target.KeyAlias]
	if !ok {
		return nil, fmt.Errorf("pipeline: provider %q has no key binding %q", desc.ID, target.KeyAlias)
	}

	p, err := buildProvider(ctx, desc, binding, a.tokenStore, a.httpClient, a.logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: building provider for %q/%q: %w", desc.ID, target.KeyAlias, err)
	}

	inv := newCompatInvoker(compat.NewFilter(compatCfg), newProviderInvoker(p))
	a.invokers[key] = inv
	return inv, nil
}
