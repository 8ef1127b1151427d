package vrouter

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HealthProvider reports per-target availability. Satisfied by
// llm/rhealth.HealthManager; declared here so vrouter depends only on the
// behavior it needs (accept interfaces, return structs).
type HealthProvider interface {
	IsAvailable(runtimeKey string) bool
}

// RateLimitProvider reports whether a target is currently cooling down.
// Satisfied by llm/rhealth.RateLimitManager.
type RateLimitProvider interface {
	CooldownUntil(runtimeKey string) (time.Time, bool)
}

// EndpointClassifier maps an entry endpoint path to the protocol it speaks
// and tells the engine whether it recognizes the endpoint at all. Satisfied
// by the HttpFrontend's route table.
type EndpointClassifier interface {
	ProtocolForEndpoint(endpoint string) (Protocol, bool)
}

// CategoryClassifier maps a request's fields to a routing category.
// Satisfied by llm/classify.Classifier.
type CategoryClassifier interface {
	Classify(ctx context.Context, fields ClassifyFields) (Category, float64)
}

// ClassifyFields is the subset of a request the classifier inspects. Kept
// here (rather than importing llm.ChatRequest) so vrouter has no dependency
// on the wire-level package; the pipeline assembler does the projection.
type ClassifyFields struct {
	Model        string
	TokenCount   int
	HasTools     bool
	HasThinking  bool
	ToolTypes    []string
}

// RouteRequest is the input to VirtualRouterEngine.Route.
type RouteRequest struct {
	Endpoint       string
	SessionID      string
	LastUserText   string
	ClassifyFields ClassifyFields
}

// RouteResult is the successful output of Route: the selected target, its
// resolved category, directives applied this turn, and the stripped prompt
// text (directives removed) the caller should forward upstream.
type RouteResult struct {
	Target          Target
	Category        Category
	StrippedText    string
	DirectiveErrors []error
	Drift           []string // human-readable notes about ignored forced/sticky targets
}

// VirtualRouterEngine selects a concrete Target for a classified request,
// honoring health, cooldowns, session stickiness, and in-band directives
// (spec §4.2).
type VirtualRouterEngine struct {
	doc        *RoutingDocument
	health     HealthProvider
	rateLimit  RateLimitProvider
	endpoints  EndpointClassifier
	classifier CategoryClassifier
	sessions   SessionStore
	logger     *zap.Logger

	rotation map[Category]*atomic.Uint64
}

// NewVirtualRouterEngine wires the engine's collaborators. doc may be
// swapped later via SetDocument for hot reload (RoutePools/Descriptors are
// read-mostly per spec §5; reconfiguration swaps them atomically).
func NewVirtualRouterEngine(
	doc *RoutingDocument,
	health HealthProvider,
	rateLimit RateLimitProvider,
	endpoints EndpointClassifier,
	classifier CategoryClassifier,
	sessions SessionStore,
	logger *zap.Logger,
) *VirtualRouterEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &VirtualRouterEngine{
		doc:        doc,
		health:     health,
		rateLimit:  rateLimit,
		endpoints:  endpoints,
		classifier: classifier,
		sessions:   sessions,
		logger:     logger,
		rotation:   map[Category]*atomic.Uint64{},
	}
	for c := range doc.Pools {
		e.rotation[c] = &atomic.Uint64{}
	}
	return e
}

// SetDocument atomically swaps the routing document (hot reload).
func (e *VirtualRouterEngine) SetDocument(doc *RoutingDocument) {
	rotation := map[Category]*atomic.Uint64{}
	for c := range doc.Pools {
		if old, ok := e.rotation[c]; ok {
			rotation[c] = old
		} else {
			rotation[c] = &atomic.Uint64{}
		}
	}
	e.doc = doc
	e.rotation = rotation
}

// Route implements the 6-step selection algorithm of spec §4.2.
func (e *VirtualRouterEngine) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	if _, ok := e.endpoints.ProtocolForEndpoint(req.Endpoint); !ok {
		return nil, &UnsupportedEndpointError{Endpoint: req.Endpoint}
	}

	// Step 1: parse in-band directives and apply to session state.
	directives, derrs := ParseDirectives(req.LastUserText)
	strippedText := StripDirectives(req.LastUserText)

	var state *SessionRoutingState
	if req.SessionID != "" {
		state = e.sessions.GetOrCreate(req.SessionID)
	} else {
		state = newSessionRoutingState()
	}
	e.applyDirectives(state, directives)

	result := &RouteResult{StrippedText: strippedText, DirectiveErrors: derrs}

	// Fully-qualified !provider.key.model directives skip classification.
	var forcedFullyQualified *Target
	if state.ForcedTarget != nil && state.ForcedTarget.KeyAlias != "" && state.ForcedTarget.ModelID != "" {
		forcedFullyQualified = state.ForcedTarget
	}

	var category Category
	if forcedFullyQualified == nil {
		// Step 2: classify.
		category, _ = e.classifier.Classify(ctx, req.ClassifyFields)
	} else {
		category = CategoryDefault
	}
	result.Category = category

	pool := e.doc.PoolFor(category)
	if pool == nil || len(pool.Targets) == 0 {
		return nil, &NoHealthyTargetError{Category: category}
	}

	// Step 3: candidate list.
	candidates := e.candidates(pool, state)
	if len(candidates) == 0 {
		return nil, &NoHealthyTargetError{Category: category}
	}

	// Step 4: forced/sticky selection takes precedence if eligible.
	if t, ok := e.findEligible(candidates, state.ForcedTarget); ok {
		result.Target = t
		return result, nil
	} else if state.ForcedTarget != nil {
		result.Drift = append(result.Drift, "forced target not in candidate list, falling back to rotation")
	}
	if t, ok := e.findEligible(candidates, state.StickyTarget); ok {
		result.Target = t
		return result, nil
	} else if state.StickyTarget != nil {
		result.Drift = append(result.Drift, "sticky target not in candidate list, falling back to rotation")
	}
	if t, ok := e.findEligible(candidates, state.PreferTarget); ok {
		result.Target = t
		return result, nil
	}

	// Step 5/6: round-robin rotation among candidates.
	t, err := e.rotate(category, candidates)
	if err != nil {
		return nil, err
	}
	result.Target = t
	return result, nil
}

func (e *VirtualRouterEngine) applyDirectives(state *SessionRoutingState, directives []Directive) {
	for _, d := range directives {
		switch d.Verb {
		case VerbClear:
			*state = *newSessionRoutingState()
		case VerbForce:
			t := Target{ProviderID: d.ProviderID, KeyAlias: d.KeyAlias, ModelID: d.Model}
			e.fillFamily(&t)
			state.ForcedTarget = &t
		case VerbSticky:
			t := Target{ProviderID: d.ProviderID, KeyAlias: d.KeyAlias, ModelID: d.Model}
			e.fillFamily(&t)
			state.StickyTarget = &t
		case VerbDisable:
			state.applyDisable(d)
		case VerbStopMessage:
			state.StopMessage = &StopMessage{Text: d.StopMessageText, MaxRepeats: 1, UpdatedAt: time.Now()}
		case VerbClearStopMessage:
			state.StopMessage = nil
		}
	}
	state.UpdatedAt = time.Now()
}

func (e *VirtualRouterEngine) fillFamily(t *Target) {
	if desc, ok := e.doc.Providers[t.ProviderID]; ok {
		t.ProviderFamily = desc.Family
		t.ProviderProto = desc.Protocol()
	}
}

// candidates builds the step-3 eligible list: pool targets minus
// session-disabled providers/keys/models, minus HealthState-disabled (with
// recoveryAt unexpired) targets, minus targets under active cooldown.
func (e *VirtualRouterEngine) candidates(pool *RoutePool, state *SessionRoutingState) []Target {
	out := make([]Target, 0, len(pool.Targets))
	for _, t := range pool.Targets {
		if state.isDisabled(t) {
			continue
		}
		key := t.RuntimeKey()
		if e.health != nil && !e.health.IsAvailable(key) {
			continue
		}
		if e.rateLimit != nil {
			if until, cooling := e.rateLimit.CooldownUntil(key); cooling && time.Now().Before(until) {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func (e *VirtualRouterEngine) findEligible(candidates []Target, want *Target) (Target, bool) {
	if want == nil {
		return Target{}, false
	}
	for _, c := range candidates {
		if c.ProviderID != want.ProviderID {
			continue
		}
		if want.KeyAlias != "" && c.KeyAlias != want.KeyAlias {
			continue
		}
		if want.ModelID != "" && c.ModelID != want.ModelID {
			continue
		}
		return c, true
	}
	return Target{}, false
}

// rotate advances the per-category atomic counter to the next eligible
// candidate. Monotonic under concurrency: every call increments the index
// exactly once (spec §5 ordering guarantees).
func (e *VirtualRouterEngine) rotate(category Category, candidates []Target) (Target, error) {
	counter, ok := e.rotation[category]
	if !ok {
		counter = &atomic.Uint64{}
		e.rotation[category] = counter
	}
	n := uint64(len(candidates))
	if n == 0 {
		return Target{}, &NoHealthyTargetError{Category: category}
	}
	idx := counter.Add(1) - 1
	return candidates[idx%n], nil
}
