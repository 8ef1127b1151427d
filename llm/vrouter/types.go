package vrouter

import "fmt"

// Category is a fixed routing bucket a request is classified into.
type Category string

const (
	CategoryDefault     Category = "default"
	CategoryLongContext Category = "longcontext"
	CategoryThinking    Category = "thinking"
	CategoryCoding      Category = "coding"
	CategoryTools       Category = "tools"
	CategoryWebSearch   Category = "websearch"
	CategoryVision      Category = "vision"
	CategoryBackground  Category = "background"
)

// Family identifies a provider's wire dialect family.
type Family string

const (
	FamilyOpenAI      Family = "openai"
	FamilyGLM         Family = "glm"
	FamilyQwen        Family = "qwen"
	FamilyIFlow       Family = "iflow"
	FamilyLMStudio    Family = "lmstudio"
	FamilyAnthropic   Family = "anthropic"
	FamilyGemini      Family = "gemini"
	FamilyResponses   Family = "responses"
	FamilyDeepSeek    Family = "deepseek"
	FamilyModelScope  Family = "modelscope"
	FamilyKimi        Family = "kimi"
)

// Protocol identifies the wire protocol a family speaks.
type Protocol string

const (
	ProtocolOpenAIChat      Protocol = "openai-chat"
	ProtocolOpenAIResponses Protocol = "openai-responses"
	ProtocolAnthropicMsgs   Protocol = "anthropic-messages"
	ProtocolGeminiChat      Protocol = "gemini-chat"
)

// ProtocolForFamily returns the wire protocol a provider family speaks.
func ProtocolForFamily(f Family) Protocol {
	switch f {
	case FamilyResponses:
		return ProtocolOpenAIResponses
	case FamilyAnthropic:
		return ProtocolAnthropicMsgs
	case FamilyGemini:
		return ProtocolGeminiChat
	default:
		return ProtocolOpenAIChat
	}
}

// ModelCaps describes a model offered by a provider.
type ModelCaps struct {
	MaxInputTokens  int
	MaxOutputTokens int
	SupportsTools   bool
	SupportsVision  bool
	SupportsThink   bool
}

// OAuthEndpoints configures the device-authorization grant endpoints for an
// OAuthRef KeyBinding, loaded straight from the routing document so no
// per-family registry needs to be compiled in.
type OAuthEndpoints struct {
	ClientID      string
	Scope         string
	DeviceAuthURL string
	TokenURL      string
	// UserInfoURL, when set, enables the Qwen-style post-authorize step
	// that trades the access token for a stable norefresh api_key.
	UserInfoURL string
}

// KeyBinding is the sum type for how a provider's credential is sourced.
// Exactly one of ApiKeyLiteral, OAuth or AuthFile is set.
type KeyBinding struct {
	Alias string

	ApiKeyLiteral string // ApiKey variant: the literal secret.

	OAuthProviderID string // OAuthRef variant.
	OAuthAlias      string
	OAuth           *OAuthEndpoints

	AuthFilePath string // AuthFileRef variant.
}

// Kind reports which KeyBinding variant is populated.
func (k KeyBinding) Kind() string {
	switch {
	case k.ApiKeyLiteral != "":
		return "apikey"
	case k.OAuthProviderID != "" || k.OAuthAlias != "":
		return "oauth"
	case k.AuthFilePath != "":
		return "authfile"
	default:
		return "unknown"
	}
}

// ProviderDescriptor is immutable after the routing document is loaded.
type ProviderDescriptor struct {
	ID              string
	Family          Family
	BaseURL         string
	DefaultEndpoint string
	DefaultHeaders  map[string]string
	TimeoutMs       int
	MaxRetries      int
	RequiredAuth    []string
	OptionalAuth    []string
	Models          map[string]ModelCaps
	Keys            map[string]KeyBinding
}

// Protocol returns the wire protocol this descriptor's family speaks.
func (p *ProviderDescriptor) Protocol() Protocol {
	return ProtocolForFamily(p.Family)
}

// Target is the concrete (provider, key, model) dispatch destination.
// Equality between Targets is string equality of RuntimeKey.
type Target struct {
	ProviderID      string
	ModelID         string
	KeyAlias        string
	ProviderFamily  Family
	ProviderProto   Protocol
}

// RuntimeKey computes the stable string key for a Target (invariant I3):
// recomputing it from (providerId, keyAlias, modelId) always yields the
// same string.
func (t Target) RuntimeKey() string {
	return fmt.Sprintf("%s.%s.%s", t.ProviderID, t.KeyAlias, t.ModelID)
}

// RoutePool is the ordered sequence of Targets for one category. Insertion
// order defines the round-robin rotation.
type RoutePool struct {
	Category Category
	Targets  []Target
}

// IndexOf returns the position of a target in the pool by runtime key, or -1.
func (p *RoutePool) IndexOf(runtimeKey string) int {
	for i, t := range p.Targets {
		if t.RuntimeKey() == runtimeKey {
			return i
		}
	}
	return -1
}

// RoutingDocument is the full parsed configuration the engine routes
// against: providers, their route pools per category, and the classifier
// rule set (see llm/classify).
type RoutingDocument struct {
	Providers map[string]*ProviderDescriptor
	Pools     map[Category]*RoutePool
}

func (d *RoutingDocument) PoolFor(c Category) *RoutePool {
	if d.Pools == nil {
		return nil
	}
	return d.Pools[c]
}
