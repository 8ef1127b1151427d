// =============================================================================
// 🔀 多协议路由配置
// =============================================================================
// 描述虚拟路由器的 Provider/Pool/Key 拓扑，独立于 LLMConfig（单 Provider
// 兼容配置），从 YAML 加载后转换为 vrouter.RoutingDocument。
// =============================================================================
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentflow/llm/vrouter"
)

// RoutingConfig is the YAML-facing shape of a routing document.
type RoutingConfig struct {
	Providers map[string]RoutingProviderConfig `yaml:"providers"`
	Pools     map[string][]RoutingTargetConfig `yaml:"pools"`
}

// RoutingProviderConfig describes one upstream provider entry.
type RoutingProviderConfig struct {
	Family          string                        `yaml:"family"`
	BaseURL         string                        `yaml:"base_url"`
	DefaultEndpoint string                        `yaml:"default_endpoint"`
	TimeoutMs       int                           `yaml:"timeout_ms"`
	MaxRetries      int                           `yaml:"max_retries"`
	Models          map[string]RoutingModelConfig `yaml:"models"`
	Keys            map[string]RoutingKeyConfig   `yaml:"keys"`
}

// RoutingModelConfig describes one model's capabilities under a provider.
type RoutingModelConfig struct {
	MaxInputTokens  int  `yaml:"max_input_tokens"`
	MaxOutputTokens int  `yaml:"max_output_tokens"`
	SupportsTools   bool `yaml:"supports_tools"`
	SupportsVision  bool `yaml:"supports_vision"`
	SupportsThink   bool `yaml:"supports_think"`
}

// RoutingKeyConfig is the sum-type credential binding for a provider. Exactly
// one of ApiKey, AuthFilePath, or the OAuth* fields should be set.
type RoutingKeyConfig struct {
	ApiKey          string `yaml:"api_key"`
	ApiKeyEnv       string `yaml:"api_key_env"`
	AuthFilePath    string `yaml:"auth_file_path"`
	OAuthProviderID string `yaml:"oauth_provider_id"`
	OAuthAlias      string `yaml:"oauth_alias"`
	OAuthClientID   string `yaml:"oauth_client_id"`
	OAuthScope      string `yaml:"oauth_scope"`
	OAuthDeviceURL  string `yaml:"oauth_device_auth_url"`
	OAuthTokenURL   string `yaml:"oauth_token_url"`
	OAuthUserInfo   string `yaml:"oauth_userinfo_url"`
}

// RoutingTargetConfig is one entry in a category's round-robin pool.
type RoutingTargetConfig struct {
	ProviderID string `yaml:"provider_id"`
	ModelID    string `yaml:"model_id"`
	KeyAlias   string `yaml:"key_alias"`
}

// LoadRoutingConfig reads and parses a routing document YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading routing document %q: %w", path, err)
	}
	var rc RoutingConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("config: parsing routing document %q: %w", path, err)
	}
	return &rc, nil
}

// ToRoutingDocument converts the YAML-facing config into the vrouter runtime
// shape, resolving api_key_env indirection (api_key wins if both are set).
func (rc *RoutingConfig) ToRoutingDocument() (*vrouter.RoutingDocument, error) {
	doc := &vrouter.RoutingDocument{
		Providers: make(map[string]*vrouter.ProviderDescriptor, len(rc.Providers)),
		Pools:     make(map[vrouter.Category]*vrouter.RoutePool, len(rc.Pools)),
	}

	for id, p := range rc.Providers {
		desc := &vrouter.ProviderDescriptor{
			ID:              id,
			Family:          vrouter.Family(p.Family),
			BaseURL:         p.BaseURL,
			DefaultEndpoint: p.DefaultEndpoint,
			TimeoutMs:       p.TimeoutMs,
			MaxRetries:      p.MaxRetries,
			Models:          make(map[string]vrouter.ModelCaps, len(p.Models)),
			Keys:            make(map[string]vrouter.KeyBinding, len(p.Keys)),
		}
		for modelID, m := range p.Models {
			desc.Models[modelID] = vrouter.ModelCaps{
				MaxInputTokens:  m.MaxInputTokens,
				MaxOutputTokens: m.MaxOutputTokens,
				SupportsTools:   m.SupportsTools,
				SupportsVision:  m.SupportsVision,
				SupportsThink:   m.SupportsThink,
			}
		}
		for alias, k := range p.Keys {
			binding, err := resolveKeyBinding(alias, k)
			if err != nil {
				return nil, fmt.Errorf("config: provider %q key %q: %w", id, alias, err)
			}
			desc.Keys[alias] = binding
		}
		doc.Providers[id] = desc
	}

	for category, targets := range rc.Pools {
		pool := &vrouter.RoutePool{Category: vrouter.Category(category)}
		for _, t := range targets {
			desc, ok := doc.Providers[t.ProviderID]
			if !ok {
				return nil, fmt.Errorf("config: pool %q references unknown provider %q", category, t.ProviderID)
			}
			pool.Targets = append(pool.Targets, vrouter.Target{
				ProviderID:     t.ProviderID,
				ModelID:        t.ModelID,
				KeyAlias:       t.KeyAlias,
				ProviderFamily: desc.Family,
				ProviderProto:  desc.Protocol(),
			})
		}
		doc.Pools[vrouter.Category(category)] = pool
	}

	return doc, nil
}

func resolveKeyBinding(alias string, k RoutingKeyConfig) (vrouter.KeyBinding, error) {
	binding := vrouter.KeyBinding{Alias: alias}

	switch {
	case k.ApiKey != "":
		binding.ApiKeyLiteral = k.ApiKey
	case k.ApiKeyEnv != "":
		v := os.Getenv(k.ApiKeyEnv)
		if v == "" {
			return binding, fmt.Errorf("env var %q is empty", k.ApiKeyEnv)
		}
		binding.ApiKeyLiteral = v
	case k.AuthFilePath != "":
		binding.AuthFilePath = k.AuthFilePath
	case k.OAuthProviderID != "" || k.OAuthAlias != "":
		binding.OAuthProviderID = k.OAuthProviderID
		binding.OAuthAlias = k.OAuthAlias
		binding.OAuth = &vrouter.OAuthEndpoints{
			ClientID:      k.OAuthClientID,
			Scope:         k.OAuthScope,
			DeviceAuthURL: k.OAuthDeviceURL,
			TokenURL:      k.OAuthTokenURL,
			UserInfoURL:   k.OAuthUserInfo,
		}
	default:
		return binding, fmt.Errorf("no recognized credential shape")
	}
	return binding, nil
}
