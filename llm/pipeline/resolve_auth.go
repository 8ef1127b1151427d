package pipeline

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/auth"
	"github.com/BaSui01/agentflow/llm/vrouter"
)

// resolveAuthProvider builds the llm/auth.Provider for a KeyBinding. OAuth
// and AuthFile bindings need a live Provider so headers can be refreshed
// per request; ApiKey bindings are usually passed as a literal string
// straight into the legacy factory instead (see buildProvider), but a
// Provider is still returned here for callers (e.g. the generic
// openaicompat path) that want the uniform interface.
func resolveAuthProvider(binding vrouter.KeyBinding, tokenStore auth.TokenStore, httpClient *http.Client, logger *zap.Logger) (auth.Provider, error) {
	switch binding.Kind() {
	case "apikey":
		return auth.NewApiKeyProvider(binding.ApiKeyLiteral), nil
	case "authfile":
		return auth.NewAuthFileProvider(binding.AuthFilePath), nil
	case "oauth":
		if binding.OAuth == nil {
			return nil, fmt.Errorf("pipeline: oauth key binding %q missing OAuthEndpoints config", binding.Alias)
		}
		cfg := auth.DefaultOAuthDeviceFlowConfig(binding.OAuthProviderID)
		cfg.ClientID = binding.OAuth.ClientID
		cfg.Scope = binding.OAuth.Scope
		cfg.DeviceAuthURL = binding.OAuth.DeviceAuthURL
		cfg.TokenURL = binding.OAuth.TokenURL
		cfg.UserInfoURL = binding.OAuth.UserInfoURL
		tokenID := fmt.Sprintf("%s-oauth-%s-%s", binding.OAuthProviderID, binding.OAuthProviderID, binding.OAuthAlias)
		return auth.NewOAuthDeviceFlowProvider(cfg, tokenID, tokenStore, httpClient, logger), nil
	default:
		return nil, fmt.Errorf("pipeline: key binding %q has no recognized credential shape", binding.Alias)
	}
}
