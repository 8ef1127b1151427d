package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/auth"
	"github.com/BaSui01/agentflow/llm/factory"
	"github.com/BaSui01/agentflow/llm/providers/openaicompat"
	"github.com/BaSui01/agentflow/llm/vrouter"
)

// buildProvider constructs the llm.Provider for a Target's provider family
// and credential binding. ApiKey and AuthFile bindings reuse the named
// family constructor in llm/factory as-is (qwen, glm, deepseek, ...), since
// that path bakes a static key at construction time and neither shape ever
// needs mid-flight refresh beyond a 401 re-read.
//
// OAuth bindings always route through the generic openaicompat.Config path
// regardless of nominal family: it is the only constructor that exposes a
// dynamic BuildHeaders hook, which every named family constructor lacks —
// they take a literal api_key string with no way to refresh it later.
func buildProvider(ctx context.Context, desc *vrouter.ProviderDescriptor, binding vrouter.KeyBinding, tokenStore auth.TokenStore, httpClient *http.Client, logger *zap.Logger) (llm.Provider, error) {
	switch binding.Kind() {
	case "apikey":
		return factory.NewProviderFromConfig(string(desc.Family), factory.ProviderConfig{
			APIKey:  binding.ApiKeyLiteral,
			BaseURL: desc.BaseURL,
			Timeout: time.Duration(desc.TimeoutMs) * time.Millisecond,
		}, logger)

	case "authfile":
		authProvider := auth.NewAuthFileProvider(binding.AuthFilePath)
		headers, err := authProvider.BuildHeaders(ctx)
		if err != nil {
			return nil, fmt.Errorf("pipeline: reading auth file for %q: %w", binding.Alias, err)
		}
		return factory.NewProviderFromConfig(string(desc.Family), factory.ProviderConfig{
			APIKey:  bearerFromHeaders(headers),
			BaseURL: desc.BaseURL,
			Timeout: time.Duration(desc.TimeoutMs) * time.Millisecond,
		}, logger)

	case "oauth":
		authProvider, err := resolveAuthProvider(binding, tokenStore, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return newOAuthBackedProvider(desc, authProvider, logger), nil

	default:
		return nil, fmt.Errorf("pipeline: key binding %q has no recognized credential shape", binding.Alias)
	}
}

// newOAuthBackedProvider wires an auth.Provider's refreshable headers into
// the generic openaicompat Provider via its BuildHeaders hook, so every
// outbound request (and every post-401 retry, one layer up) picks up the
// live token instead of a key frozen at construction time.
func newOAuthBackedProvider(desc *vrouter.ProviderDescriptor, authProvider auth.Provider, logger *zap.Logger) llm.Provider {
	cfg := openaicompat.Config{
		ProviderName: string(desc.Family),
		BaseURL:      desc.BaseURL,
		EndpointPath: desc.DefaultEndpoint,
		Timeout:      time.Duration(desc.TimeoutMs) * time.Millisecond,
		BuildHeaders: func(req *http.Request, _ string) {
			headers, err := authProvider.BuildHeaders(req.Context())
			if err != nil {
				logger.Warn("pipeline: oauth header build failed, request will likely 401",
					zap.String("provider", desc.ID), zap.Error(err))
				return
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		},
	}
	return openaicompat.New(cfg, logger)
}

func bearerFromHeaders(headers map[string]string) string {
	const prefix = "Bearer "
	if v, ok := headers["Authorization"]; ok {
		if len(v) > len(prefix) && v[:len(prefix)] == prefix {
			return v[len(prefix):]
		}
		return v
	}
	return ""
}
