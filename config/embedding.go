// =============================================================================
// 🧮 嵌入 Provider 构建
// =============================================================================
// 把 EmbeddingConfig 转换为具体的 embedding.Provider 实现，供网关的
// /v1/embeddings 端点使用。
// =============================================================================
package config

import (
	"fmt"

	"github.com/BaSui01/agentflow/llm/embedding"
)

// BuildProvider 按 Provider 字段构建对应的嵌入实现。Provider 为空时返回
// (nil, nil)，调用方应将其解释为"嵌入端点未配置"。
func (c EmbeddingConfig) BuildProvider() (embedding.Provider, error) {
	switch c.Provider {
	case "":
		return nil, nil
	case "openai":
		return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:     c.APIKey,
			BaseURL:    c.BaseURL,
			Model:      c.Model,
			Dimensions: c.Dimensions,
			Timeout:    c.Timeout,
		}), nil
	case "voyage":
		return embedding.NewVoyageProvider(embedding.VoyageConfig{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
			Timeout: c.Timeout,
		}), nil
	case "cohere":
		return embedding.NewCohereProvider(embedding.CohereConfig{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
			Timeout: c.Timeout,
		}), nil
	case "jina":
		return embedding.NewJinaProvider(embedding.JinaConfig{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
			Timeout: c.Timeout,
		}), nil
	case "gemini":
		return embedding.NewGeminiProvider(embedding.GeminiConfig{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
			Timeout: c.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("config: unknown embedding provider %q", c.Provider)
	}
}
