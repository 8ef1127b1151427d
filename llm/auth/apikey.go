package auth

import (
	"context"
	"fmt"
)

// ApiKeyProvider builds a static `Authorization: Bearer <key>` header, or a
// caller-configured header name and prefix for providers that deviate from
// that convention (e.g. `x-api-key: <key>`).
type ApiKeyProvider struct {
	Key        string
	HeaderName string // defaults to "Authorization"
	Prefix     string // defaults to "Bearer "
}

func NewApiKeyProvider(key string) *ApiKeyProvider {
	return &ApiKeyProvider{Key: key, HeaderName: "Authorization", Prefix: "Bearer "}
}

func (p *ApiKeyProvider) BuildHeaders(_ context.Context) (map[string]string, error) {
	if p.Key == "" {
		return nil, fmt.Errorf("auth: api key provider has no key configured")
	}
	name := p.HeaderName
	if name == "" {
		name = "Authorization"
	}
	return map[string]string{name: p.Prefix + p.Key}, nil
}

// RefreshCredentials is a no-op for ApiKeyProvider: revalidation only, the
// key never expires on its own (spec §4.9).
func (p *ApiKeyProvider) RefreshCredentials(_ context.Context) error {
	if p.Key == "" {
		return fmt.Errorf("auth: api key provider has no key configured")
	}
	return nil
}
