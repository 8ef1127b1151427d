package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApiKeyProviderBuildHeadersDefaultsToBearer(t *testing.T) {
	p := NewApiKeyProvider("secret123")
	headers, err := p.BuildHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret123", headers["Authorization"])
}

func TestApiKeyProviderCustomHeaderAndPrefix(t *testing.T) {
	p := &ApiKeyProvider{Key: "abc", HeaderName: "x-api-key", Prefix: ""}
	headers, err := p.BuildHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", headers["x-api-key"])
}

func TestApiKeyProviderMissingKeyErrors(t *testing.T) {
	p := &ApiKeyProvider{}
	_, err := p.BuildHeaders(context.Background())
	assert.Error(t, err)
	assert.Error(t, p.RefreshCredentials(context.Background()))
}
