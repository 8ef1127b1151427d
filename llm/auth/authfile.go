package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// AuthFileProvider reads a bearer credential from a local file each time it
// is revalidated, so an operator can rotate the credential on disk without
// restarting the process (spec §4.9 AuthFile shape).
type AuthFileProvider struct {
	Path       string
	HeaderName string
	Prefix     string

	mu     sync.RWMutex
	cached string
}

func NewAuthFileProvider(path string) *AuthFileProvider {
	return &AuthFileProvider{Path: path, HeaderName: "Authorization", Prefix: "Bearer "}
}

func (p *AuthFileProvider) BuildHeaders(ctx context.Context) (map[string]string, error) {
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached == "" {
		if err := p.RefreshCredentials(ctx); err != nil {
			return nil, err
		}
		p.mu.RLock()
		cached = p.cached
		p.mu.RUnlock()
	}
	name := p.HeaderName
	if name == "" {
		name = "Authorization"
	}
	return map[string]string{name: p.Prefix + cached}, nil
}

// RefreshCredentials re-reads the credential file (revalidation only — the
// file's content is assumed valid until the upstream rejects it).
func (p *AuthFileProvider) RefreshCredentials(_ context.Context) error {
	b, err := os.ReadFile(p.Path)
	if err != nil {
		return &RefreshError{ProviderID: p.Path, Err: err}
	}
	val := strings.TrimSpace(string(b))
	if val == "" {
		return &RefreshError{ProviderID: p.Path, Err: fmt.Errorf("credential file is empty")}
	}
	p.mu.Lock()
	p.cached = val
	p.mu.Unlock()
	return nil
}
