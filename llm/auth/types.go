package auth

import (
	"context"
	"time"
)

// Provider is the AuthProvider contract of spec §4.9: every credential
// shape (ApiKey, OAuthDeviceFlow, AuthFile) produces request headers and
// knows how to refresh itself. refresh is a no-op for shapes that don't
// expire (ApiKey, AuthFile) — revalidation only.
type Provider interface {
	BuildHeaders(ctx context.Context) (map[string]string, error)
	RefreshCredentials(ctx context.Context) error
}

// TokenFile is the persisted shape of auth/<provider>-oauth-<id>-<alias>.json
// (spec §4.9 persisted state layout).
type TokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	APIKey       string    `json:"api_key,omitempty"`
	Type         string    `json:"type"`
	NoRefresh    bool      `json:"norefresh,omitempty"`
}

func (t *TokenFile) String() string {
	return "TokenFile{***}"
}

// expiringSoon reports whether the token needs a refresh given margin
// (spec §4.9: "if expired (margin ~5 min)").
func (t *TokenFile) expiringSoon(margin time.Duration, now time.Time) bool {
	if t.NoRefresh {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-margin))
}

// TokenStore persists and loads TokenFile by a provider-scoped id, atomically
// (spec §4.9: "Persist updated token atomically").
type TokenStore interface {
	Load(id string) (*TokenFile, error)
	Save(id string, tf *TokenFile) error
}
