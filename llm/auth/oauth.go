package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// OAuthDeviceFlowConfig describes a single provider's device-authorization
// grant endpoints (RFC 8628) plus the Qwen user-info special case.
type OAuthDeviceFlowConfig struct {
	ProviderID        string
	ClientID          string
	Scope             string
	DeviceAuthURL     string
	TokenURL          string
	UserInfoURL       string // non-empty enables the Qwen stable-api-key step
	RefreshMargin     time.Duration
	PollTimeout       time.Duration
	DefaultPollPeriod time.Duration
}

func DefaultOAuthDeviceFlowConfig(providerID string) OAuthDeviceFlowConfig {
	return OAuthDeviceFlowConfig{
		ProviderID:        providerID,
		RefreshMargin:     5 * time.Minute,
		PollTimeout:       10 * time.Minute,
		DefaultPollPeriod: 5 * time.Second,
	}
}

// deviceAuthResponse is the RFC 8628 device authorization response.
type deviceAuthResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
}

// OAuthDeviceFlowProvider implements the OAuthDeviceFlow AuthProvider shape:
// it loads a persisted token, refreshes it within a margin of expiry, and
// falls back to a fresh device-code flow when no usable refresh token
// exists. Concurrent refreshes for the same token id are coalesced through
// a singleflight.Group keyed by token id (spec §4.9, §7 "Singleflight
// OAuth refresh").
type OAuthDeviceFlowProvider struct {
	cfg        OAuthDeviceFlowConfig
	tokenID    string
	store      TokenStore
	httpClient *http.Client
	logger     *zap.Logger

	sf singleflight.Group

	mu     sync.RWMutex
	cached *TokenFile
}

func NewOAuthDeviceFlowProvider(cfg OAuthDeviceFlowConfig, tokenID string, store TokenStore, httpClient *http.Client, logger *zap.Logger) *OAuthDeviceFlowProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthDeviceFlowProvider{cfg: cfg, tokenID: tokenID, store: store, httpClient: httpClient, logger: logger}
}

// BuildHeaders returns the Authorization header for the current token,
// refreshing first if it's within RefreshMargin of expiry. A stable Qwen
// api_key (norefresh) is preferred over the access token once obtained.
func (p *OAuthDeviceFlowProvider) BuildHeaders(ctx context.Context) (map[string]string, error) {
	tf, err := p.currentToken(ctx)
	if err != nil {
		return nil, err
	}
	if tf.expiringSoon(p.cfg.RefreshMargin, time.Now()) {
		tf, err = p.refreshLocked(ctx, tf)
		if err != nil {
			return nil, err
		}
	}
	if tf.NoRefresh && tf.APIKey != "" {
		return map[string]string{"Authorization": "Bearer " + tf.APIKey}, nil
	}
	return map[string]string{"Authorization": "Bearer " + tf.AccessToken}, nil
}

// RefreshCredentials forces a refresh regardless of expiry, used after an
// upstream 401 (spec B4: "OAuth 401 with a valid refresh token retries
// exactly once").
func (p *OAuthDeviceFlowProvider) RefreshCredentials(ctx context.Context) error {
	tf, err := p.currentToken(ctx)
	if err != nil {
		return err
	}
	_, err = p.refreshLocked(ctx, tf)
	return err
}

func (p *OAuthDeviceFlowProvider) currentToken(ctx context.Context) (*TokenFile, error) {
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	tf, err := p.store.Load(p.tokenID)
	if err != nil {
		return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: err}
	}
	if tf == nil {
		return p.runDeviceFlow(ctx)
	}
	p.mu.Lock()
	p.cached = tf
	p.mu.Unlock()
	return tf, nil
}

// refreshLocked coalesces concurrent refreshes for this token id into a
// single in-flight call via singleflight; every caller observes the
// refreshed value rather than a stale copy.
func (p *OAuthDeviceFlowProvider) refreshLocked(ctx context.Context, tf *TokenFile) (*TokenFile, error) {
	v, err, _ := p.sf.Do(p.tokenID, func() (any, error) {
		if tf.NoRefresh {
			return tf, nil
		}
		if tf.RefreshToken == "" {
			fresh, ferr := p.runDeviceFlow(ctx)
			if ferr != nil {
				return nil, ferr
			}
			return fresh, nil
		}
		refreshed, rerr := p.doRefresh(ctx, tf)
		if rerr != nil {
			p.logger.Warn("auth: oauth refresh failed, falling back to device flow",
				zap.String("provider", p.cfg.ProviderID), zap.Error(rerr))
			fresh, ferr := p.runDeviceFlow(ctx)
			if ferr != nil {
				return nil, ferr
			}
			return fresh, nil
		}
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	newTf := v.(*TokenFile)
	p.mu.Lock()
	p.cached = newTf
	p.mu.Unlock()
	return newTf, nil
}

func (p *OAuthDeviceFlowProvider) doRefresh(ctx context.Context, tf *TokenFile) (*TokenFile, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tf.RefreshToken)
	form.Set("client_id", p.cfg.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: err}
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: err}
	}
	if resp.StatusCode >= 400 || tr.Error != "" {
		return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, tr.Error)}
	}

	newTf := &TokenFile{
		AccessToken:  tr.AccessToken,
		RefreshToken: firstNonEmpty(tr.RefreshToken, tf.RefreshToken),
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		Type:         "oauth",
		ExpiresAt:    expiryFor(tr.AccessToken, tr.ExpiresIn),
	}
	if err := p.maybeFetchStableAPIKey(ctx, newTf); err != nil {
		p.logger.Warn("auth: user-info fetch failed", zap.String("provider", p.cfg.ProviderID), zap.Error(err))
	}
	if err := p.store.Save(p.tokenID, newTf); err != nil {
		return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: err}
	}
	return newTf, nil
}

// runDeviceFlow drives the full RFC 8628 device-code exchange: request a
// device code, surface the verification URL, then poll the token endpoint
// until the user authorizes or PollTimeout elapses. The poll loop honors
// slow_down/authorization_pending per the grant's retry semantics.
func (p *OAuthDeviceFlowProvider) runDeviceFlow(ctx context.Context) (*TokenFile, error) {
	da, err := p.startDeviceAuthorization(ctx)
	if err != nil {
		return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: err}
	}
	p.logger.Info("auth: visit this URL to authorize",
		zap.String("provider", p.cfg.ProviderID),
		zap.String("url", firstNonEmpty(da.VerificationURIComplete, da.VerificationURI)),
		zap.String("user_code", da.UserCode))

	interval := time.Duration(da.Interval) * time.Second
	if interval <= 0 {
		interval = p.cfg.DefaultPollPeriod
	}
	deadline := time.Now().Add(p.cfg.PollTimeout)

	for {
		if time.Now().After(deadline) {
			return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: fmt.Errorf("device authorization timed out")}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		tf, pending, err := p.pollToken(ctx, da.DeviceCode)
		if err != nil {
			return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: err}
		}
		if pending != nil {
			if pending.Interval > 0 {
				interval = time.Duration(pending.Interval) * time.Second
			}
			continue
		}
		if err := p.maybeFetchStableAPIKey(ctx, tf); err != nil {
			p.logger.Warn("auth: user-info fetch failed", zap.String("provider", p.cfg.ProviderID), zap.Error(err))
		}
		if err := p.store.Save(p.tokenID, tf); err != nil {
			return nil, &RefreshError{ProviderID: p.cfg.ProviderID, Err: err}
		}
		return tf, nil
	}
}

func (p *OAuthDeviceFlowProvider) startDeviceAuthorization(ctx context.Context) (*deviceAuthResponse, error) {
	form := url.Values{}
	form.Set("client_id", p.cfg.ClientID)
	if p.cfg.Scope != "" {
		form.Set("scope", p.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.DeviceAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var da deviceAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&da); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("device authorization endpoint returned %d", resp.StatusCode)
	}
	return &da, nil
}

// pollToken issues one poll of the token endpoint. A non-nil
// DeviceFlowPendingError-shaped return (second value) means "keep polling".
func (p *OAuthDeviceFlowProvider) pollToken(ctx context.Context, deviceCode string) (*TokenFile, *DeviceFlowPendingError, error) {
	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	form.Set("device_code", deviceCode)
	form.Set("client_id", p.cfg.ClientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, nil, err
	}
	switch tr.Error {
	case "":
		return &TokenFile{
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
			TokenType:    tr.TokenType,
			Scope:        tr.Scope,
			Type:         "oauth",
			ExpiresAt:    expiryFor(tr.AccessToken, tr.ExpiresIn),
		}, nil, nil
	case "authorization_pending":
		return nil, &DeviceFlowPendingError{}, nil
	case "slow_down":
		return nil, &DeviceFlowPendingError{Interval: int(p.cfg.DefaultPollPeriod.Seconds()) + 5}, nil
	default:
		return nil, nil, fmt.Errorf("device flow error: %s", tr.Error)
	}
}

// maybeFetchStableAPIKey implements the Qwen post-authorize special case
// (spec §4.9): a successful user-info call yields a long-lived api_key that
// must be preferred over the short-lived access token thereafter.
func (p *OAuthDeviceFlowProvider) maybeFetchStableAPIKey(ctx context.Context, tf *TokenFile) error {
	if p.cfg.UserInfoURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tf.AccessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("user-info endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if body.APIKey != "" {
		tf.APIKey = body.APIKey
		tf.NoRefresh = true
	}
	return nil
}

// expiryFor computes an absolute expiry from an explicit expires_in field,
// falling back to the JWT `exp` claim when the token is itself a JWT and
// the token endpoint omitted expires_in.
func expiryFor(accessToken string, expiresIn int) time.Time {
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
