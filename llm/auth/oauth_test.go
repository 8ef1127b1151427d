package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	saved map[string]*TokenFile
}

func newMemStore() *memStore { return &memStore{saved: map[string]*TokenFile{}} }

func (m *memStore) Load(id string) (*TokenFile, error) { return m.saved[id], nil }
func (m *memStore) Save(id string, tf *TokenFile) error {
	cp := *tf
	m.saved[id] = &cp
	return nil
}

func TestOAuthBuildHeadersUsesCachedTokenWhenFresh(t *testing.T) {
	store := newMemStore()
	store.saved["p1"] = &TokenFile{AccessToken: "fresh-token", ExpiresAt: time.Now().Add(time.Hour), Type: "oauth"}

	p := NewOAuthDeviceFlowProvider(DefaultOAuthDeviceFlowConfig("p1"), "p1", store, nil, nil)
	headers, err := p.BuildHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh-token", headers["Authorization"])
}

func TestOAuthRefreshesWhenWithinMargin(t *testing.T) {
	var refreshCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "new-token", RefreshToken: "rt2", ExpiresIn: 3600})
	}))
	defer tokenSrv.Close()

	store := newMemStore()
	store.saved["p1"] = &TokenFile{
		AccessToken: "stale", RefreshToken: "rt1",
		ExpiresAt: time.Now().Add(1 * time.Minute), Type: "oauth",
	}

	cfg := DefaultOAuthDeviceFlowConfig("p1")
	cfg.TokenURL = tokenSrv.URL
	p := NewOAuthDeviceFlowProvider(cfg, "p1", store, tokenSrv.Client(), nil)

	headers, err := p.BuildHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer new-token", headers["Authorization"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	assert.Equal(t, "new-token", store.saved["p1"].AccessToken)
}

func TestOAuthConcurrentRefreshesAreCoalesced(t *testing.T) {
	var refreshCalls int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		time.Sleep(20 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "new-token", RefreshToken: "rt2", ExpiresIn: 3600})
	}))
	defer tokenSrv.Close()

	store := newMemStore()
	store.saved["p1"] = &TokenFile{
		AccessToken: "stale", RefreshToken: "rt1",
		ExpiresAt: time.Now().Add(1 * time.Minute), Type: "oauth",
	}

	cfg := DefaultOAuthDeviceFlowConfig("p1")
	cfg.TokenURL = tokenSrv.URL
	p := NewOAuthDeviceFlowProvider(cfg, "p1", store, tokenSrv.Client(), nil)

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, err := p.BuildHeaders(context.Background())
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
}

func TestOAuthQwenUserInfoYieldsStableNoRefreshAPIKey(t *testing.T) {
	userInfoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"api_key": "stable-key-1"})
	}))
	defer userInfoSrv.Close()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "short-lived", RefreshToken: "rt1", ExpiresIn: 3600})
	}))
	defer tokenSrv.Close()

	store := newMemStore()
	store.saved["qwen"] = &TokenFile{
		AccessToken: "stale", RefreshToken: "rt0",
		ExpiresAt: time.Now().Add(1 * time.Minute), Type: "oauth",
	}

	cfg := DefaultOAuthDeviceFlowConfig("qwen")
	cfg.TokenURL = tokenSrv.URL
	cfg.UserInfoURL = userInfoSrv.URL
	p := NewOAuthDeviceFlowProvider(cfg, "qwen", store, tokenSrv.Client(), nil)

	headers, err := p.BuildHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer stable-key-1", headers["Authorization"])
	assert.True(t, store.saved["qwen"].NoRefresh)
}

func TestOAuthMissingRefreshTokenFallsBackToDeviceFlow(t *testing.T) {
	var tokenPolls int32
	deviceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(deviceAuthResponse{
			DeviceCode: "dc1", UserCode: "ABCD-EFGH",
			VerificationURI: "https://example.test/activate", Interval: 0, ExpiresIn: 600,
		})
	}))
	defer deviceSrv.Close()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&tokenPolls, 1)
		if n < 2 {
			_ = json.NewEncoder(w).Encode(tokenResponse{Error: "authorization_pending"})
			return
		}
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "granted-token", RefreshToken: "rt-new", ExpiresIn: 3600})
	}))
	defer tokenSrv.Close()

	store := newMemStore()
	store.saved["noref"] = &TokenFile{AccessToken: "stale", ExpiresAt: time.Now().Add(1 * time.Minute), Type: "oauth"}
	cfg := DefaultOAuthDeviceFlowConfig("noref")
	cfg.TokenURL = tokenSrv.URL
	cfg.DeviceAuthURL = deviceSrv.URL
	cfg.DefaultPollPeriod = 5 * time.Millisecond
	cfg.PollTimeout = time.Second
	p := NewOAuthDeviceFlowProvider(cfg, "noref", store, tokenSrv.Client(), nil)

	headers, err := p.BuildHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer granted-token", headers["Authorization"])
}
