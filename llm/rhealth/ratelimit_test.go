package rhealth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransientFailureKeepsTargetAvailable(t *testing.T) {
	health := NewHealthManager(DefaultHealthManagerConfig(), nil)
	defer health.Stop()
	rl := NewRateLimitManager(DefaultRateLimitManagerConfig(), health, nil)

	escalated := rl.RegisterFailure("openai.k1.gpt-4", "rate limit exceeded, try again")
	assert.False(t, escalated)
	_, cooling := rl.CooldownUntil("openai.k1.gpt-4")
	assert.True(t, cooling)
	// One transient 429 does not yet disable (needs two per HealthManager rule).
	assert.True(t, health.IsAvailable("openai.k1.gpt-4"))
}

func TestDailyQuotaFailureDisablesForAtLeastAnHour(t *testing.T) {
	health := NewHealthManager(DefaultHealthManagerConfig(), nil)
	defer health.Stop()
	rl := NewRateLimitManager(DefaultRateLimitManagerConfig(), health, nil)

	escalated := rl.RegisterFailure("openai.k1.gpt-4", "You have exceeded your current quota")
	assert.True(t, escalated)
	assert.False(t, health.IsAvailable("openai.k1.gpt-4"))

	until, cooling := rl.CooldownUntil("openai.k1.gpt-4")
	require.True(t, cooling)
	assert.True(t, until.After(time.Now().Add(59*time.Minute)))
}

func TestIsDailyQuotaKeywordMatch(t *testing.T) {
	assert.True(t, IsDailyQuota("daily limit exceeded today"))
	assert.True(t, IsDailyQuota("Your quota has been exhausted"))
	assert.False(t, IsDailyQuota("rate limited, please slow down"))
}
