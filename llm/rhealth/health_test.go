package rhealth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordErrorDisablesAfterConsecutiveThreshold(t *testing.T) {
	cfg := DefaultHealthManagerConfig()
	cfg.MaxConsecutiveErrors = 3
	cfg.AutoRecovery = true
	m := NewHealthManager(cfg, nil)
	defer m.Stop()

	target := "openai.k1.gpt-4"
	for i := 0; i < 2; i++ {
		m.RecordError(target, ErrKind5xx, "boom")
		assert.True(t, m.IsAvailable(target))
	}
	m.RecordError(target, ErrKind5xx, "boom")
	assert.False(t, m.IsAvailable(target))
}

func TestRecordSuccessResetsConsecutiveErrorsAndRecovers(t *testing.T) {
	cfg := DefaultHealthManagerConfig()
	cfg.MaxConsecutiveErrors = 1
	cfg.AutoRecovery = true
	m := NewHealthManager(cfg, nil)
	defer m.Stop()

	target := "openai.k1.gpt-4"
	m.RecordError(target, ErrKind5xx, "boom")
	require.False(t, m.IsAvailable(target))

	m.RecordSuccess(target)
	assert.True(t, m.IsAvailable(target))

	snap := m.Snapshot()[target]
	assert.Equal(t, 0, snap.ConsecutiveErrors)
}

func TestTwoConsecutive429sDisableImmediately(t *testing.T) {
	m := NewHealthManager(DefaultHealthManagerConfig(), nil)
	defer m.Stop()

	target := "glm.k1.glm-4"
	m.Record429(target, false)
	assert.True(t, m.IsAvailable(target))
	m.Record429(target, false)
	assert.False(t, m.IsAvailable(target))
}

func TestDisabledTargetAvailableOnlyAfterRecoveryAt(t *testing.T) {
	cfg := DefaultHealthManagerConfig()
	cfg.MaxConsecutiveErrors = 1
	cfg.RecoveryWindow = 20 * time.Millisecond
	m := NewHealthManager(cfg, nil)
	defer m.Stop()

	target := "openai.k1.gpt-4"
	m.RecordError(target, ErrKind5xx, "boom")
	require.False(t, m.IsAvailable(target))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, m.IsAvailable(target))
}
