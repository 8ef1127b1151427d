package rhealth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthState is the per-target health record (spec §3).
type HealthState struct {
	IsHealthy         bool
	ConsecutiveErrors int
	Consecutive429    int
	ErrorCount        int
	SuccessCount      int
	LastError         string
	LastErrorAt       time.Time
	Disabled          bool
	DisabledAt        time.Time
	DisabledReason    string
	RecoveryAt        time.Time
}

func newHealthState() *HealthState {
	return &HealthState{IsHealthy: true}
}

// ErrorKind classifies an upstream failure per spec §4.3's table.
type ErrorKind string

const (
	ErrKindNetwork      ErrorKind = "network"
	ErrKind400          ErrorKind = "400_client"
	ErrKind401APIKey    ErrorKind = "401_apikey"
	ErrKind401OAuth     ErrorKind = "401_oauth"
	ErrKind402403       ErrorKind = "402_403"
	ErrKind429Short     ErrorKind = "429_short"
	ErrKind429Daily     ErrorKind = "429_daily"
	ErrKind5xx          ErrorKind = "5xx"
	ErrKindInternal     ErrorKind = "internal"
)

// affectsHealth mirrors the "Affects health" column of spec §4.3's table.
func (k ErrorKind) affectsHealth() bool {
	switch k {
	case ErrKind401APIKey, ErrKind402403, ErrKind429Short, ErrKind429Daily, ErrKind5xx:
		return true
	default:
		return false
	}
}

// HealthManagerConfig tunes the disable/recovery thresholds.
type HealthManagerConfig struct {
	MaxConsecutiveErrors int
	ErrorThreshold       int
	AutoRecovery         bool
	RecoveryWindow       time.Duration
	CheckInterval        time.Duration
}

func DefaultHealthManagerConfig() HealthManagerConfig {
	return HealthManagerConfig{
		MaxConsecutiveErrors: 5,
		ErrorThreshold:       20,
		AutoRecovery:         true,
		RecoveryWindow:       5 * time.Minute,
		CheckInterval:        30 * time.Second,
	}
}

// HealthManager tracks HealthState per target runtime key and drives the
// background recovery sweep. Grounded on llm/health_monitor.go's
// sync.RWMutex-guarded map + ticker-loop shape, retargeted from
// DB-scored provider-code health to in-memory per-target health.
type HealthManager struct {
	mu     sync.RWMutex
	states map[string]*HealthState
	cfg    HealthManagerConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHealthManager(cfg HealthManagerConfig, logger *zap.Logger) *HealthManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &HealthManager{
		states: map[string]*HealthState{},
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	go m.recoveryLoop()
	return m
}

func (m *HealthManager) Stop() {
	m.cancel()
}

func (m *HealthManager) state(target string) *HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[target]
	if !ok {
		s = newHealthState()
		m.states[target] = s
	}
	return s
}

// RecordSuccess resets ConsecutiveErrors and recovers a disabled target
// immediately when auto-recovery is enabled (P5).
func (m *HealthManager) RecordSuccess(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[target]
	if !ok {
		s = newHealthState()
		m.states[target] = s
	}
	s.SuccessCount++
	s.ConsecutiveErrors = 0
	s.Consecutive429 = 0
	if s.Disabled && m.cfg.AutoRecovery {
		s.Disabled = false
		s.IsHealthy = true
		s.DisabledReason = ""
	}
}

// RecordError updates counters for a non-429 failure kind and disables the
// target if thresholds are crossed.
func (m *HealthManager) RecordError(target string, kind ErrorKind, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[target]
	if !ok {
		s = newHealthState()
		m.states[target] = s
	}
	s.LastError = message
	s.LastErrorAt = time.Now()
	if !kind.affectsHealth() {
		return
	}
	s.ErrorCount++
	s.ConsecutiveErrors++
	if s.ConsecutiveErrors >= m.cfg.MaxConsecutiveErrors || s.ErrorCount >= m.cfg.ErrorThreshold {
		m.disable(s, string(kind)+": "+message, m.cfg.RecoveryWindow)
	}
}

// Record429 implements the 429-specific rule: two consecutive 429s disable
// immediately regardless of the general consecutive-error threshold.
func (m *HealthManager) Record429(target string, daily bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[target]
	if !ok {
		s = newHealthState()
		m.states[target] = s
	}
	s.Consecutive429++
	s.ErrorCount++
	if daily {
		m.disable(s, "daily-quota-429", 24*time.Hour)
		return
	}
	if s.Consecutive429 >= 2 {
		m.disable(s, "consecutive-429", m.cfg.RecoveryWindow)
	}
}

func (m *HealthManager) disable(s *HealthState, reason string, window time.Duration) {
	s.Disabled = true
	s.IsHealthy = false
	s.DisabledAt = time.Now()
	s.DisabledReason = reason
	s.RecoveryAt = time.Now().Add(window)
	m.logger.Warn("target disabled", zap.String("reason", reason), zap.Time("recoveryAt", s.RecoveryAt))
}

// IsAvailable implements vrouter.HealthProvider: a disabled target is
// unavailable unless its RecoveryAt has elapsed (I2).
func (m *HealthManager) IsAvailable(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[target]
	if !ok {
		return true
	}
	if !s.Disabled {
		return true
	}
	return time.Now().After(s.RecoveryAt)
}

// Snapshot returns a shallow copy of all tracked health states, for
// diagnostics/metrics export.
func (m *HealthManager) Snapshot() map[string]HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]HealthState, len(m.states))
	for k, v := range m.states {
		out[k] = *v
	}
	return out
}

func (m *HealthManager) recoveryLoop() {
	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweepRecoveries()
		}
	}
}

func (m *HealthManager) sweepRecoveries() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cfg.AutoRecovery {
		return
	}
	now := time.Now()
	for key, s := range m.states {
		if s.Disabled && now.After(s.RecoveryAt) {
			s.Disabled = false
			s.IsHealthy = true
			s.DisabledReason = ""
			m.logger.Debug("target auto-recovered", zap.String("target", key))
		}
	}
}
