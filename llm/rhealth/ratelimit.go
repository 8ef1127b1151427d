package rhealth

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CooldownReason classifies why a target is cooling down (spec §3).
type CooldownReason string

const (
	ReasonTransient429 CooldownReason = "transient-429"
	ReasonDailyQuota429 CooldownReason = "daily-quota-429"
	ReasonNetwork       CooldownReason = "network"
)

// CooldownEntry is stored per (providerKey, model) — in this package that
// composite is simply the target's runtime key.
type CooldownEntry struct {
	Target     string
	Reason     CooldownReason
	StartAt    time.Time
	CooldownMs int64
}

func (c CooldownEntry) until() time.Time {
	return c.StartAt.Add(time.Duration(c.CooldownMs) * time.Millisecond)
}

// dailyQuotaKeywords are matched case-insensitively against the upstream
// error message to distinguish a daily-quota 429 from a transient one,
// mirroring llm/providers/common.go's MapHTTPError keyword heuristic for
// 400s.
var dailyQuotaKeywords = []string{"quota", "daily", "exceeded today", "billing", "exceeded your current"}

// IsDailyQuota reports whether an error message indicates per-day
// exhaustion rather than a transient rate limit.
func IsDailyQuota(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range dailyQuotaKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RateLimitManagerConfig tunes cooldown durations.
type RateLimitManagerConfig struct {
	TransientCooldown time.Duration
	DailyQuotaCooldown time.Duration
}

func DefaultRateLimitManagerConfig() RateLimitManagerConfig {
	return RateLimitManagerConfig{
		TransientCooldown:  30 * time.Second,
		DailyQuotaCooldown: 24 * time.Hour,
	}
}

// RateLimitManager distinguishes transient 429s (short cooldown, target
// stays available for other selections) from daily-quota 429s (the target
// is forced unhealthy for a long window).
type RateLimitManager struct {
	mu        sync.RWMutex
	cooldowns map[string]CooldownEntry
	cfg       RateLimitManagerConfig
	health    *HealthManager
	logger    *zap.Logger
}

func NewRateLimitManager(cfg RateLimitManagerConfig, health *HealthManager, logger *zap.Logger) *RateLimitManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitManager{
		cooldowns: map[string]CooldownEntry{},
		cfg:       cfg,
		health:    health,
		logger:    logger,
	}
}

// RegisterFailure records a 429 for target, classifying it from message.
// Returns escalated=true when the failure was daily-quota grade (and thus
// triggered ForceFailure).
func (r *RateLimitManager) RegisterFailure(target, message string) (escalated bool) {
	daily := IsDailyQuota(message)
	if daily {
		r.ForceFailure(target)
		return true
	}
	r.mu.Lock()
	r.cooldowns[target] = CooldownEntry{
		Target:     target,
		Reason:     ReasonTransient429,
		StartAt:    time.Now(),
		CooldownMs: r.cfg.TransientCooldown.Milliseconds(),
	}
	r.mu.Unlock()
	if r.health != nil {
		r.health.Record429(target, false)
	}
	return false
}

// ForceFailure marks the target with a long daily-quota cooldown and
// disables it in the HealthManager (B3: recoveryAt at least 1h out).
func (r *RateLimitManager) ForceFailure(target string) {
	window := r.cfg.DailyQuotaCooldown
	if window < time.Hour {
		window = time.Hour
	}
	r.mu.Lock()
	r.cooldowns[target] = CooldownEntry{
		Target:     target,
		Reason:     ReasonDailyQuota429,
		StartAt:    time.Now(),
		CooldownMs: window.Milliseconds(),
	}
	r.mu.Unlock()
	if r.health != nil {
		r.health.Record429(target, true)
	}
	r.logger.Warn("target forced into daily-quota cooldown", zap.String("target", target))
}

// CooldownUntil implements vrouter.RateLimitProvider.
func (r *RateLimitManager) CooldownUntil(target string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cooldowns[target]
	if !ok {
		return time.Time{}, false
	}
	until := entry.until()
	if time.Now().After(until) {
		return time.Time{}, false
	}
	return until, true
}
