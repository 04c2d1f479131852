// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"sync"
	"time"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/sigil-dev/gita/pkg/health"
)

// DefaultHealthCooldown is how long a failed provider is skipped by routing.
const DefaultHealthCooldown = 30 * time.Second

// HealthTracker marks a provider unhealthy after a failure and lets it back
// into rotation once the cooldown has passed.
type HealthTracker struct {
	mu           sync.RWMutex
	healthy      bool
	failedAt     time.Time
	cooldown     time.Duration
	failureCount int64
	now          func() time.Time
}

// NewHealthTracker creates a tracker that starts healthy.
func NewHealthTracker(cooldown time.Duration) (*HealthTracker, error) {
	if cooldown <= 0 {
		return nil, gitaerr.Errorf(gitaerr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &HealthTracker{healthy: true, cooldown: cooldown, now: time.Now}, nil
}

// CooldownOrDefault returns d, or DefaultHealthCooldown when d is not
// positive.
func CooldownOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultHealthCooldown
	}
	return d
}

// MustHealthTracker is NewHealthTracker for cooldowns known to be valid.
func MustHealthTracker(cooldown time.Duration) *HealthTracker {
	h, err := NewHealthTracker(cooldown)
	if err != nil {
		panic(err)
	}
	return h
}

// caller holds h.mu
func (h *HealthTracker) availableLocked() bool {
	return h.healthy || h.now().Sub(h.failedAt) >= h.cooldown
}

// IsHealthy reports whether the provider may be routed to.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.availableLocked()
}

// RecordSuccess marks the provider healthy.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.healthy = true
	h.mu.Unlock()
}

// RecordFailure starts a cooldown and bumps the failure count.
func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	h.healthy = false
	h.failedAt = h.now()
	h.failureCount++
	h.mu.Unlock()
}

// SetNowFunc overrides the clock. Tests only.
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.now = fn
	h.mu.Unlock()
}

// HealthMetrics returns a snapshot safe to serialize.
func (h *HealthTracker) HealthMetrics() health.Metrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := health.Metrics{
		FailureCount: h.failureCount,
		Available:    h.availableLocked(),
	}
	if h.failureCount > 0 {
		at := h.failedAt
		m.LastFailureAt = &at
	}
	if !h.healthy {
		until := h.failedAt.Add(h.cooldown)
		m.CooldownUntil = &until
	}
	return m
}
