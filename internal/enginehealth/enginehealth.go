// Package enginehealth tracks per-engine success/failure statistics and
// cooldowns (C3), independently of the global rate limiter in
// internal/ratelimit. A new engine with no history is assumed healthy.
package enginehealth

import (
	"sort"
	"sync"
	"time"

	"researchcore/internal/logging"
)

// Config mirrors config.EngineHealthConfig.
type Config struct {
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
}

type stats struct {
	total, success, fail int
	consecutiveFailures  int
	cooldownUntil        time.Time
}

// Tracker is the process-wide per-engine health registry.
type Tracker struct {
	cfg Config

	mu    sync.Mutex
	stats map[string]*stats
}

// New constructs a Tracker from the given cooldown policy.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, stats: make(map[string]*stats)}
}

func (t *Tracker) entry(engine string) *stats {
	s, ok := t.stats[engine]
	if !ok {
		s = &stats{}
		t.stats[engine] = s
	}
	return s
}

// IsHealthy reports whether engine's cooldown has expired. A first call
// after cooldown expiry resets consecutive_failures, per spec.
func (t *Tracker) IsHealthy(engine string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.entry(engine)
	if s.cooldownUntil.IsZero() || !time.Now().Before(s.cooldownUntil) {
		if !s.cooldownUntil.IsZero() {
			s.consecutiveFailures = 0
			s.cooldownUntil = time.Time{}
		}
		return true
	}
	return false
}

// ReportSuccess records a successful engine interaction.
func (t *Tracker) ReportSuccess(engine string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.entry(engine)
	s.total++
	s.success++
	s.consecutiveFailures = 0
	s.cooldownUntil = time.Time{}
}

// ReportFailure records a failed engine interaction (block, error, or
// timeout) and extends the engine's cooldown exponentially.
func (t *Tracker) ReportFailure(engine string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.entry(engine)
	s.total++
	s.fail++
	s.consecutiveFailures++

	cooldown := t.cfg.BaseCooldown << uint(s.consecutiveFailures-1)
	if cooldown <= 0 || cooldown > t.cfg.MaxCooldown {
		cooldown = t.cfg.MaxCooldown
	}
	s.cooldownUntil = time.Now().Add(cooldown)

	logging.Get(logging.CategoryEngineHealth).Warn(
		"report_failure: engine=%s consecutive_failures=%d cooldown_until=%s",
		engine, s.consecutiveFailures, s.cooldownUntil.Format(time.RFC3339))
}

// SuccessRate returns the engine's success rate, defaulting to 1.0 for an
// engine with no recorded attempts.
func (t *Tracker) SuccessRate(engine string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[engine]
	if !ok || s.total == 0 {
		return 1.0
	}
	return float64(s.success) / float64(s.total)
}

// GetHealthyEngines filters candidates to the currently healthy ones and
// orders them by success rate descending, ties broken by input order.
func (t *Tracker) GetHealthyEngines(candidates []string) []string {
	healthy := make([]string, 0, len(candidates))
	for _, e := range candidates {
		if t.IsHealthy(e) {
			healthy = append(healthy, e)
		}
	}
	sort.SliceStable(healthy, func(i, j int) bool {
		return t.SuccessRate(healthy[i]) > t.SuccessRate(healthy[j])
	})
	return healthy
}
