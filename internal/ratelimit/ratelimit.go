// Package ratelimit provides the process-wide, strictly serialized search
// rate limiter (C2). A single instance is shared by every caller that
// navigates a search engine; Acquire blocks until enough time has passed
// since the last request, honoring any backoff accumulated from recent
// report_rate_limit signals.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"researchcore/internal/logging"
)

// Config mirrors config.RateLimiterConfig to avoid an import cycle with
// internal/config.
type Config struct {
	MinDelay     time.Duration
	BackoffOnBlock time.Duration
	MaxBackoff   time.Duration
}

// Limiter serializes outbound search requests behind one mutex, exactly as
// codeNERD's APIScheduler serializes LLM call slots behind one semaphore.
type Limiter struct {
	cfg Config

	mu                sync.Mutex
	lastRequest       time.Time
	consecutiveBlocks int
	currentBackoff    time.Duration
}

// New constructs a Limiter from the given policy.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg}
}

// Acquire blocks until now - last_request >= min_delay + current_backoff,
// or until ctx is cancelled. query and engine are accepted for logging only;
// the limiter does not differentiate delay by either.
func (l *Limiter) Acquire(ctx context.Context, query, engine string) error {
	for {
		l.mu.Lock()
		wait := l.waitRemainingLocked()
		if wait <= 0 {
			l.lastRequest = time.Now()
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		logging.Get(logging.CategoryRateLimiter).Debug(
			"acquire: engine=%s query=%q waiting %s", engine, query, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Limiter) waitRemainingLocked() time.Duration {
	if l.lastRequest.IsZero() {
		return 0
	}
	required := l.cfg.MinDelay + l.currentBackoff
	elapsed := time.Since(l.lastRequest)
	return required - elapsed
}

// ReportRateLimit records a block: consecutive_blocks increments and the
// backoff doubles, capped at MaxBackoff.
func (l *Limiter) ReportRateLimit(engine string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveBlocks++
	backoff := l.cfg.BackoffOnBlock << uint(l.consecutiveBlocks-1)
	if backoff <= 0 || backoff > l.cfg.MaxBackoff {
		backoff = l.cfg.MaxBackoff
	}
	l.currentBackoff = backoff

	logging.Get(logging.CategoryRateLimiter).Warn(
		"report_rate_limit: engine=%s consecutive_blocks=%d backoff=%s",
		engine, l.consecutiveBlocks, l.currentBackoff)
}

// ReportSuccess decrements the block count and recomputes backoff, allowing
// the limiter to recover after a run of rejections.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consecutiveBlocks > 0 {
		l.consecutiveBlocks--
	}
	if l.consecutiveBlocks == 0 {
		l.currentBackoff = 0
		return
	}
	backoff := l.cfg.BackoffOnBlock << uint(l.consecutiveBlocks-1)
	if backoff <= 0 || backoff > l.cfg.MaxBackoff {
		backoff = l.cfg.MaxBackoff
	}
	l.currentBackoff = backoff
}

// CurrentBackoff reports the active backoff duration, for diagnostics.
func (l *Limiter) CurrentBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentBackoff
}
