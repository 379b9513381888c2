// Package retry wraps provider calls with classification-based retry
// and exponential backoff.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// InitialDelay is the sleep before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64
	// ExtraSignatures extends the built-in retryable signature set.
	ExtraSignatures []string
}

// DefaultConfig returns the default retry policy: 3 attempts, 500ms
// initial delay, 30s cap, multiplier 2.0.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryableSignatures are substring patterns identifying transient
// failures eligible for backoff-retry. Matched case-insensitively
// against the error text.
var retryableSignatures = []string{
	"timeout",
	"connection",
	"rate limit",
	"rate_limit",
	"server_error",
	"network",
	"temporary",
	"overloaded",
	"quota",
	"500",
	"502",
	"503",
}

// Stats accumulates retry activity across calls.
type Stats struct {
	TotalAttempts     int64
	SuccessfulRetries int64
	FailedCalls       int64
	TotalBackoff      time.Duration
}

// Manager re-drives a failing operation with exponential backoff. The
// operation is opaque: the manager only needs its error to be
// classifiable as a string message.
type Manager struct {
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a retry manager. Zero config fields fall back to
// DefaultConfig values.
func NewManager(config Config, logger *slog.Logger) *Manager {
	d := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = d.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = d.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = d.MaxDelay
	}
	if config.BackoffMultiplier < 1.0 {
		config.BackoffMultiplier = d.BackoffMultiplier
	}
	return &Manager{
		config: config,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retryable reports whether an error matches the retryable signature
// set (built-in plus configured extras).
func (m *Manager) Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range retryableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	for _, sig := range m.config.ExtraSignatures {
		if sig != "" && strings.Contains(msg, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}

// Do runs op, retrying transient failures with exponential backoff.
// Non-retryable errors and exhausted attempts propagate immediately.
func (m *Manager) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	delay := m.config.InitialDelay

	var err error
	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		m.mu.Lock()
		m.stats.TotalAttempts++
		m.mu.Unlock()

		err = op(ctx)
		if err == nil {
			if attempt > 1 {
				m.mu.Lock()
				m.stats.SuccessfulRetries++
				m.mu.Unlock()
				m.logger.Info("operation succeeded after retry",
					"operation", name,
					"attempt", attempt,
				)
			}
			return nil
		}

		if !m.Retryable(err) {
			m.mu.Lock()
			m.stats.FailedCalls++
			m.mu.Unlock()
			return err
		}

		if attempt == m.config.MaxAttempts {
			break
		}

		m.logger.Warn("transient failure, backing off",
			"operation", name,
			"attempt", attempt,
			"max_attempts", m.config.MaxAttempts,
			"delay", delay,
			"error", err,
		)

		m.mu.Lock()
		m.stats.TotalBackoff += delay
		m.mu.Unlock()

		if serr := m.sleep(ctx, delay); serr != nil {
			return serr
		}

		delay = time.Duration(float64(delay) * m.config.BackoffMultiplier)
		if delay > m.config.MaxDelay {
			delay = m.config.MaxDelay
		}
	}

	m.mu.Lock()
	m.stats.FailedCalls++
	m.mu.Unlock()

	return fmt.Errorf("operation %q failed after %d attempts: %w", name, m.config.MaxAttempts, err)
}

// GetStats returns a copy of accumulated retry statistics.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
