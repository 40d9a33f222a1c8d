package services

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

// RetryPolicy defines retry behavior for failed operations. The wait before
// attempt n+1 is DelayBase^n units, so a base of 2 waits 1s, 2s, 4s.
type RetryPolicy struct {
	MaxAttempts int
	DelayBase   float64
	DelayUnit   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the retry section defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		DelayBase:   2,
		DelayUnit:   time.Second,
		MaxDelay:    time.Minute,
	}
}

// RetryPolicyFromConfig builds a policy from the retry section.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		p.MaxAttempts = cfg.MaxRetries
	}
	if cfg.DelayBase > 0 {
		p.DelayBase = cfg.DelayBase
	}
	return p
}

// Delay returns the wait after the zero-based attempt failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	unit := p.DelayUnit
	if unit <= 0 {
		unit = time.Second
	}
	d := time.Duration(math.Pow(p.DelayBase, float64(attempt)) * float64(unit))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// RetryStats counts retry outcomes across all operations.
type RetryStats struct {
	Retries   int64 `json:"retries"`
	Recovered int64 `json:"recovered"`
	Exhausted int64 `json:"exhausted"`
}

// ErrorRecoveryManager retries transient failures with exponential backoff.
// Only errors for which utils.IsRetryable holds are retried.
type ErrorRecoveryManager struct {
	logger        *logrus.Logger
	defaultPolicy RetryPolicy
	retryPolicies map[string]RetryPolicy
	stats         RetryStats
	mu            sync.RWMutex
}

// NewErrorRecoveryManager creates a new error recovery manager
func NewErrorRecoveryManager(defaultPolicy RetryPolicy, logger *logrus.Logger) *ErrorRecoveryManager {
	if defaultPolicy.MaxAttempts <= 0 {
		defaultPolicy.MaxAttempts = 1
	}
	return &ErrorRecoveryManager{
		logger:        logger,
		defaultPolicy: defaultPolicy,
		retryPolicies: make(map[string]RetryPolicy),
	}
}

// RegisterRetryPolicy registers a retry policy for a specific operation
func (erm *ErrorRecoveryManager) RegisterRetryPolicy(name string, policy RetryPolicy) {
	erm.mu.Lock()
	defer erm.mu.Unlock()

	erm.retryPolicies[name] = policy
}

func (erm *ErrorRecoveryManager) policyFor(name string) RetryPolicy {
	erm.mu.RLock()
	defer erm.mu.RUnlock()

	if p, ok := erm.retryPolicies[name]; ok {
		return p
	}
	return erm.defaultPolicy
}

// ExecuteWithRetry runs operation until it succeeds, fails terminally, the
// attempts are exhausted, or ctx is done. The last error is returned.
func (erm *ErrorRecoveryManager) ExecuteWithRetry(
	ctx context.Context,
	operationName string,
	fields logrus.Fields,
	operation func(ctx context.Context) error,
) error {
	policy := erm.policyFor(operationName)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				erm.bump(func(s *RetryStats) { s.Recovered++ })
				erm.logger.WithFields(fields).WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}
		lastErr = err

		if !utils.IsRetryable(err) {
			return err
		}

		entry := erm.logger.WithFields(fields).WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"max":       policy.MaxAttempts,
			"error":     err.Error(),
		})
		if attempt == policy.MaxAttempts-1 {
			entry.Warn("Operation failed, no attempts left")
			break
		}

		delay := policy.Delay(attempt)
		entry.WithField("delay", delay).Warn("Operation failed, retrying")
		erm.bump(func(s *RetryStats) { s.Retries++ })

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	erm.bump(func(s *RetryStats) { s.Exhausted++ })
	erm.logger.WithFields(fields).WithFields(logrus.Fields{
		"operation": operationName,
		"attempts":  policy.MaxAttempts,
		"duration":  time.Since(start),
	}).Error("Operation failed after all retries")
	return lastErr
}

func (erm *ErrorRecoveryManager) bump(fn func(*RetryStats)) {
	erm.mu.Lock()
	fn(&erm.stats)
	erm.mu.Unlock()
}

// GetRetryStats returns a copy of the retry counters.
func (erm *ErrorRecoveryManager) GetRetryStats() RetryStats {
	erm.mu.RLock()
	defer erm.mu.RUnlock()
	return erm.stats
}
