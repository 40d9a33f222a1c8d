package services

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
)

// CircuitBreakerState represents the current state of a symbol's circuit
type CircuitBreakerState int

const (
	Closed CircuitBreakerState = iota
	Open
)

func (s CircuitBreakerState) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// FailureRecord tracks consecutive failures for one symbol.
type FailureRecord struct {
	Symbol        string    `json:"symbol"`
	Count         int       `json:"count"`
	LastFailure   time.Time `json:"last_failure"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// State derives the circuit state at now.
func (r FailureRecord) State(now time.Time) CircuitBreakerState {
	if !r.CooldownUntil.IsZero() && now.Before(r.CooldownUntil) {
		return Open
	}
	return Closed
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"` // failures before opening
	Cooldown         time.Duration `json:"cooldown"`          // how long an open circuit skips the symbol
}

// CircuitBreakerStats holds statistics for the circuit breaker
type CircuitBreakerStats struct {
	Skipped      int64 `json:"skipped"`
	Failures     int64 `json:"failures"`
	Successes    int64 `json:"successes"`
	StateChanges int64 `json:"state_changes"`
}

// CircuitBreaker skips symbols that keep failing. A record opens once its
// count reaches the threshold and closes, losing its history, when the
// cooldown has elapsed. Any success deletes the record.
type CircuitBreaker struct {
	config  CircuitBreakerConfig
	logger  *logrus.Logger
	now     func() time.Time
	mu      sync.Mutex
	records map[string]*FailureRecord
	stats   CircuitBreakerStats
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}

	return &CircuitBreaker{
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		records: make(map[string]*FailureRecord),
	}
}

// NewCircuitBreakerFromConfig builds a breaker from the circuit_breaker section.
func NewCircuitBreakerFromConfig(cfg config.CircuitBreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: cfg.Failures,
		Cooldown:         cfg.Cooldown(),
	}, logger)
}

// ShouldSkip reports whether symbol is inside an open cooldown. An expired
// cooldown clears the record.
func (cb *CircuitBreaker) ShouldSkip(symbol string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	rec, ok := cb.records[symbol]
	if !ok || rec.CooldownUntil.IsZero() {
		return false
	}

	if cb.now().Before(rec.CooldownUntil) {
		cb.stats.Skipped++
		return true
	}

	delete(cb.records, symbol)
	cb.stats.StateChanges++
	cb.logger.WithField("symbol", symbol).Info("Circuit breaker closed after cooldown")
	return false
}

// CooldownUntil returns the end of the symbol's open cooldown, if any.
func (cb *CircuitBreaker) CooldownUntil(symbol string) (time.Time, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	rec, ok := cb.records[symbol]
	if !ok || rec.CooldownUntil.IsZero() {
		return time.Time{}, false
	}
	return rec.CooldownUntil, true
}

// RecordFailure counts a failure and opens the circuit on crossing the
// threshold.
func (cb *CircuitBreaker) RecordFailure(symbol string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	rec, ok := cb.records[symbol]
	if !ok {
		rec = &FailureRecord{Symbol: symbol}
		cb.records[symbol] = rec
	}
	rec.Count++
	rec.LastFailure = now
	cb.stats.Failures++

	if rec.Count >= cb.config.FailureThreshold && rec.CooldownUntil.IsZero() {
		rec.CooldownUntil = now.Add(cb.config.Cooldown)
		cb.stats.StateChanges++
		cb.logger.WithFields(logrus.Fields{
			"symbol":         symbol,
			"failure_count":  rec.Count,
			"cooldown_until": rec.CooldownUntil.Format(time.RFC3339),
		}).Warn("Circuit breaker opened")
	}
}

// RecordSuccess forgets the symbol's failure history.
func (cb *CircuitBreaker) RecordSuccess(symbol string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.Successes++
	if _, ok := cb.records[symbol]; ok {
		delete(cb.records, symbol)
		cb.logger.WithField("symbol", symbol).Debug("Circuit breaker reset on success")
	}
}

// FailedCount returns how many symbols currently have a failure record.
func (cb *CircuitBreaker) FailedCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.records)
}

// OpenCount returns how many symbols are inside a cooldown.
func (cb *CircuitBreaker) OpenCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	n := 0
	for _, rec := range cb.records {
		if rec.State(now) == Open {
			n++
		}
	}
	return n
}

// Records returns a snapshot of all failure records sorted by symbol.
func (cb *CircuitBreaker) Records() []FailureRecord {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	out := make([]FailureRecord, 0, len(cb.records))
	for _, rec := range cb.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GetStats returns the current statistics
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Reset manually clears every record.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.records = make(map[string]*FailureRecord)
	cb.logger.Info("Circuit breaker manually reset")
}
