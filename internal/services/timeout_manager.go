package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Operation types understood by the timeout manager.
const (
	OpTask        = "task"
	OpHealthCheck = "health_check"
	OpCatalogLoad = "catalog_load"
	OpMaintenance = "maintenance"
	OpNotify      = "notify"
)

// TimeoutConfig defines timeout settings for different operation types
type TimeoutConfig struct {
	Task        time.Duration
	HealthCheck time.Duration
	CatalogLoad time.Duration
	Maintenance time.Duration
	Notify      time.Duration
}

// DefaultTimeoutConfig returns default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Task:        30 * time.Second,
		HealthCheck: 15 * time.Second,
		CatalogLoad: 60 * time.Second,
		Maintenance: 60 * time.Second,
		Notify:      10 * time.Second,
	}
}

// TimeoutError reports an operation that did not finish in time.
type TimeoutError struct {
	OperationType string
	OperationID   string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out after %s", e.OperationType, e.OperationID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// TimeoutManager manages timeouts for concurrent operations
type TimeoutManager struct {
	config         *TimeoutConfig
	logger         *logrus.Logger
	activeContexts map[string]context.CancelFunc
	mu             sync.RWMutex
	defaultTimeout time.Duration
	timedOut       int64
}

// NewTimeoutManager creates a new timeout manager
func NewTimeoutManager(config *TimeoutConfig, logger *logrus.Logger) *TimeoutManager {
	if config == nil {
		config = DefaultTimeoutConfig()
	}

	return &TimeoutManager{
		config:         config,
		logger:         logger,
		activeContexts: make(map[string]context.CancelFunc),
		defaultTimeout: 30 * time.Second,
	}
}

// getTimeoutForOperation returns the appropriate timeout for an operation type
func (tm *TimeoutManager) getTimeoutForOperation(operationType string) time.Duration {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	var d time.Duration
	switch operationType {
	case OpTask:
		d = tm.config.Task
	case OpHealthCheck:
		d = tm.config.HealthCheck
	case OpCatalogLoad:
		d = tm.config.CatalogLoad
	case OpMaintenance:
		d = tm.config.Maintenance
	case OpNotify:
		d = tm.config.Notify
	}
	if d <= 0 {
		return tm.defaultTimeout
	}
	return d
}

// ExecuteWithTimeout runs operation under a deadline derived from parent. It
// returns as soon as the deadline passes even if operation has not returned
// yet; operation observes cancellation through its context.
func (tm *TimeoutManager) ExecuteWithTimeout(
	parent context.Context,
	operationType string,
	operationID string,
	operation func(ctx context.Context) error,
) error {
	timeout := tm.getTimeoutForOperation(operationType)
	ctx, cancel := context.WithTimeout(parent, timeout)
	start := time.Now()

	tm.mu.Lock()
	tm.activeContexts[operationID] = cancel
	tm.mu.Unlock()
	defer tm.completeOperation(operationID)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s %s panicked: %v", operationType, operationID, r)
			}
		}()
		done <- operation(ctx)
	}()

	select {
	case err := <-done:
		tm.logger.WithFields(logrus.Fields{
			"operation_type": operationType,
			"operation_id":   operationID,
			"duration":       time.Since(start),
			"success":        err == nil,
		}).Debug("Operation completed")
		return err

	case <-ctx.Done():
		if parent.Err() != nil {
			return parent.Err()
		}
		tm.mu.Lock()
		tm.timedOut++
		tm.mu.Unlock()
		tm.logger.WithFields(logrus.Fields{
			"operation_type": operationType,
			"operation_id":   operationID,
			"duration":       time.Since(start),
			"timeout":        timeout,
		}).Warn("Operation timed out")
		return &TimeoutError{OperationType: operationType, OperationID: operationID, Timeout: timeout}
	}
}

func (tm *TimeoutManager) completeOperation(operationID string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if cancel, exists := tm.activeContexts[operationID]; exists {
		cancel()
		delete(tm.activeContexts, operationID)
	}
}

// CancelAllOperations cancels all active operations
func (tm *TimeoutManager) CancelAllOperations() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	for operationID, cancel := range tm.activeContexts {
		cancel()
		tm.logger.WithField("operation_id", operationID).Debug("Operation cancelled during shutdown")
	}

	tm.activeContexts = make(map[string]context.CancelFunc)
}

// GetActiveOperationCount returns the number of active operations
func (tm *TimeoutManager) GetActiveOperationCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.activeContexts)
}

// TimedOutCount returns how many operations hit their deadline.
func (tm *TimeoutManager) TimedOutCount() int64 {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.timedOut
}

// Shutdown gracefully shuts down the timeout manager
func (tm *TimeoutManager) Shutdown() {
	tm.logger.Debug("Shutting down timeout manager")
	tm.CancelAllOperations()
}
