package utils

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError represents an error occurring during data validation.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with a specific message.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// NetworkError is a transient transport failure (timeout, reset, 5xx, rate
// limit). Operations that return it may be retried.
type NetworkError struct {
	Provider string
	Op       string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Provider, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NewNetworkError wraps err as a retryable provider failure.
func NewNetworkError(provider, op string, err error) error {
	return &NetworkError{Provider: provider, Op: op, Err: err}
}

// ExchangeError is a terminal rejection from a provider, such as an unknown
// symbol or a malformed request. It is never retried.
type ExchangeError struct {
	Provider string
	Op       string
	Code     int
	Message  string
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s %s: exchange error %d: %s", e.Provider, e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: exchange error: %s", e.Provider, e.Op, e.Message)
}

// NewExchangeError builds a terminal provider error.
func NewExchangeError(provider, op string, code int, message string) error {
	return &ExchangeError{Provider: provider, Op: op, Code: code, Message: message}
}

// DataInsufficientError is returned when a provider yields fewer candles than
// analysis needs. Tasks treat it as a skip.
type DataInsufficientError struct {
	Symbol   string
	Got      int
	Required int
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("insufficient data for %s: got %d candles, need %d", e.Symbol, e.Got, e.Required)
}

// CacheVerificationError reports that fresh candles did not line up with the
// cached series.
type CacheVerificationError struct {
	Key    string
	Reason string
}

func (e *CacheVerificationError) Error() string {
	return fmt.Sprintf("cache verification failed for %s: %s", e.Key, e.Reason)
}

// CircuitOpenError is returned when a symbol is in breaker cooldown.
type CircuitOpenError struct {
	Symbol string
	Until  time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Symbol, e.Until.Format(time.RFC3339))
}

// FatalStartupError aborts the process during bootstrap.
type FatalStartupError struct {
	Reason string
	Err    error
}

func (e *FatalStartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal startup error: %s: %v", e.Reason, e.Err)
	}
	return "fatal startup error: " + e.Reason
}

func (e *FatalStartupError) Unwrap() error { return e.Err }

// IsRetryable reports whether err wraps a NetworkError.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsExchangeError reports whether err wraps an ExchangeError.
func IsExchangeError(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee)
}

// IsDataInsufficient reports whether err wraps a DataInsufficientError.
func IsDataInsufficient(err error) bool {
	var de *DataInsufficientError
	return errors.As(err, &de)
}

// IsCircuitOpen reports whether err wraps a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// IsFatalStartup reports whether err wraps a FatalStartupError.
func IsFatalStartup(err error) bool {
	var fe *FatalStartupError
	return errors.As(err, &fe)
}
