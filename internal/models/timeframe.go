package models

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is a candle interval such as 5m or 1h.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// ParseTimeframe validates and normalizes a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe %q", s)
	}
	return tf, nil
}

// String implements fmt.Stringer.
func (tf Timeframe) String() string {
	return string(tf)
}

// Duration returns the candle period, or zero for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// DurationFactor returns the candle period expressed in hours (5m -> 5/60).
func (tf Timeframe) DurationFactor() float64 {
	return tf.Duration().Hours()
}

// Rank orders timeframes from shortest to longest. Unknown timeframes rank 0.
func (tf Timeframe) Rank() int {
	return int(tf.Duration() / time.Minute)
}

// IsHigherThan reports whether tf has a longer candle period than other.
func (tf Timeframe) IsHigherThan(other Timeframe) bool {
	return tf.Rank() > other.Rank()
}

// Valid reports whether tf is a known timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}
