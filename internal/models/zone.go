package models

import (
	"fmt"
	"time"
)

// ZoneQuality is the overall grade of an accumulation zone.
type ZoneQuality string

const (
	ZoneQualityExcellent ZoneQuality = "excellent"
	ZoneQualityGood      ZoneQuality = "good"
	ZoneQualityFair      ZoneQuality = "fair"
)

// Score maps the quality tier to a 1-5 star score used in alerts.
func (q ZoneQuality) Score() int {
	switch q {
	case ZoneQualityExcellent:
		return 5
	case ZoneQualityGood:
		return 4
	default:
		return 3
	}
}

// RangeGrade classifies a window's high/low range against its thresholds.
type RangeGrade string

const (
	RangeTooTight  RangeGrade = "too_tight"
	RangeExcellent RangeGrade = "excellent"
	RangeGood      RangeGrade = "good"
	RangeFair      RangeGrade = "fair"
	RangeTooWide   RangeGrade = "too_wide"
)

// Accepted reports whether the grade qualifies as consolidation.
func (g RangeGrade) Accepted() bool {
	return g == RangeExcellent || g == RangeGood || g == RangeFair
}

// StrengthLevel buckets a 0-100 strength score.
type StrengthLevel string

const (
	StrengthWeak       StrengthLevel = "WEAK"
	StrengthAverage    StrengthLevel = "AVERAGE"
	StrengthStrong     StrengthLevel = "STRONG"
	StrengthVeryStrong StrengthLevel = "VERY STRONG"
)

// ZoneMetrics are the measurements taken when a zone is detected.
type ZoneMetrics struct {
	RangePct      float64    `json:"range_pct"`
	RangeGrade    RangeGrade `json:"range_grade"`
	BreakoutRatio float64    `json:"breakout_ratio"`
	VolumeRatio   float64    `json:"volume_ratio"`
	ATRRatio      float64    `json:"atr_ratio"`
	Strength      float64    `json:"strength"`
}

// Zone is an immutable accumulation zone. Use NewZone to build one and
// WithUpdatedScore to derive a refreshed copy.
type Zone struct {
	symbol     string
	timeframe  Timeframe
	support    float64
	resistance float64
	quality    ZoneQuality
	lookback   int
	metrics    ZoneMetrics
	createdAt  time.Time
}

// NewZone validates bounds and builds a Zone.
func NewZone(symbol string, tf Timeframe, support, resistance float64, quality ZoneQuality, lookback int, metrics ZoneMetrics, createdAt time.Time) (Zone, error) {
	if support <= 0 {
		return Zone{}, fmt.Errorf("zone %s %s: support must be positive, got %f", symbol, tf, support)
	}
	if resistance <= support {
		return Zone{}, fmt.Errorf("zone %s %s: resistance %f must exceed support %f", symbol, tf, resistance, support)
	}
	if metrics.Strength < 0 {
		metrics.Strength = 0
	}
	return Zone{
		symbol:     symbol,
		timeframe:  tf,
		support:    support,
		resistance: resistance,
		quality:    quality,
		lookback:   lookback,
		metrics:    metrics,
		createdAt:  createdAt,
	}, nil
}

// WithUpdatedScore returns a copy carrying new quality and metrics. Bounds,
// lookback and creation time are preserved.
func (z Zone) WithUpdatedScore(quality ZoneQuality, metrics ZoneMetrics) Zone {
	if metrics.Strength < 0 {
		metrics.Strength = 0
	}
	z.quality = quality
	z.metrics = metrics
	return z
}

func (z Zone) Symbol() string         { return z.symbol }
func (z Zone) Timeframe() Timeframe   { return z.timeframe }
func (z Zone) Support() float64       { return z.support }
func (z Zone) Resistance() float64    { return z.resistance }
func (z Zone) Quality() ZoneQuality   { return z.quality }
func (z Zone) Lookback() int          { return z.lookback }
func (z Zone) Metrics() ZoneMetrics   { return z.metrics }
func (z Zone) CreatedAt() time.Time   { return z.createdAt }
func (z Zone) StrengthScore() float64 { return z.metrics.Strength }

// Width is resistance minus support.
func (z Zone) Width() float64 {
	return z.resistance - z.support
}

// Mid is the midpoint of the zone.
func (z Zone) Mid() float64 {
	return (z.support + z.resistance) / 2
}

// RangePct is the zone width relative to support.
func (z Zone) RangePct() float64 {
	return z.Width() / z.support
}

// DurationHours is the lookback expressed in hours of candles.
func (z Zone) DurationHours() float64 {
	return float64(z.lookback) * z.timeframe.DurationFactor()
}

// Key uniquely identifies a zone by symbol, timeframe and bounds.
func (z Zone) Key() string {
	return fmt.Sprintf("%s_%s_%.6f_%.6f", z.symbol, z.timeframe, z.support, z.resistance)
}

// Position returns where price sits inside the zone in percent, or 50 when
// price is outside it.
func (z Zone) Position(price float64) float64 {
	if price < z.support || price > z.resistance {
		return 50
	}
	return (price - z.support) / z.Width() * 100
}

// StrengthLevel buckets the strength score.
func (z Zone) StrengthLevel() StrengthLevel {
	switch s := z.metrics.Strength; {
	case s >= 80:
		return StrengthVeryStrong
	case s >= 60:
		return StrengthStrong
	case s >= 40:
		return StrengthAverage
	default:
		return StrengthWeak
	}
}

// ZoneStatus is the lifecycle state of a monitored zone.
type ZoneStatus string

const (
	ZoneStatusActive    ZoneStatus = "ACTIVE"
	ZoneStatusBreakout  ZoneStatus = "BREAKOUT"
	ZoneStatusCompleted ZoneStatus = "COMPLETED"
)

// MonitoredZone wraps a Zone with mutable lifecycle state. It is owned by the
// zone store and only handed out as copies.
type MonitoredZone struct {
	Zone                     Zone       `json:"-"`
	Status                   ZoneStatus `json:"status"`
	BreakoutUp               bool       `json:"breakout_up"`
	BreakoutDown             bool       `json:"breakout_down"`
	LastBreakoutNotified     time.Time  `json:"last_breakout_notified"`
	LastAccumulationNotified time.Time  `json:"last_accumulation_notified"`
}

// NewMonitoredZone starts tracking a zone in the ACTIVE state.
func NewMonitoredZone(z Zone) *MonitoredZone {
	return &MonitoredZone{Zone: z, Status: ZoneStatusActive}
}

// IsActive reports whether the zone is still waiting for a breakout.
func (m *MonitoredZone) IsActive() bool {
	return m.Status == ZoneStatusActive
}

// Age returns how long ago the underlying zone was created.
func (m *MonitoredZone) Age(now time.Time) time.Duration {
	return now.Sub(m.Zone.CreatedAt())
}

// HasBreakoutFlag reports whether the direction flag is set.
func (m *MonitoredZone) HasBreakoutFlag(direction BreakoutDirection) bool {
	if direction == BreakoutUp {
		return m.BreakoutUp
	}
	return m.BreakoutDown
}

// Broken reports whether any breakout flag is set.
func (m *MonitoredZone) Broken() bool {
	return m.BreakoutUp || m.BreakoutDown
}

// MarkBreakout records a notified breakout. A strong break completes the zone.
func (m *MonitoredZone) MarkBreakout(direction BreakoutDirection, kind BreakoutType, now time.Time) {
	if direction == BreakoutUp {
		m.BreakoutUp = true
	} else {
		m.BreakoutDown = true
	}
	if kind == BreakoutTypeStrong {
		m.Status = ZoneStatusCompleted
	} else {
		m.Status = ZoneStatusBreakout
	}
	m.LastBreakoutNotified = now
}

// Reset puts the zone back into the ACTIVE state and clears breakout flags.
func (m *MonitoredZone) Reset() {
	m.Status = ZoneStatusActive
	m.BreakoutUp = false
	m.BreakoutDown = false
	m.LastBreakoutNotified = time.Time{}
}
