package config

import (
	"time"

	"github.com/irfndi/accumulation-radar/internal/models"
	"github.com/irfndi/accumulation-radar/internal/utils"
)

// TimeframeSettings holds every detection and caching parameter that varies
// by candle interval. Percentages are fractions (0.006 is 0.6%).
type TimeframeSettings struct {
	LookbackWindows        []int   `mapstructure:"lookback_windows"`
	RangeMin               float64 `mapstructure:"range_min"`
	RangeMax               float64 `mapstructure:"range_max"`
	MaxBreakoutRatio       float64 `mapstructure:"max_breakout_ratio"`
	VolumeSuppressionRatio float64 `mapstructure:"volume_suppression_ratio"`
	VolSpikeShortMult      float64 `mapstructure:"vol_spike_short_mult"`
	VolSpikeMediumMult     float64 `mapstructure:"vol_spike_medium_mult"`
	VolLookbackShort       int     `mapstructure:"vol_lookback_short"`
	VolLookbackMedium      int     `mapstructure:"vol_lookback_medium"`
	BreakoutBuffer         float64 `mapstructure:"breakout_buffer"`
	ConfirmationBars       int     `mapstructure:"confirmation_bars"`
	ConsensusRequired      int     `mapstructure:"consensus_required"`
	IncrementalLimit       int     `mapstructure:"incremental_limit"`
	CacheRefreshMinutes    int     `mapstructure:"cache_refresh_minutes"`
	SoftBreakPct           float64 `mapstructure:"soft_break_pct"`
	ConfirmedBreakPct      float64 `mapstructure:"confirmed_break_pct"`
	StrongBreakPct         float64 `mapstructure:"strong_break_pct"`
}

// DefaultTimeframeSettings returns the built-in table for 5m, 15m, 30m and 1h.
func DefaultTimeframeSettings() map[string]TimeframeSettings {
	return map[string]TimeframeSettings{
		"5m": {
			LookbackWindows:        []int{36, 24, 16},
			RangeMin:               0.0015,
			RangeMax:               0.006,
			MaxBreakoutRatio:       0.15,
			VolumeSuppressionRatio: 0.80,
			VolSpikeShortMult:      2.2,
			VolSpikeMediumMult:     1.8,
			VolLookbackShort:       15,
			VolLookbackMedium:      30,
			BreakoutBuffer:         0.001,
			ConfirmationBars:       1,
			ConsensusRequired:      2,
			IncrementalLimit:       5,
			CacheRefreshMinutes:    15,
			SoftBreakPct:           0.001,
			ConfirmedBreakPct:      0.002,
			StrongBreakPct:         0.004,
		},
		"15m": {
			LookbackWindows:        []int{32, 24, 16},
			RangeMin:               0.002,
			RangeMax:               0.008,
			MaxBreakoutRatio:       0.12,
			VolumeSuppressionRatio: 0.80,
			VolSpikeShortMult:      2.0,
			VolSpikeMediumMult:     1.7,
			VolLookbackShort:       12,
			VolLookbackMedium:      24,
			BreakoutBuffer:         0.0015,
			ConfirmationBars:       1,
			ConsensusRequired:      1,
			IncrementalLimit:       4,
			CacheRefreshMinutes:    30,
			SoftBreakPct:           0.0015,
			ConfirmedBreakPct:      0.003,
			StrongBreakPct:         0.006,
		},
		"30m": {
			LookbackWindows:        []int{24, 16, 12},
			RangeMin:               0.0025,
			RangeMax:               0.010,
			MaxBreakoutRatio:       0.10,
			VolumeSuppressionRatio: 0.85,
			VolSpikeShortMult:      1.8,
			VolSpikeMediumMult:     1.6,
			VolLookbackShort:       10,
			VolLookbackMedium:      20,
			BreakoutBuffer:         0.002,
			ConfirmationBars:       2,
			ConsensusRequired:      1,
			IncrementalLimit:       3,
			CacheRefreshMinutes:    45,
			SoftBreakPct:           0.002,
			ConfirmedBreakPct:      0.004,
			StrongBreakPct:         0.008,
		},
		"1h": {
			LookbackWindows:        []int{24, 16, 12},
			RangeMin:               0.003,
			RangeMax:               0.012,
			MaxBreakoutRatio:       0.10,
			VolumeSuppressionRatio: 0.85,
			VolSpikeShortMult:      1.6,
			VolSpikeMediumMult:     1.5,
			VolLookbackShort:       8,
			VolLookbackMedium:      16,
			BreakoutBuffer:         0.0025,
			ConfirmationBars:       2,
			ConsensusRequired:      1,
			IncrementalLimit:       3,
			CacheRefreshMinutes:    60,
			SoftBreakPct:           0.0025,
			ConfirmedBreakPct:      0.005,
			StrongBreakPct:         0.010,
		},
	}
}

// Timeframe returns the settings for tf, falling back to the 15m entry and
// then to the built-in 15m defaults.
func (c *Config) Timeframe(tf models.Timeframe) TimeframeSettings {
	if ts, ok := c.TimeframeSettings[tf.String()]; ok {
		return ts
	}
	if ts, ok := c.TimeframeSettings[models.Timeframe15m.String()]; ok {
		return ts
	}
	return DefaultTimeframeSettings()[models.Timeframe15m.String()]
}

// CacheTTL is how long a cached candle series for tf stays valid. Timeframes
// without their own entry use twice the candle period.
func (c *Config) CacheTTL(tf models.Timeframe) time.Duration {
	if ts, ok := c.TimeframeSettings[tf.String()]; ok && ts.CacheRefreshMinutes > 0 {
		return time.Duration(ts.CacheRefreshMinutes) * time.Minute
	}
	return 2 * tf.Duration()
}

func (ts TimeframeSettings) validate(name string) error {
	if len(ts.LookbackWindows) == 0 {
		return utils.NewValidationErrorf("timeframe_settings.%s.lookback_windows must not be empty", name)
	}
	for _, lb := range ts.LookbackWindows {
		if lb < 2 {
			return utils.NewValidationErrorf("timeframe_settings.%s lookback %d is too short", name, lb)
		}
	}
	if ts.RangeMin < 0 || ts.RangeMax <= ts.RangeMin {
		return utils.NewValidationErrorf("timeframe_settings.%s range must satisfy 0 <= min < max, got %f-%f", name, ts.RangeMin, ts.RangeMax)
	}
	if ts.ConfirmationBars < 1 {
		return utils.NewValidationErrorf("timeframe_settings.%s.confirmation_bars must be at least 1", name)
	}
	if ts.ConsensusRequired < 0 {
		return utils.NewValidationErrorf("timeframe_settings.%s.consensus_required must not be negative", name)
	}
	if ts.IncrementalLimit < 1 {
		return utils.NewValidationErrorf("timeframe_settings.%s.incremental_limit must be at least 1", name)
	}
	if !(ts.SoftBreakPct <= ts.ConfirmedBreakPct && ts.ConfirmedBreakPct <= ts.StrongBreakPct) {
		return utils.NewValidationErrorf("timeframe_settings.%s break thresholds must be ascending", name)
	}
	return nil
}

func (ts TimeframeSettings) asMap() map[string]interface{} {
	return map[string]interface{}{
		"lookback_windows":         ts.LookbackWindows,
		"range_min":                ts.RangeMin,
		"range_max":                ts.RangeMax,
		"max_breakout_ratio":       ts.MaxBreakoutRatio,
		"volume_suppression_ratio": ts.VolumeSuppressionRatio,
		"vol_spike_short_mult":     ts.VolSpikeShortMult,
		"vol_spike_medium_mult":    ts.VolSpikeMediumMult,
		"vol_lookback_short":       ts.VolLookbackShort,
		"vol_lookback_medium":      ts.VolLookbackMedium,
		"breakout_buffer":          ts.BreakoutBuffer,
		"confirmation_bars":        ts.ConfirmationBars,
		"consensus_required":       ts.ConsensusRequired,
		"incremental_limit":        ts.IncrementalLimit,
		"cache_refresh_minutes":    ts.CacheRefreshMinutes,
		"soft_break_pct":           ts.SoftBreakPct,
		"confirmed_break_pct":      ts.ConfirmedBreakPct,
		"strong_break_pct":         ts.StrongBreakPct,
	}
}
