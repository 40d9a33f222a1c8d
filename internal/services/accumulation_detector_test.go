package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
)

// flatCandles builds n candles trading between low and high with the given
// per-candle volumes.
func flatCandles(n int, low, high float64, volume func(i int) float64) []models.Candle {
	mid := (low + high) / 2
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Timestamp: cacheT0.Add(time.Duration(i) * 5 * time.Minute),
			Open:      mid,
			High:      high,
			Low:       low,
			Close:     mid,
			Volume:    volume(i),
		}
	}
	return out
}

func constVolume(v float64) func(int) float64 {
	return func(int) float64 { return v }
}

func newTestAccumulationDetector(cfg *config.Config) *AccumulationDetector {
	if cfg == nil {
		cfg = config.Defaults()
	}
	d := NewAccumulationDetector(cfg, testLogger())
	d.now = func() time.Time { return cacheT0 }
	return d
}

func TestAccumulationDetector_TightRangeDecliningVolume(t *testing.T) {
	// 30 candles, 0.4% range, volume in the window half the series mean.
	candles := flatCandles(30, 100, 100.4, func(i int) float64 {
		if i < 6 {
			return 600
		}
		return 100
	})

	zone, ok := newTestAccumulationDetector(nil).Detect("BTC/USDT", models.Timeframe5m, candles)
	require.True(t, ok)
	require.NotNil(t, zone)

	assert.Equal(t, models.ZoneQualityExcellent, zone.Quality())
	assert.Equal(t, 24, zone.Lookback(), "36 needs 37 candles so 24 is the longest usable window")
	assert.Equal(t, 100.0, zone.Support())
	assert.Equal(t, 100.4, zone.Resistance())
	assert.InDelta(t, 2.0, zone.DurationHours(), 1e-9)

	m := zone.Metrics()
	assert.Equal(t, models.RangeExcellent, m.RangeGrade)
	assert.InDelta(t, 0.5, m.VolumeRatio, 1e-9)
	assert.Equal(t, 0.0, m.BreakoutRatio)
	assert.Greater(t, m.ATRRatio, 0.0)
	assert.GreaterOrEqual(t, zone.StrengthScore(), 0.0)
	assert.LessOrEqual(t, zone.StrengthScore(), 100.0)
	assert.Equal(t, cacheT0, zone.CreatedAt())
}

func TestAccumulationDetector_LongestWindowWins(t *testing.T) {
	candles := flatCandles(50, 100, 100.3, constVolume(100))

	zone, ok := newTestAccumulationDetector(nil).Detect("BTC/USDT", models.Timeframe5m, candles)
	require.True(t, ok)
	assert.Equal(t, 36, zone.Lookback())
}

func TestAccumulationDetector_RejectsRanges(t *testing.T) {
	d := newTestAccumulationDetector(nil)

	_, ok := d.Detect("BTC/USDT", models.Timeframe5m, flatCandles(40, 100, 101, constVolume(100)))
	assert.False(t, ok, "1% range is too wide for 5m")

	_, ok = d.Detect("BTC/USDT", models.Timeframe5m, flatCandles(40, 100, 100.1, constVolume(100)))
	assert.False(t, ok, "0.1% range is too tight for 5m")

	_, ok = d.Detect("BTC/USDT", models.Timeframe5m, flatCandles(16, 100, 100.4, constVolume(100)))
	assert.False(t, ok, "shortest window needs 17 candles")
}

func TestAccumulationDetector_VolumeOnlyAffectsQuality(t *testing.T) {
	d := newTestAccumulationDetector(nil)

	zone, ok := d.Detect("BTC/USDT", models.Timeframe5m, flatCandles(40, 100, 100.4, constVolume(100)))
	require.True(t, ok)
	assert.Equal(t, models.ZoneQualityFair, zone.Quality(), "flat volume fails suppression")
	assert.InDelta(t, 1.0, zone.Metrics().VolumeRatio, 1e-9)
}

func TestAccumulationDetector_GoodRange(t *testing.T) {
	// 0.48% sits between 0.7 and 0.85 of the 0.6% max.
	candles := flatCandles(30, 100, 100.48, func(i int) float64 {
		if i < 6 {
			return 600
		}
		return 100
	})

	zone, ok := newTestAccumulationDetector(nil).Detect("ETH/USDT", models.Timeframe5m, candles)
	require.True(t, ok)
	assert.Equal(t, models.RangeGood, zone.Metrics().RangeGrade)
	assert.Equal(t, models.ZoneQualityGood, zone.Quality())
}

func TestAccumulationDetector_SymbolMultiplier(t *testing.T) {
	cfg := config.Defaults()
	cfg.Detection.SymbolRangeMultipliers = map[string]float64{"hype/usdt": 2}
	d := newTestAccumulationDetector(cfg)

	candles := flatCandles(40, 100, 100.9, constVolume(100))
	_, ok := d.Detect("HYPE/USDT", models.Timeframe5m, candles)
	assert.True(t, ok, "0.9% fits under the doubled 1.2% max")

	_, ok = d.Detect("BTC/USDT", models.Timeframe5m, candles)
	assert.False(t, ok)
}

func TestAccumulationDetector_BreakoutRatio(t *testing.T) {
	// Wicks stretch the bounds so closes never breach them; the ratio is
	// measured against the window's own extremes.
	candles := flatCandles(40, 100, 100.4, constVolume(100))
	for i := 30; i < 40; i++ {
		candles[i].Close = 100.4
	}
	zone, ok := newTestAccumulationDetector(nil).Detect("BTC/USDT", models.Timeframe5m, candles)
	require.True(t, ok)
	assert.Equal(t, 0.0, zone.Metrics().BreakoutRatio)
}

func TestVolumeSuppression(t *testing.T) {
	candles := flatCandles(20, 100, 101, func(i int) float64 {
		if i < 10 {
			return 200
		}
		return 100
	})
	assert.InDelta(t, 0.5, volumeSuppression(candles, 10), 1e-9)

	zero := flatCandles(20, 100, 101, constVolume(0))
	assert.Equal(t, 1.0, volumeSuppression(zero, 10))
}

func TestStrengthScore_Bounds(t *testing.T) {
	settings := config.DefaultTimeframeSettings()["5m"]

	best := strengthScore(windowCheck{rangePct: 0.0015, minRange: 0.0015, maxRange: 0.006, volumeRatio: 0.3}, settings)
	assert.Equal(t, 100.0, best)

	worst := strengthScore(windowCheck{rangePct: 0.006, minRange: 0.0015, maxRange: 0.006, volumeRatio: 2, breakoutRatio: 0.15}, settings)
	assert.Equal(t, 0.0, worst)
}

func TestSeriesMeanAndATR(t *testing.T) {
	assert.Equal(t, 0.0, seriesMean(nil))
	assert.InDelta(t, 2.5, seriesMean([]float64{1, 2, 3, 4}), 1e-9)

	candles := flatCandles(30, 100, 101, constVolume(1))
	assert.InDelta(t, 1.0, averageTrueRange(candles, 14), 1e-6)
	assert.InDelta(t, 1.0, averageTrueRange(candles[:5], 14), 1e-9, "short series falls back to mean range")
}
