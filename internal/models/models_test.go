package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testZone(t *testing.T, support, resistance float64) Zone {
	t.Helper()
	z, err := NewZone("BTC/USDT", Timeframe15m, support, resistance, ZoneQualityGood, 24,
		ZoneMetrics{RangePct: (resistance - support) / support, RangeGrade: RangeGood, Strength: 55},
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return z
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, Timeframe1h, tf)

	_, err = ParseTimeframe("7m")
	assert.Error(t, err)
}

func TestTimeframe_Ordering(t *testing.T) {
	assert.True(t, Timeframe1h.IsHigherThan(Timeframe30m))
	assert.True(t, Timeframe30m.IsHigherThan(Timeframe15m))
	assert.True(t, Timeframe15m.IsHigherThan(Timeframe5m))
	assert.False(t, Timeframe5m.IsHigherThan(Timeframe5m))
	assert.InDelta(t, 5.0/60.0, Timeframe5m.DurationFactor(), 1e-9)
	assert.Equal(t, time.Hour, Timeframe1h.Duration())
	assert.False(t, Timeframe("2m").Valid())
}

func TestCandle_BodyRatio(t *testing.T) {
	c := Candle{Open: 100, High: 110, Low: 90, Close: 108}
	assert.InDelta(t, 0.4, c.BodyRatio(), 1e-9)

	flat := Candle{Open: 100, High: 100, Low: 100, Close: 100}
	assert.Equal(t, 0.0, flat.BodyRatio())
}

func TestNormalizeCandles_SortsAndDedups(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []Candle{
		{Timestamp: base.Add(2 * time.Minute), Close: 3},
		{Timestamp: base, Close: 1},
		{Timestamp: base.Add(time.Minute), Close: 2},
		{Timestamp: base.Add(time.Minute), Close: 22},
	}

	out := NormalizeCandles(in)
	require.Len(t, out, 3)
	assert.Equal(t, []float64{1, 22, 3}, Closes(out))
	// input untouched
	assert.Equal(t, 3.0, in[0].Close)

	last, ok := Last(out)
	assert.True(t, ok)
	assert.Equal(t, 3.0, last.Close)

	_, ok = Last(nil)
	assert.False(t, ok)
}

func TestNewZone_RejectsInvalidBounds(t *testing.T) {
	_, err := NewZone("BTC/USDT", Timeframe5m, 100, 100, ZoneQualityFair, 16, ZoneMetrics{}, time.Now())
	assert.Error(t, err)

	_, err = NewZone("BTC/USDT", Timeframe5m, 0, 10, ZoneQualityFair, 16, ZoneMetrics{}, time.Now())
	assert.Error(t, err)

	z, err := NewZone("BTC/USDT", Timeframe5m, 100, 101, ZoneQualityFair, 16, ZoneMetrics{Strength: -5}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.0, z.StrengthScore())
}

func TestZone_Derived(t *testing.T) {
	z := testZone(t, 100, 110)

	assert.Equal(t, 10.0, z.Width())
	assert.Equal(t, 105.0, z.Mid())
	assert.InDelta(t, 0.1, z.RangePct(), 1e-9)
	assert.InDelta(t, 6.0, z.DurationHours(), 1e-9)
	assert.Equal(t, "BTC/USDT_15m_100.000000_110.000000", z.Key())
	assert.InDelta(t, 50.0, z.Position(105), 1e-9)
	assert.Equal(t, 50.0, z.Position(200))
	assert.Equal(t, StrengthAverage, z.StrengthLevel())
}

func TestZone_WithUpdatedScoreKeepsBounds(t *testing.T) {
	z := testZone(t, 100, 110)

	updated := z.WithUpdatedScore(ZoneQualityExcellent, ZoneMetrics{Strength: 85, RangeGrade: RangeExcellent})

	assert.Equal(t, z.Support(), updated.Support())
	assert.Equal(t, z.Resistance(), updated.Resistance())
	assert.Equal(t, z.CreatedAt(), updated.CreatedAt())
	assert.Equal(t, ZoneQualityExcellent, updated.Quality())
	assert.Equal(t, StrengthVeryStrong, updated.StrengthLevel())
	// original value is unchanged
	assert.Equal(t, ZoneQualityGood, z.Quality())
	assert.Equal(t, 55.0, z.StrengthScore())
}

func TestZoneQuality_Score(t *testing.T) {
	assert.Equal(t, 5, ZoneQualityExcellent.Score())
	assert.Equal(t, 4, ZoneQualityGood.Score())
	assert.Equal(t, 3, ZoneQualityFair.Score())
	assert.True(t, RangeFair.Accepted())
	assert.False(t, RangeTooWide.Accepted())
	assert.False(t, RangeTooTight.Accepted())
}

func TestMonitoredZone_MarkBreakout(t *testing.T) {
	now := time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)

	mz := NewMonitoredZone(testZone(t, 100, 110))
	assert.True(t, mz.IsActive())
	assert.Equal(t, 6*time.Hour, mz.Age(now))

	mz.MarkBreakout(BreakoutUp, BreakoutTypeConfirmed, now)
	assert.Equal(t, ZoneStatusBreakout, mz.Status)
	assert.True(t, mz.HasBreakoutFlag(BreakoutUp))
	assert.False(t, mz.HasBreakoutFlag(BreakoutDown))
	assert.Equal(t, now, mz.LastBreakoutNotified)

	mz.MarkBreakout(BreakoutDown, BreakoutTypeStrong, now)
	assert.Equal(t, ZoneStatusCompleted, mz.Status)
	assert.True(t, mz.Broken())

	mz.Reset()
	assert.True(t, mz.IsActive())
	assert.False(t, mz.Broken())
	assert.True(t, mz.LastBreakoutNotified.IsZero())
}

func TestBreakoutSignal_BreakPct(t *testing.T) {
	up := BreakoutSignal{Direction: BreakoutUp, BreakoutLevel: 100, CurrentPrice: 101, Type: BreakoutTypeStrong}
	assert.InDelta(t, 0.01, up.BreakPct(), 1e-9)
	assert.True(t, up.IsStrong())

	down := BreakoutSignal{Direction: BreakoutDown, BreakoutLevel: 100, CurrentPrice: 99.5}
	assert.InDelta(t, 0.005, down.BreakPct(), 1e-9)

	assert.Equal(t, 0.0, BreakoutSignal{}.BreakPct())
}
