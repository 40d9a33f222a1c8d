package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/accumulation-radar/internal/models"
)

var zoneT0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func mustZone(t *testing.T, symbol string, tf models.Timeframe, support, resistance float64, created time.Time) models.Zone {
	t.Helper()
	z, err := models.NewZone(symbol, tf, support, resistance, models.ZoneQualityGood, 24,
		models.ZoneMetrics{RangePct: (resistance - support) / support, Strength: 50}, created)
	require.NoError(t, err)
	return z
}

func newTestZoneStore() *ZoneStore {
	return NewZoneStore(ZoneCooldowns{Accumulation: time.Hour, Breakout: time.Hour}, testLogger())
}

func TestOverlap(t *testing.T) {
	a := mustZone(t, "BTC/USDT", models.Timeframe15m, 100, 110, zoneT0)
	b := mustZone(t, "BTC/USDT", models.Timeframe15m, 101, 109, zoneT0)
	c := mustZone(t, "BTC/USDT", models.Timeframe15m, 120, 130, zoneT0)
	d := mustZone(t, "BTC/USDT", models.Timeframe15m, 105, 115, zoneT0)

	assert.InDelta(t, 1.0, Overlap(a, b), 1e-9, "b lies inside a")
	assert.Equal(t, 0.0, Overlap(a, c))
	assert.InDelta(t, 0.5, Overlap(a, d), 1e-9)
	assert.Equal(t, Overlap(a, d), Overlap(d, a))
}

func TestSignificantlyDifferent(t *testing.T) {
	a := mustZone(t, "BTC/USDT", models.Timeframe15m, 100, 110, zoneT0)
	assert.False(t, SignificantlyDifferent(mustZone(t, "BTC/USDT", models.Timeframe15m, 100.2, 110.3, zoneT0), a))
	assert.True(t, SignificantlyDifferent(mustZone(t, "BTC/USDT", models.Timeframe15m, 101, 110, zoneT0), a))
}

func TestZoneStore_InsertAndRefresh(t *testing.T) {
	s := newTestZoneStore()
	first := mustZone(t, "BTC/USDT", models.Timeframe15m, 100, 110, zoneT0)

	res := s.Upsert(first, zoneT0)
	assert.Equal(t, UpsertInserted, res.Action)
	assert.True(t, res.Notify)
	assert.Equal(t, models.ZoneStatusActive, res.Current.Status)

	s.MarkAccumulationNotified("BTC/USDT", models.Timeframe15m, zoneT0)

	refreshed, err := models.NewZone("BTC/USDT", models.Timeframe15m, 101, 109, models.ZoneQualityExcellent, 16,
		models.ZoneMetrics{Strength: 90}, zoneT0.Add(time.Hour))
	require.NoError(t, err)

	res = s.Upsert(refreshed, zoneT0.Add(5*time.Minute))
	assert.Equal(t, UpsertRefreshed, res.Action)
	assert.False(t, res.Notify)

	got, ok := s.Get("BTC/USDT", models.Timeframe15m)
	require.True(t, ok)
	assert.Equal(t, 100.0, got.Zone.Support(), "bounds are kept on refresh")
	assert.Equal(t, 110.0, got.Zone.Resistance())
	assert.Equal(t, models.ZoneQualityExcellent, got.Zone.Quality())
	assert.Equal(t, 90.0, got.Zone.StrengthScore())
	assert.Equal(t, zoneT0, got.Zone.CreatedAt())
	assert.Equal(t, zoneT0, got.LastAccumulationNotified)
}

func TestZoneStore_ReplaceAfterCooldown(t *testing.T) {
	s := newTestZoneStore()
	s.Upsert(mustZone(t, "BTC/USDT", models.Timeframe15m, 100, 110, zoneT0), zoneT0)
	s.MarkAccumulationNotified("BTC/USDT", models.Timeframe15m, zoneT0)

	disjoint := mustZone(t, "BTC/USDT", models.Timeframe15m, 120, 130, zoneT0.Add(30*time.Minute))
	res := s.Upsert(disjoint, zoneT0.Add(30*time.Minute))
	assert.Equal(t, UpsertSuppressed, res.Action, "within accumulation cooldown")
	assert.False(t, res.Notify)

	res = s.Upsert(disjoint, zoneT0.Add(61*time.Minute))
	assert.Equal(t, UpsertReplaced, res.Action)
	assert.True(t, res.Notify)
	require.NotNil(t, res.Previous)
	assert.Equal(t, 100.0, res.Previous.Support())

	got, _ := s.Get("BTC/USDT", models.Timeframe15m)
	assert.Equal(t, 120.0, got.Zone.Support())
}

func TestZoneStore_ReplaceResetsBreakoutState(t *testing.T) {
	s := newTestZoneStore()
	s.Upsert(mustZone(t, "SOL/USDT", models.Timeframe5m, 100, 101, zoneT0), zoneT0)
	s.MarkBreakout("SOL/USDT", models.Timeframe5m, models.BreakoutSignal{
		Direction: models.BreakoutUp,
		Type:      models.BreakoutTypeConfirmed,
	}, zoneT0)

	got, _ := s.Get("SOL/USDT", models.Timeframe5m)
	require.True(t, got.BreakoutUp)
	require.Equal(t, models.ZoneStatusBreakout, got.Status)

	// Overlap 0.7 with bounds moved under 0.5%: replaced silently.
	shifted := mustZone(t, "SOL/USDT", models.Timeframe5m, 100.3, 101.3, zoneT0)
	res := s.Upsert(shifted, zoneT0.Add(time.Minute))
	assert.Equal(t, UpsertReplaced, res.Action)
	assert.False(t, res.Notify)
	assert.Equal(t, models.ZoneStatusActive, res.Current.Status)
	assert.False(t, res.Current.BreakoutUp)
}

func TestZoneStore_BreakoutLifecycle(t *testing.T) {
	s := newTestZoneStore()
	s.Upsert(mustZone(t, "ETH/USDT", models.Timeframe1h, 2000, 2020, zoneT0), zoneT0)

	assert.False(t, s.RemoveBrokenOut("ETH/USDT", models.Timeframe1h, time.Hour, zoneT0), "no flag set")
	assert.False(t, s.InBreakoutCooldown("ETH/USDT", models.Timeframe1h, zoneT0))

	ok := s.MarkBreakout("ETH/USDT", models.Timeframe1h, models.BreakoutSignal{
		Direction: models.BreakoutDown,
		Type:      models.BreakoutTypeStrong,
	}, zoneT0)
	require.True(t, ok)

	got, _ := s.Get("ETH/USDT", models.Timeframe1h)
	assert.Equal(t, models.ZoneStatusCompleted, got.Status)
	assert.True(t, got.BreakoutDown)
	assert.True(t, s.InBreakoutCooldown("ETH/USDT", models.Timeframe1h, zoneT0.Add(30*time.Minute)))

	assert.False(t, s.RemoveBrokenOut("ETH/USDT", models.Timeframe1h, time.Hour, zoneT0.Add(30*time.Minute)))
	assert.True(t, s.RemoveBrokenOut("ETH/USDT", models.Timeframe1h, time.Hour, zoneT0.Add(61*time.Minute)))
	assert.Equal(t, 0, s.Count())

	assert.False(t, s.MarkBreakout("ETH/USDT", models.Timeframe1h, models.BreakoutSignal{}, zoneT0))
}

func TestZoneStore_Expiry(t *testing.T) {
	s := newTestZoneStore()
	s.Upsert(mustZone(t, "BTC/USDT", models.Timeframe5m, 100, 101, zoneT0), zoneT0)
	s.Upsert(mustZone(t, "BTC/USDT", models.Timeframe1h, 100, 102, zoneT0.Add(6*time.Hour)), zoneT0)
	s.Upsert(mustZone(t, "ETH/USDT", models.Timeframe5m, 10, 10.1, zoneT0), zoneT0)

	assert.False(t, s.Expire("BTC/USDT", models.Timeframe5m, 12*time.Hour, zoneT0.Add(11*time.Hour)))
	assert.True(t, s.Expire("BTC/USDT", models.Timeframe5m, 12*time.Hour, zoneT0.Add(13*time.Hour)))

	removed := s.ExpireAll(12*time.Hour, zoneT0.Add(13*time.Hour))
	assert.Equal(t, 1, removed, "only the ETH zone is past 12h")
	assert.Equal(t, 1, s.Count())

	snap := s.Snapshot("BTC/USDT")
	assert.Len(t, snap, 1)
	assert.Contains(t, snap, models.Timeframe1h)
	assert.Empty(t, s.Snapshot("ETH/USDT"))
}

func TestZoneStore_ReturnsCopies(t *testing.T) {
	s := newTestZoneStore()
	s.Upsert(mustZone(t, "BTC/USDT", models.Timeframe5m, 100, 101, zoneT0), zoneT0)
	s.Upsert(mustZone(t, "BTC/USDT", models.Timeframe15m, 100, 101, zoneT0), zoneT0)

	got, _ := s.Get("BTC/USDT", models.Timeframe5m)
	got.Status = models.ZoneStatusCompleted
	got.BreakoutUp = true

	again, _ := s.Get("BTC/USDT", models.Timeframe5m)
	assert.Equal(t, models.ZoneStatusActive, again.Status)
	assert.False(t, again.BreakoutUp)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, models.Timeframe5m, all[0].Zone.Timeframe())
	assert.Equal(t, map[models.ZoneStatus]int{models.ZoneStatusActive: 2}, s.CountByStatus())

	assert.True(t, s.Delete("BTC/USDT", models.Timeframe5m))
	assert.False(t, s.Delete("BTC/USDT", models.Timeframe5m))
}
