package services

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/models"
)

const (
	// refreshOverlap is the overlap at or above which a new zone is treated
	// as the same zone re-detected.
	refreshOverlap = 0.9
	// significantBoundMove is the relative bound change that makes a
	// replacement worth announcing.
	significantBoundMove = 0.005
)

// UpsertAction is what Upsert did with a detected zone.
type UpsertAction string

const (
	UpsertInserted   UpsertAction = "inserted"
	UpsertRefreshed  UpsertAction = "refreshed"
	UpsertReplaced   UpsertAction = "replaced"
	UpsertSuppressed UpsertAction = "suppressed"
)

// UpsertResult reports the outcome of Upsert.
type UpsertResult struct {
	Action   UpsertAction
	Notify   bool
	Previous *models.Zone
	Current  models.MonitoredZone
}

// ZoneStore owns the monitored zones, at most one per symbol and timeframe.
// Every method takes the single lock and returns copies.
type ZoneStore struct {
	cooldowns ZoneCooldowns
	logger    *logrus.Logger

	mu    sync.Mutex
	zones map[string]map[models.Timeframe]*models.MonitoredZone
}

// ZoneCooldowns are the waits applied to zone notifications.
type ZoneCooldowns struct {
	Accumulation time.Duration
	Breakout     time.Duration
}

// NewZoneStore creates an empty store.
func NewZoneStore(cooldowns ZoneCooldowns, logger *logrus.Logger) *ZoneStore {
	return &ZoneStore{
		cooldowns: cooldowns,
		logger:    logger,
		zones:     make(map[string]map[models.Timeframe]*models.MonitoredZone),
	}
}

// Overlap is the shared width of a and b over the narrower width, 0 when
// they do not intersect.
func Overlap(a, b models.Zone) float64 {
	lo := math.Max(a.Support(), b.Support())
	hi := math.Min(a.Resistance(), b.Resistance())
	if hi <= lo {
		return 0
	}
	narrower := math.Min(a.Width(), b.Width())
	if narrower <= 0 {
		return 0
	}
	return (hi - lo) / narrower
}

// SignificantlyDifferent reports whether either bound moved more than 0.5%.
func SignificantlyDifferent(a, b models.Zone) bool {
	upper := math.Abs(a.Resistance()-b.Resistance()) / b.Resistance()
	lower := math.Abs(a.Support()-b.Support()) / b.Support()
	return upper > significantBoundMove || lower > significantBoundMove
}

func (s *ZoneStore) lookup(symbol string, tf models.Timeframe) *models.MonitoredZone {
	return s.zones[symbol][tf]
}

func (s *ZoneStore) put(symbol string, tf models.Timeframe, mz *models.MonitoredZone) {
	byTF, ok := s.zones[symbol]
	if !ok {
		byTF = make(map[models.Timeframe]*models.MonitoredZone)
		s.zones[symbol] = byTF
	}
	byTF[tf] = mz
}

func (s *ZoneStore) remove(symbol string, tf models.Timeframe) bool {
	byTF, ok := s.zones[symbol]
	if !ok {
		return false
	}
	if _, ok := byTF[tf]; !ok {
		return false
	}
	delete(byTF, tf)
	if len(byTF) == 0 {
		delete(s.zones, symbol)
	}
	return true
}

// Upsert records a freshly detected zone.
func (s *ZoneStore) Upsert(zone models.Zone, now time.Time) UpsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol, tf := zone.Symbol(), zone.Timeframe()
	existing := s.lookup(symbol, tf)
	if existing == nil {
		mz := models.NewMonitoredZone(zone)
		s.put(symbol, tf, mz)
		return UpsertResult{Action: UpsertInserted, Notify: true, Current: *mz}
	}

	previous := existing.Zone
	if Overlap(previous, zone) >= refreshOverlap {
		existing.Zone = previous.WithUpdatedScore(zone.Quality(), zone.Metrics())
		return UpsertResult{Action: UpsertRefreshed, Previous: &previous, Current: *existing}
	}

	last := existing.LastAccumulationNotified
	if !last.IsZero() && now.Sub(last) < s.cooldowns.Accumulation {
		return UpsertResult{Action: UpsertSuppressed, Previous: &previous, Current: *existing}
	}

	existing.Zone = zone
	existing.Reset()
	notify := SignificantlyDifferent(zone, previous)

	s.logger.WithFields(logrus.Fields{
		"symbol":         symbol,
		"timeframe":      tf.String(),
		"old_support":    previous.Support(),
		"old_resistance": previous.Resistance(),
		"support":        zone.Support(),
		"resistance":     zone.Resistance(),
		"notify":         notify,
	}).Info("Accumulation zone replaced")
	return UpsertResult{Action: UpsertReplaced, Notify: notify, Previous: &previous, Current: *existing}
}

// MarkAccumulationNotified stamps the accumulation alert time.
func (s *ZoneStore) MarkAccumulationNotified(symbol string, tf models.Timeframe, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mz := s.lookup(symbol, tf); mz != nil {
		mz.LastAccumulationNotified = now
	}
}

// MarkBreakout records a notified breakout on the zone.
func (s *ZoneStore) MarkBreakout(symbol string, tf models.Timeframe, signal models.BreakoutSignal, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	mz := s.lookup(symbol, tf)
	if mz == nil {
		return false
	}
	mz.MarkBreakout(signal.Direction, signal.Type, now)
	return true
}

// InBreakoutCooldown reports whether a breakout was notified less than the
// breakout cooldown ago.
func (s *ZoneStore) InBreakoutCooldown(symbol string, tf models.Timeframe, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	mz := s.lookup(symbol, tf)
	if mz == nil || mz.LastBreakoutNotified.IsZero() {
		return false
	}
	return now.Sub(mz.LastBreakoutNotified) < s.cooldowns.Breakout
}

// Expire removes the zone if it is older than maxAge.
func (s *ZoneStore) Expire(symbol string, tf models.Timeframe, maxAge time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	mz := s.lookup(symbol, tf)
	if mz == nil || mz.Age(now) <= maxAge {
		return false
	}
	s.remove(symbol, tf)
	s.logger.WithFields(logrus.Fields{
		"symbol":    symbol,
		"timeframe": tf.String(),
		"age_hours": mz.Age(now).Hours(),
	}).Debug("Expired accumulation zone")
	return true
}

// ExpireAll removes every zone older than maxAge.
func (s *ZoneStore) ExpireAll(maxAge time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.countLocked()
	removed := 0
	for symbol, byTF := range s.zones {
		for tf, mz := range byTF {
			if mz.Age(now) > maxAge {
				delete(byTF, tf)
				removed++
			}
		}
		if len(byTF) == 0 {
			delete(s.zones, symbol)
		}
	}

	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed": removed,
			"before":  before,
			"after":   before - removed,
		}).Info("Expired accumulation zones swept")
	}
	return removed
}

// RemoveBrokenOut removes a zone with a breakout flag once cooldown has
// passed since the breakout was notified.
func (s *ZoneStore) RemoveBrokenOut(symbol string, tf models.Timeframe, cooldown time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	mz := s.lookup(symbol, tf)
	if mz == nil || !mz.Broken() {
		return false
	}
	if !mz.LastBreakoutNotified.IsZero() && now.Sub(mz.LastBreakoutNotified) < cooldown {
		return false
	}
	s.remove(symbol, tf)
	s.logger.WithFields(logrus.Fields{
		"symbol":    symbol,
		"timeframe": tf.String(),
		"status":    string(mz.Status),
	}).Info("Removed broken-out zone")
	return true
}

// Get returns a copy of the zone for symbol and tf.
func (s *ZoneStore) Get(symbol string, tf models.Timeframe) (models.MonitoredZone, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mz := s.lookup(symbol, tf)
	if mz == nil {
		return models.MonitoredZone{}, false
	}
	return *mz, true
}

// Snapshot copies every zone of symbol keyed by timeframe.
func (s *ZoneStore) Snapshot(symbol string) map[models.Timeframe]models.MonitoredZone {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[models.Timeframe]models.MonitoredZone, len(s.zones[symbol]))
	for tf, mz := range s.zones[symbol] {
		out[tf] = *mz
	}
	return out
}

// All returns copies of every zone sorted by symbol and timeframe.
func (s *ZoneStore) All() []models.MonitoredZone {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.MonitoredZone, 0, s.countLocked())
	for _, byTF := range s.zones {
		for _, mz := range byTF {
			out = append(out, *mz)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Zone, out[j].Zone
		if a.Symbol() != b.Symbol() {
			return a.Symbol() < b.Symbol()
		}
		return a.Timeframe().Rank() < b.Timeframe().Rank()
	})
	return out
}

// Delete drops the zone for symbol and tf.
func (s *ZoneStore) Delete(symbol string, tf models.Timeframe) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(symbol, tf)
}

// Count returns the number of stored zones.
func (s *ZoneStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

func (s *ZoneStore) countLocked() int {
	n := 0
	for _, byTF := range s.zones {
		n += len(byTF)
	}
	return n
}

// CountByStatus tallies zones per lifecycle status.
func (s *ZoneStore) CountByStatus() map[models.ZoneStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[models.ZoneStatus]int, 3)
	for _, byTF := range s.zones {
		for _, mz := range byTF {
			out[mz.Status]++
		}
	}
	return out
}
