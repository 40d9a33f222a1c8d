package services

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
)

// Trade setup stops sit just beyond the opposite zone bound.
const (
	longStopFactor  = 0.995
	shortStopFactor = 1.005
	rewardToRisk    = 2.0
)

// BreakoutResult is the outcome of checking price against a zone.
type BreakoutResult struct {
	Triggered   bool
	Direction   models.BreakoutDirection
	Quality     models.ConfirmationQuality
	Price       float64
	Level       float64
	Buffered    float64
	VolumeSpike bool
	ShortRatio  float64
	MediumRatio float64
	BodyRatio   float64
}

// Confirmed reports whether the breakout may produce a signal.
func (r BreakoutResult) Confirmed() bool {
	return r.Triggered && (r.Quality == models.ConfirmationStrong || r.Quality == models.ConfirmationMedium)
}

// BreakoutDetector confirms breakouts from accumulation zones.
type BreakoutDetector struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewBreakoutDetector creates a detector reading thresholds from cfg.
func NewBreakoutDetector(cfg *config.Config, logger *logrus.Logger) *BreakoutDetector {
	return &BreakoutDetector{cfg: cfg, logger: logger}
}

// Check tests the last close against the buffered zone bounds and, when
// beyond one, grades the move on price, volume and candle body.
func (d *BreakoutDetector) Check(candles []models.Candle, zone models.Zone, tf models.Timeframe) BreakoutResult {
	last, ok := models.Last(candles)
	if !ok {
		return BreakoutResult{}
	}
	settings := d.cfg.Timeframe(tf)
	buffer := settings.BreakoutBuffer

	res := BreakoutResult{Price: last.Close}
	switch {
	case last.Close > zone.Resistance()*(1+buffer):
		res.Direction = models.BreakoutUp
		res.Level = zone.Resistance()
		res.Buffered = zone.Resistance() * (1 + buffer)
	case last.Close < zone.Support()*(1-buffer):
		res.Direction = models.BreakoutDown
		res.Level = zone.Support()
		res.Buffered = zone.Support() * (1 - buffer)
	default:
		return res
	}
	res.Triggered = true

	bars := settings.ConfirmationBars
	if bars <= 0 {
		bars = 1
	}
	if bars > len(candles) {
		bars = len(candles)
	}
	recent := candles[len(candles)-bars:]

	priceOK := true
	bodies := make([]float64, len(recent))
	for i, c := range recent {
		if res.Direction == models.BreakoutUp && c.Close <= res.Buffered {
			priceOK = false
		}
		if res.Direction == models.BreakoutDown && c.Close >= res.Buffered {
			priceOK = false
		}
		bodies[i] = c.BodyRatio()
	}
	res.BodyRatio = seriesMean(bodies)
	res.VolumeSpike, res.ShortRatio, res.MediumRatio = d.VolumeSpike(candles, tf)

	strongBody := res.BodyRatio > d.cfg.Detection.BodyRatioMin
	switch {
	case !priceOK:
		res.Quality = models.ConfirmationRejected
	case res.VolumeSpike && strongBody:
		res.Quality = models.ConfirmationStrong
	case res.VolumeSpike || strongBody:
		res.Quality = models.ConfirmationMedium
	default:
		res.Quality = models.ConfirmationWeak
	}

	d.logger.WithFields(logrus.Fields{
		"symbol":       zone.Symbol(),
		"timeframe":    tf.String(),
		"direction":    string(res.Direction),
		"price":        res.Price,
		"level":        res.Level,
		"price_ok":     priceOK,
		"volume_spike": res.VolumeSpike,
		"short_ratio":  res.ShortRatio,
		"medium_ratio": res.MediumRatio,
		"body_ratio":   res.BodyRatio,
		"quality":      string(res.Quality),
	}).Debug("Breakout confirmation")
	return res
}

// VolumeSpike compares the last candle's volume with the short and medium
// baselines that precede it. Both multipliers must be exceeded.
func (d *BreakoutDetector) VolumeSpike(candles []models.Candle, tf models.Timeframe) (bool, float64, float64) {
	if len(candles) < 2 {
		return false, 0, 0
	}
	settings := d.cfg.Timeframe(tf)
	volumes := models.Volumes(candles)
	current := volumes[len(volumes)-1]
	history := volumes[:len(volumes)-1]

	shortWin := min(settings.VolLookbackShort, len(history))
	mediumWin := min(settings.VolLookbackMedium, len(history))
	if shortWin <= 0 || mediumWin <= 0 {
		return false, 0, 0
	}

	shortMean := seriesMean(history[len(history)-shortWin:])
	mediumMean := seriesMean(history[len(history)-mediumWin:])
	if shortMean == 0 || mediumMean == 0 {
		return false, 0, 0
	}

	shortRatio := current / shortMean
	mediumRatio := current / mediumMean
	spike := shortRatio > settings.VolSpikeShortMult && mediumRatio > settings.VolSpikeMediumMult
	return spike, shortRatio, mediumRatio
}

// Consensus counts higher timeframes of the same symbol whose zone already
// broke in direction. Weak consensus is never eligible, whatever the
// timeframe requires.
func (d *BreakoutDetector) Consensus(snapshot map[models.Timeframe]models.MonitoredZone, direction models.BreakoutDirection, tf models.Timeframe) models.Consensus {
	c := models.Consensus{Required: d.cfg.Timeframe(tf).ConsensusRequired}

	for otherTF, mz := range snapshot {
		if !otherTF.IsHigherThan(tf) {
			continue
		}
		c.Total++
		if mz.HasBreakoutFlag(direction) {
			c.Aligned = append(c.Aligned, otherTF)
		}
	}
	sort.Slice(c.Aligned, func(i, j int) bool { return c.Aligned[i].Rank() < c.Aligned[j].Rank() })

	c.Score = len(c.Aligned)
	switch {
	case c.Score >= 3:
		c.Quality = models.ConsensusExcellent
	case c.Score >= 2:
		c.Quality = models.ConsensusGood
	case c.Score >= 1:
		c.Quality = models.ConsensusMedium
	default:
		c.Quality = models.ConsensusWeak
	}
	c.Eligible = c.Score >= c.Required && c.Quality != models.ConsensusWeak
	return c
}

// classify buckets the distance past the level.
func classify(breakPct float64, settings config.TimeframeSettings) models.BreakoutType {
	switch {
	case breakPct >= settings.StrongBreakPct:
		return models.BreakoutTypeStrong
	case breakPct >= settings.ConfirmedBreakPct:
		return models.BreakoutTypeConfirmed
	default:
		return models.BreakoutTypeSoft
	}
}

// signalStrength scores distance (40), volume (30) and candle shape (30).
func signalStrength(breakPct float64, res BreakoutResult, last models.Candle, settings config.TimeframeSettings) float64 {
	distance := 0.0
	if settings.StrongBreakPct > 0 {
		distance = math.Min(40, math.Max(0, breakPct/settings.StrongBreakPct*40))
	}

	volume := 0.0
	switch {
	case res.VolumeSpike:
		volume = 30
	case res.ShortRatio > settings.VolSpikeShortMult || res.MediumRatio > settings.VolSpikeMediumMult:
		volume = 20
	case res.ShortRatio > 1:
		volume = 10
	}

	body := 0.0
	switch {
	case res.BodyRatio >= 0.7:
		body = 15
	case res.BodyRatio >= 0.5:
		body = 10
	case res.BodyRatio >= 0.3:
		body = 5
	}

	position := 0.0
	if r := last.Range(); r > 0 {
		closePos := (last.Close - last.Low) / r
		if res.Direction == models.BreakoutDown {
			closePos = 1 - closePos
		}
		position = 15 * clamp(closePos, 0, 1)
	}

	return math.Round(clamp(distance+volume+body+position, 0, 100)*10) / 10
}

// tradeSetup places the stop beyond the far bound and the target at the
// zone width or 2R, whichever is closer.
func tradeSetup(entry float64, direction models.BreakoutDirection, zone models.Zone) models.TradeSetup {
	width := zone.Width()
	s := models.TradeSetup{Entry: entry}

	if direction == models.BreakoutUp {
		s.StopLoss = zone.Support() * longStopFactor
		risk := entry - s.StopLoss
		s.TakeProfit = math.Min(entry+width, entry+risk*rewardToRisk)
		s.RiskPct = (entry - s.StopLoss) / entry * 100
		s.RewardPct = (s.TakeProfit - entry) / entry * 100
		return s
	}

	s.StopLoss = zone.Resistance() * shortStopFactor
	risk := s.StopLoss - entry
	s.TakeProfit = math.Max(entry-width, entry-risk*rewardToRisk)
	s.RiskPct = (s.StopLoss - entry) / entry * 100
	s.RewardPct = (entry - s.TakeProfit) / entry * 100
	return s
}

// BuildSignal assembles the alert payload for a confirmed breakout.
func (d *BreakoutDetector) BuildSignal(zone models.Zone, candles []models.Candle, res BreakoutResult, consensus models.Consensus, now time.Time) models.BreakoutSignal {
	settings := d.cfg.Timeframe(zone.Timeframe())
	last, _ := models.Last(candles)

	sig := models.BreakoutSignal{
		Zone:              zone,
		Direction:         res.Direction,
		Confirmation:      res.Quality,
		CurrentPrice:      res.Price,
		BreakoutLevel:     res.Level,
		VolumeRatio:       res.ShortRatio,
		MediumVolumeRatio: res.MediumRatio,
		VolumeConfirmed:   res.VolumeSpike,
		Consensus:         consensus,
		Setup:             tradeSetup(res.Price, res.Direction, zone),
		Timestamp:         now,
	}
	breakPct := sig.BreakPct()
	sig.Type = classify(breakPct, settings)
	sig.StrengthScore = signalStrength(breakPct, res, last, settings)
	return sig
}
