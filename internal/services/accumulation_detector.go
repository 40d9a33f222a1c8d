package services

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/accumulation-radar/internal/config"
	"github.com/irfndi/accumulation-radar/internal/models"
)

// Closes beyond these multiples of the window bounds count as breaches.
const (
	breachUpperFactor = 1.001
	breachLowerFactor = 0.999
)

// windowCheck is the outcome of testing one lookback window.
type windowCheck struct {
	lookback      int
	upper         float64
	lower         float64
	rangePct      float64
	grade         models.RangeGrade
	breakoutRatio float64
	breakoutOK    bool
	volumeRatio   float64
	volumeOK      bool
	minRange      float64
	maxRange      float64
}

// AccumulationDetector finds tight consolidation ranges in recent candles.
type AccumulationDetector struct {
	cfg    *config.Config
	logger *logrus.Logger
	now    func() time.Time
}

// NewAccumulationDetector creates a detector reading thresholds from cfg.
func NewAccumulationDetector(cfg *config.Config, logger *logrus.Logger) *AccumulationDetector {
	return &AccumulationDetector{cfg: cfg, logger: logger, now: time.Now}
}

// Detect tries each lookback window, longest first, and returns the zone for
// the first one whose range and breakout checks pass.
func (d *AccumulationDetector) Detect(symbol string, tf models.Timeframe, candles []models.Candle) (*models.Zone, bool) {
	settings := d.cfg.Timeframe(tf)

	windows := append([]int(nil), settings.LookbackWindows...)
	sort.Sort(sort.Reverse(sort.IntSlice(windows)))

	for _, lookback := range windows {
		if lookback <= 0 || len(candles) < lookback+1 {
			continue
		}

		wc := d.checkWindow(symbol, settings, candles, lookback)
		if !wc.grade.Accepted() || !wc.breakoutOK {
			d.logger.WithFields(logrus.Fields{
				"symbol":         symbol,
				"timeframe":      tf.String(),
				"lookback":       lookback,
				"range_pct":      wc.rangePct,
				"range_grade":    string(wc.grade),
				"breakout_ratio": wc.breakoutRatio,
			}).Debug("Accumulation window rejected")
			continue
		}

		zone, err := d.buildZone(symbol, tf, settings, candles, wc)
		if err != nil {
			d.logger.WithError(err).WithField("symbol", symbol).Debug("Discarding invalid zone")
			continue
		}

		d.logger.WithFields(logrus.Fields{
			"symbol":         symbol,
			"timeframe":      tf.String(),
			"lookback":       lookback,
			"duration_hours": zone.DurationHours(),
			"support":        zone.Support(),
			"resistance":     zone.Resistance(),
			"range_pct":      wc.rangePct,
			"range_grade":    string(wc.grade),
			"breakout_ratio": wc.breakoutRatio,
			"volume_ratio":   wc.volumeRatio,
			"quality":        string(zone.Quality()),
		}).Info("Accumulation zone detected")
		return &zone, true
	}
	return nil, false
}

func (d *AccumulationDetector) checkWindow(symbol string, settings config.TimeframeSettings, candles []models.Candle, lookback int) windowCheck {
	window := candles[len(candles)-lookback:]

	upper := math.Inf(-1)
	lower := math.Inf(1)
	for _, c := range window {
		upper = math.Max(upper, c.High)
		lower = math.Min(lower, c.Low)
	}

	wc := windowCheck{lookback: lookback, upper: upper, lower: lower}

	mult := d.cfg.Detection.RangeMultiplier(symbol)
	wc.minRange = settings.RangeMin * mult
	wc.maxRange = settings.RangeMax * mult

	if lower > 0 {
		wc.rangePct = (upper - lower) / lower
	} else {
		wc.rangePct = math.Inf(1)
	}
	wc.grade = d.gradeRange(wc.rangePct, wc.minRange, wc.maxRange)

	breaches := 0
	for _, c := range window {
		if c.Close > upper*breachUpperFactor || c.Close < lower*breachLowerFactor {
			breaches++
		}
	}
	wc.breakoutRatio = float64(breaches) / float64(len(window))
	wc.breakoutOK = wc.breakoutRatio <= settings.MaxBreakoutRatio

	wc.volumeRatio = volumeSuppression(candles, lookback)
	wc.volumeOK = wc.volumeRatio < settings.VolumeSuppressionRatio

	return wc
}

// gradeRange classifies a range percentage against [min, max].
func (d *AccumulationDetector) gradeRange(rangePct, minRange, maxRange float64) models.RangeGrade {
	det := d.cfg.Detection
	switch {
	case rangePct < minRange:
		return models.RangeTooTight
	case rangePct <= maxRange*det.ExcellentRangeFraction:
		return models.RangeExcellent
	case rangePct <= maxRange*det.GoodRangeFraction:
		return models.RangeGood
	case rangePct <= maxRange:
		return models.RangeFair
	default:
		return models.RangeTooWide
	}
}

// volumeSuppression compares mean volume in the last lookback candles with
// the window before it, or with the whole series when history is short.
func volumeSuppression(candles []models.Candle, lookback int) float64 {
	volumes := models.Volumes(candles)
	current := seriesMean(volumes[len(volumes)-lookback:])

	var baseline float64
	if len(volumes) >= 2*lookback {
		baseline = seriesMean(volumes[len(volumes)-2*lookback : len(volumes)-lookback])
	} else {
		baseline = seriesMean(volumes)
	}
	if baseline <= 0 {
		return 1.0
	}
	return current / baseline
}

func zoneQuality(volumeOK bool, grade models.RangeGrade) models.ZoneQuality {
	switch {
	case volumeOK && grade == models.RangeExcellent:
		return models.ZoneQualityExcellent
	case volumeOK:
		return models.ZoneQualityGood
	default:
		return models.ZoneQualityFair
	}
}

// strengthScore weights range tightness (40), volume suppression (30) and
// containment (30).
func strengthScore(wc windowCheck, settings config.TimeframeSettings) float64 {
	tightness := 0.0
	if span := wc.maxRange - wc.minRange; span > 0 {
		tightness = 40 * clamp(1-(wc.rangePct-wc.minRange)/span, 0, 1)
	}

	volume := 0.0
	if limit := settings.VolumeSuppressionRatio; limit > 0.5 {
		volume = 30 * clamp((limit-wc.volumeRatio)/(limit-0.5), 0, 1)
	}

	containment := 30.0
	if settings.MaxBreakoutRatio > 0 {
		containment = 30 * clamp(1-wc.breakoutRatio/settings.MaxBreakoutRatio, 0, 1)
	}

	return math.Round((tightness+volume+containment)*10) / 10
}

func (d *AccumulationDetector) buildZone(symbol string, tf models.Timeframe, settings config.TimeframeSettings, candles []models.Candle, wc windowCheck) (models.Zone, error) {
	window := candles[len(candles)-wc.lookback:]

	atrRatio := 0.0
	if mid := (wc.upper + wc.lower) / 2; mid > 0 {
		atrRatio = averageTrueRange(window, wc.lookback/2) / mid
	}

	metrics := models.ZoneMetrics{
		RangePct:      wc.rangePct,
		RangeGrade:    wc.grade,
		BreakoutRatio: wc.breakoutRatio,
		VolumeRatio:   wc.volumeRatio,
		ATRRatio:      atrRatio,
		Strength:      strengthScore(wc, settings),
	}

	return models.NewZone(symbol, tf, wc.lower, wc.upper, zoneQuality(wc.volumeOK, wc.grade), wc.lookback, metrics, d.now())
}
