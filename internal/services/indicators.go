package services

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"github.com/irfndi/accumulation-radar/internal/models"
)

const defaultATRPeriod = 14

// seriesMean returns the arithmetic mean of values, or 0 for an empty slice.
func seriesMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sma := trend.NewSmaWithPeriod[float64](len(values))
	result := helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
	if len(result) == 0 {
		return 0
	}
	return result[len(result)-1]
}

// averageTrueRange returns the latest ATR over candles. Short series fall
// back to the mean high-low range.
func averageTrueRange(candles []models.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if period <= 0 || period > defaultATRPeriod {
		period = defaultATRPeriod
	}

	if len(candles) > period {
		atr := volatility.NewAtrWithPeriod[float64](period)
		result := helper.ChanToSlice(atr.Compute(
			helper.SliceToChan(models.Highs(candles)),
			helper.SliceToChan(models.Lows(candles)),
			helper.SliceToChan(models.Closes(candles)),
		))
		if len(result) > 0 {
			return result[len(result)-1]
		}
	}

	ranges := make([]float64, len(candles))
	for i, c := range candles {
		ranges[i] = c.Range()
	}
	return seriesMean(ranges)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
