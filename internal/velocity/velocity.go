// Package velocity computes rate-of-change and momentum classification from
// rolling history snapshots. Pure functions, no shared state.
package velocity

import (
	"errors"
	"math"

	"velotrack-go/internal/market"
)

// ErrInsufficientData marks a snapshot that cannot support a velocity
// computation yet: fewer than two samples, zero elapsed time, or an observed
// span shorter than the required fraction of the nominal window. Expected
// steady state early in a symbol's lifecycle, not an error condition.
var ErrInsufficientData = errors.New("insufficient data for velocity computation")

// DefaultMinCoverage is the fraction of the nominal window that must be
// covered by observed samples before a velocity is considered meaningful.
const DefaultMinCoverage = 0.5

// Thresholds configures momentum qualification. PercentPerMin maps each window
// to a %/min threshold; USDPerMin is an absolute USD/min threshold that
// qualifies independently, so big moves on high-priced assets are not missed
// when their percent change stays small.
type Thresholds struct {
	PercentPerMin map[market.Window]float64
	USDPerMin     float64
}

// Compute derives the velocity over a window from a snapshot sorted by
// timestamp ascending. The earliest and latest samples bound the measurement.
func Compute(samples []market.Sample, w market.Window, minCoverage float64) (market.VelocityResult, error) {
	if len(samples) < 2 {
		return market.VelocityResult{}, ErrInsufficientData
	}
	if minCoverage <= 0 {
		minCoverage = DefaultMinCoverage
	}

	first := samples[0]
	last := samples[len(samples)-1]

	elapsed := last.Ts.Sub(first.Ts).Seconds()
	if elapsed <= 0 {
		return market.VelocityResult{}, ErrInsufficientData
	}
	if elapsed < float64(w)*60*minCoverage {
		return market.VelocityResult{}, ErrInsufficientData
	}

	change := last.Price - first.Price
	changePct := change / first.Price * 100
	minutes := elapsed / 60

	return market.VelocityResult{
		Window:             w,
		StartPrice:         first.Price,
		EndPrice:           last.Price,
		StartTime:          first.Ts,
		EndTime:            last.Ts,
		ElapsedSeconds:     elapsed,
		PriceChange:        change,
		PriceChangePercent: changePct,
		VelocityUSDPerMin:  change / minutes,
		VelocityPctPerMin:  changePct / minutes,
	}, nil
}

// DetectMomentum classifies a velocity result. Either the relative or the
// absolute threshold qualifies on its own.
func DetectMomentum(v market.VelocityResult, th Thresholds) market.MomentumResult {
	pct := math.Abs(v.VelocityPctPerMin)
	usd := math.Abs(v.VelocityUSDPerMin)
	threshold := th.PercentPerMin[v.Window]

	dir := market.Down
	if v.PriceChange > 0 {
		dir = market.Up
	}

	high := pct >= threshold && threshold > 0
	if th.USDPerMin > 0 && usd >= th.USDPerMin {
		high = true
	}

	return market.MomentumResult{
		IsHighVelocity: high,
		Direction:      dir,
		VelocityPct:    pct,
		VelocityUSD:    usd,
		ThresholdUsed:  threshold,
	}
}
