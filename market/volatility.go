package market

import (
	"math"
	"time"
)

// VolatilityCalculator estimates daily realized volatility from sampled mid
// prices. Returns are scaled by the observed sampling interval so the result
// is comparable across sampling rates.
type VolatilityCalculator struct {
	windowSize int
	tradingDay time.Duration
	prices     []float64
	times      []time.Time
}

// NewVolatilityCalculator keeps the last windowSize samples; tradingDay is the
// session length used to scale to a daily figure.
func NewVolatilityCalculator(windowSize int, tradingDay time.Duration) *VolatilityCalculator {
	if windowSize < 2 {
		windowSize = 2
	}
	if tradingDay <= 0 {
		tradingDay = 390 * time.Minute
	}
	return &VolatilityCalculator{
		windowSize: windowSize,
		tradingDay: tradingDay,
		prices:     make([]float64, 0, windowSize),
		times:      make([]time.Time, 0, windowSize),
	}
}

// AddPrice adds a new mid price sample.
func (v *VolatilityCalculator) AddPrice(mid float64, ts time.Time) {
	if mid <= 0 {
		return
	}
	v.prices = append(v.prices, mid)
	v.times = append(v.times, ts)
	if len(v.prices) > v.windowSize {
		v.prices = v.prices[1:]
		v.times = v.times[1:]
	}
}

// DailyVol returns the realized daily volatility of log returns.
func (v *VolatilityCalculator) DailyVol() float64 {
	if len(v.prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(v.prices)-1)
	for i := 1; i < len(v.prices); i++ {
		returns = append(returns, math.Log(v.prices[i]/v.prices[i-1]))
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	perSample := math.Sqrt(ss / float64(len(returns)))

	span := v.times[len(v.times)-1].Sub(v.times[0])
	if span <= 0 {
		return perSample
	}
	interval := span / time.Duration(len(returns))
	if interval <= 0 {
		return perSample
	}
	return perSample * math.Sqrt(float64(v.tradingDay)/float64(interval))
}

// IsReady checks if we have enough data to calculate volatility.
func (v *VolatilityCalculator) IsReady() bool {
	return len(v.prices) >= 2
}
