package services

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Trend is the slope/intercept of an ordinary least squares fit.
type Trend struct {
	Slope     float64
	Intercept float64
}

// calculateMean returns the arithmetic mean, 0 for an empty slice.
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStandardDeviation returns the population standard deviation.
func calculateStandardDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := calculateMean(values)
	sumSquaredDiff := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	return math.Sqrt(sumSquaredDiff / float64(len(values)))
}

// calculateTrendLine fits y = slope*x + intercept over the paired series.
func calculateTrendLine(xs, ys []float64) Trend {
	n := float64(len(xs))
	if n == 0 || len(xs) != len(ys) {
		return Trend{}
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Trend{Intercept: sumY / n}
	}
	slope := (n*sumXY - sumX*sumY) / denom
	return Trend{Slope: slope, Intercept: (sumY - slope*sumX) / n}
}

// percentile returns the value at fraction q of the sorted slice using the
// floor-index convention (matching the historical behavior of the system).
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(float64(len(sorted)) * q))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// sortedCopy returns an ascending copy of values.
func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampScore bounds any score or percentage to [0, 100].
func clampScore(v float64) float64 {
	return clamp(v, 0, 100)
}

// clampRatio bounds a probability-like ratio to [0, 1].
func clampRatio(v float64) float64 {
	return clamp(v, 0, 1)
}

// roundMoney rounds a currency amount to 2 decimal places.
func roundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// round1 rounds to one decimal place, used for score output.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
