package pipeline

import (
	"math"
	"time"

	"btcgold-correlation/internal/storage"
)

// Aggregate computes the Pearson correlation of BTC price against gold price
// over every complete observation in history. Fewer than two complete rows, or
// a constant series, yields NaN.
func Aggregate(history []storage.Observation, computedAt time.Time) storage.CorrelationResult {
	btc := make([]float64, 0, len(history))
	gold := make([]float64, 0, len(history))
	for _, obs := range history {
		if !obs.Complete() {
			continue
		}
		btc = append(btc, obs.BTCPrice.Decimal.InexactFloat64())
		gold = append(gold, obs.GoldPrice.Decimal.InexactFloat64())
	}

	return storage.CorrelationResult{
		ComputedAt: computedAt,
		Value:      Pearson(btc, gold),
		SampleSize: len(btc),
	}
}

// Pearson returns the sample correlation coefficient of xs and ys, or NaN when
// it is undefined.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return math.NaN()
	}

	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}

	r := sxy / math.Sqrt(sxx*syy)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return math.NaN()
	}
	return math.Max(-1, math.Min(1, r))
}
