package stats

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// quadrature nodes for the inner (range) and outer (scale) integrals
	rangeNodes = 160
	scaleNodes = 160

	// above this many degrees of freedom the scale is treated as known
	largeDF = 25000
)

var stdNormal = distuv.UnitNormal

// rangeCDF is the distribution function of the range of k independent
// standard normal variates evaluated at w.
func rangeCDF(w float64, k int) float64 {
	if w <= 0 {
		return 0
	}
	kf := float64(k)
	f := func(z float64) float64 {
		d := stdNormal.CDF(z+w) - stdNormal.CDF(z)
		if d <= 0 {
			return 0
		}
		return stdNormal.Prob(z) * math.Pow(d, kf-1)
	}
	v := kf * quad.Fixed(f, -8.5, 8.5, rangeNodes, quad.Legendre{}, 0)
	return clamp01(v)
}

// PTukey is the distribution function of the studentized range statistic for
// k groups and df error degrees of freedom.
func PTukey(q float64, k int, df float64) float64 {
	if math.IsNaN(q) || k < 2 || df < 1 {
		return math.NaN()
	}
	if q <= 0 {
		return 0
	}
	if math.IsInf(q, 1) {
		return 1
	}
	if df > largeDF || math.IsInf(df, 1) {
		return rangeCDF(q, k)
	}

	// Integrate the range CDF against the density of s = sqrt(chi2(df)/df).
	half := df / 2
	lg, _ := math.Lgamma(half)
	logNorm := half*math.Log(df) - lg - (half-1)*math.Ln2
	spread := 12 / math.Sqrt(2*df)
	lo := math.Max(0, 1-spread)
	hi := 1 + spread
	f := func(s float64) float64 {
		if s <= 0 {
			return 0
		}
		logDens := logNorm + (df-1)*math.Log(s) - df*s*s/2
		return math.Exp(logDens) * rangeCDF(q*s, k)
	}
	return clamp01(quad.Fixed(f, lo, hi, scaleNodes, quad.Legendre{}, 0))
}

// QTukey is the quantile function of the studentized range: the q for which
// PTukey(q, k, df) equals p.
func QTukey(p float64, k int, df float64) float64 {
	if math.IsNaN(p) || p < 0 || p > 1 || k < 2 || df < 1 {
		return math.NaN()
	}
	if p == 0 {
		return 0
	}
	if p == 1 {
		return math.Inf(1)
	}
	lo, hi := 0.0, 4.0
	for PTukey(hi, k, df) < p {
		lo = hi
		hi *= 2
		if hi > 1e4 {
			return math.Inf(1)
		}
	}
	for i := 0; i < 60 && hi-lo > 1e-9; i++ {
		mid := (lo + hi) / 2
		if PTukey(mid, k, df) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
