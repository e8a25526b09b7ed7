// Package numerics holds the stateless math helpers shared by the planner,
// the impact estimator and the router.
package numerics

import (
	"math"

	"execution-kit/execerr"
)

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sum returns the plain sum of xs.
func Sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

// Normalize scales xs so they sum to 1. Negative entries or a non-positive
// total are rejected.
func Normalize(xs []float64) ([]float64, error) {
	if len(xs) == 0 {
		return nil, execerr.Invalid("empty weight vector")
	}
	total := 0.0
	for i, x := range xs {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, execerr.Invalid("weight %d is %v", i, x)
		}
		total += x
	}
	if total <= 0 {
		return nil, execerr.Invalid("weights sum to %v", total)
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x / total
	}
	return out, nil
}

// Cumulative returns running sums of xs.
func Cumulative(xs []float64) []float64 {
	out := make([]float64, len(xs))
	run := 0.0
	for i, x := range xs {
		run += x
		out[i] = run
	}
	return out
}

// Mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return Sum(xs) / float64(len(xs))
}

// Slope is the least-squares slope of ys against xs.
func Slope(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var num, den float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		num += dx * (ys[i] - my)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Pearson correlation of xs and ys; 0 when either series is constant.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return sxy / math.Sqrt(sxx*syy)
}

// SplitEven divides total into n integer parts; the earliest parts absorb
// the remainder so max-min <= 1.
func SplitEven(total int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	out := make([]int64, n)
	base := total / int64(n)
	rem := total % int64(n)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out
}

const floorTolerance = 1e-6

// AllocateCumulative converts a cumulative fraction curve (non-decreasing,
// ending at 1) into integer quantities that sum to total exactly. Each part
// is floor(total*F[i]) - floor(total*F[i-1]); the last part takes whatever
// is left. A small tolerance keeps 0.1*10 style products from flooring one
// unit short.
func AllocateCumulative(total int64, cum []float64) []int64 {
	n := len(cum)
	if n == 0 {
		return nil
	}
	out := make([]int64, n)
	var prev int64
	for i := 0; i < n-1; i++ {
		f := Clamp(cum[i], 0, 1)
		at := int64(math.Floor(float64(total)*f + floorTolerance))
		if at < prev {
			at = prev
		}
		if at > total {
			at = total
		}
		out[i] = at - prev
		prev = at
	}
	out[n-1] = total - prev
	return out
}

// SinhRatio returns sinh(a)/sinh(b) for 0 <= a <= b, b > 0, using
// e^(a-b)·(1-e^(-2a))/(1-e^(-2b)) so large arguments never overflow.
func SinhRatio(a, b float64) float64 {
	if b <= 0 {
		return math.NaN()
	}
	if a <= 0 {
		return 0
	}
	return math.Exp(a-b) * (-math.Expm1(-2*a)) / (-math.Expm1(-2*b))
}

