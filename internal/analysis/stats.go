package analysis

import (
	"math"
	"sort"
)

func distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// coefficientOfVariation uses the sample standard deviation. It needs at
// least two values and a non-zero mean.
func coefficientOfVariation(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	avg := mean(xs)
	if avg == 0 {
		return 0, false
	}
	var variance float64
	for _, x := range xs {
		variance += (x - avg) * (x - avg)
	}
	variance /= float64(len(xs) - 1)
	return math.Sqrt(variance) / avg, true
}

// trimmed drops the lowest and highest fraction of values. xs must be sorted.
func trimmed(xs []float64, fraction float64) []float64 {
	n := int(math.Floor(float64(len(xs)) * fraction))
	if n == 0 {
		return xs
	}
	return xs[n : len(xs)-n]
}

// withinIQR keeps values inside 1.5 interquartile ranges of the quartiles.
// xs must be sorted.
func withinIQR(xs []float64) []float64 {
	q1 := xs[len(xs)/4]
	q3 := xs[len(xs)*3/4]
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr

	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if x >= lo && x <= hi {
			out = append(out, x)
		}
	}
	return out
}

func sorted(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}
