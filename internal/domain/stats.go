package domain

import (
	"math"
	"sort"
)

const (
	// MeasuredHistogramBins is the histogram resolution for in situ data.
	MeasuredHistogramBins = 100
	// SampledHistogramBins is the histogram resolution for sampled (lab) data.
	SampledHistogramBins = 10

	modeBins = 100
)

// Stats holds the summary statistics stored per activity parameter.
type Stats struct {
	Number int64
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	Mode   float64
	P025   float64
	P975   float64
	P010   float64
	P990   float64
}

// Summarize computes Stats and an equal-width histogram of values.
// It returns false for an empty input, for which no summary exists.
func Summarize(values []float64, bins int) (Stats, []HistogramBin, bool) {
	if len(values) == 0 {
		return Stats{}, nil, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	s := Stats{
		Number: int64(len(sorted)),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   sum / float64(len(sorted)),
		Median: Median(sorted),
		Mode:   Mode(sorted),
		P025:   Percentile(sorted, 0.025),
		P975:   Percentile(sorted, 0.975),
		P010:   Percentile(sorted, 0.01),
		P990:   Percentile(sorted, 0.99),
	}
	return s, Histogram(sorted, bins), true
}

// Percentile returns the p-th fraction (0..1) of sorted using linear
// interpolation between the closest ranks. NaN is returned for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	k := float64(len(sorted)-1) * p
	f := math.Floor(k)
	c := math.Ceil(k)
	if f == c {
		return sorted[int(k)]
	}
	return sorted[int(f)]*(c-k) + sorted[int(c)]*(k-f)
}

// Median is the 0.5 percentile of sorted.
func Median(sorted []float64) float64 {
	return Percentile(sorted, 0.5)
}

// Mode estimates the most frequent value as the center of the fullest bin of a
// 100-bin histogram. When the first bin wins its lower edge is returned.
func Mode(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	hist := Histogram(values, modeBins)
	best := 0
	for i, b := range hist {
		if b.Count > hist[best].Count {
			best = i
		}
	}
	if best == 0 {
		return hist[0].Low
	}
	return (hist[best].Low + hist[best].High) / 2
}

// Histogram counts values into bins of equal width spanning [min, max].
// The last bin is closed on the right. A constant input spans [v-0.5, v+0.5].
func Histogram(values []float64, bins int) []HistogramBin {
	if len(values) == 0 || bins < 1 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}

	width := (hi - lo) / float64(bins)
	out := make([]HistogramBin, bins)
	for i := range out {
		out[i].Low = lo + float64(i)*width
		out[i].High = lo + float64(i+1)*width
	}
	out[bins-1].High = hi

	for _, v := range values {
		i := int((v - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		if i < 0 {
			i = 0
		}
		// Guard against rounding at interior edges.
		if i > 0 && v < out[i].Low {
			i--
		} else if i < bins-1 && v >= out[i].High {
			i++
		}
		out[i].Count++
	}
	return out
}
