package dsg

import (
	"fmt"
	"math"
	"time"

	"go.ngs.io/dsg-ingest/internal/domain"
)

// Window is a half-open range of time indices read with a stride.
type Window struct {
	Begin  int
	End    int // One past the last in-range index.
	Stride int
}

// Indices lists Begin, Begin+Stride, ... below End.
func (w Window) Indices() []int {
	var out []int
	for i := w.Begin; i < w.End; i += w.Stride {
		out = append(out, i)
	}
	return out
}

// Len is the number of indices the window selects.
func (w Window) Len() int {
	if w.End <= w.Begin {
		return 0
	}
	return (w.End - w.Begin + w.Stride - 1) / w.Stride
}

// SelectTimeWindow returns the indices of axis whose values fall within
// [start, end] after converting both to the axis units. A nil start selects
// from the first value and a nil end up to the last value.
func SelectTimeWindow(axis []float64, units string, start, end *time.Time, stride int) (Window, error) {
	if stride < 1 {
		return Window{}, fmt.Errorf("stride must be at least 1, got %d", stride)
	}
	if len(axis) == 0 {
		return Window{}, fmt.Errorf("empty time axis: %w", domain.ErrNoValidData)
	}
	tu, err := ParseTimeUnits(units)
	if err != nil {
		return Window{}, err
	}

	lo := math.Inf(-1)
	if start != nil {
		lo = tu.ToAxis(*start)
	}
	hi := axis[len(axis)-1]
	if end != nil {
		hi = tu.ToAxis(*end)
	}

	first, last := -1, -1
	for i, v := range axis {
		if math.IsNaN(v) || v < lo || v > hi {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return Window{}, fmt.Errorf("no time values in [%v, %v]: %w", lo, hi, domain.ErrNoValidData)
	}
	return Window{Begin: first, End: last + 1, Stride: stride}, nil
}
