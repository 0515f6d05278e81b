package domain

import (
	"sort"
	"time"
)

// Row is one sample produced by the extractor: a position, an instant and the
// values of every parameter observed there.
type Row struct {
	Time    time.Time
	Lon     float64
	Lat     float64
	Depth   float64
	Nominal *NominalLocation // Set for station feature types.

	Values map[string]float64

	// Definitions describes each key of Values. It is shared between rows and
	// must not be modified through a row.
	Definitions map[string]ParameterDefinition
}

// Names returns the value names in sorted order.
func (r *Row) Names() []string {
	names := make([]string, 0, len(r.Values))
	for name := range r.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RowKind tags the outcome of extracting one row.
type RowKind int

const (
	// RowOK carries a row with at least one value.
	RowOK RowKind = iota
	// RowSkip marks a row rejected for the reason given.
	RowSkip
	// RowNoData marks a row whose values were all missing.
	RowNoData
)

func (k RowKind) String() string {
	switch k {
	case RowOK:
		return "ok"
	case RowSkip:
		return "skip"
	case RowNoData:
		return "no_data"
	}
	return "unknown"
}

// RowResult is the outcome of one extraction step.
type RowResult struct {
	Kind   RowKind
	Row    Row
	Reason string
}

// OK wraps a loadable row.
func OK(row Row) RowResult { return RowResult{Kind: RowOK, Row: row} }

// SkipRow reports a rejected row.
func SkipRow(reason string) RowResult { return RowResult{Kind: RowSkip, Reason: reason} }

// NoData reports a row whose values were all missing.
func NoData() RowResult { return RowResult{Kind: RowNoData} }
