package dsg

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.ngs.io/dsg-ingest/internal/domain"
)

func epoch(secs float64) *time.Time {
	t := time.Unix(0, 0).UTC().Add(time.Duration(secs * float64(time.Second)))
	return &t
}

func tenSecondAxis() []float64 {
	axis := make([]float64, 10)
	for i := range axis {
		axis[i] = float64(i * 10)
	}
	return axis
}

// TestSelectTimeWindow_Example tests the window and stride over a regular axis.
func TestSelectTimeWindow_Example(t *testing.T) {
	axis := tenSecondAxis()

	w, err := SelectTimeWindow(axis, "seconds since 1970-01-01", epoch(15), epoch(75), 1)
	if err != nil {
		t.Fatalf("SelectTimeWindow: %v", err)
	}
	if w.Begin != 2 || w.End != 8 {
		t.Fatalf("window: got [%d, %d), want [2, 8)", w.Begin, w.End)
	}
	var vals []float64
	for _, i := range w.Indices() {
		vals = append(vals, axis[i])
	}
	if diff := cmp.Diff([]float64{20, 30, 40, 50, 60, 70}, vals); diff != "" {
		t.Errorf("values (-want +got):\n%s", diff)
	}

	w, err = SelectTimeWindow(axis, "seconds since 1970-01-01", epoch(15), epoch(75), 3)
	if err != nil {
		t.Fatalf("SelectTimeWindow stride 3: %v", err)
	}
	vals = vals[:0]
	for _, i := range w.Indices() {
		vals = append(vals, axis[i])
	}
	if diff := cmp.Diff([]float64{20, 50}, vals); diff != "" {
		t.Errorf("stride 3 values (-want +got):\n%s", diff)
	}
	if w.Len() != 2 {
		t.Errorf("Len: got %d, want 2", w.Len())
	}
}

// TestSelectTimeWindow_Bounds tests open bounds, unit conversion and failures.
func TestSelectTimeWindow_Bounds(t *testing.T) {
	axis := tenSecondAxis()

	w, err := SelectTimeWindow(axis, "seconds since 1970-01-01", nil, nil, 1)
	if err != nil || w.Begin != 0 || w.End != 10 {
		t.Errorf("open window: got %+v, %v", w, err)
	}

	w, err = SelectTimeWindow(axis, "seconds since 1970-01-01", epoch(60), nil, 1)
	if err != nil || w.Begin != 6 || w.End != 10 {
		t.Errorf("start only: got %+v, %v", w, err)
	}

	minutes := []float64{0, 1, 2, 3}
	w, err = SelectTimeWindow(minutes, "minutes since 1970-01-01 00:00:00", epoch(60), epoch(120), 1)
	if err != nil || w.Begin != 1 || w.End != 3 {
		t.Errorf("minute axis: got %+v, %v", w, err)
	}

	if _, err := SelectTimeWindow(axis, "seconds since 1970-01-01", epoch(1000), epoch(2000), 1); !errors.Is(err, domain.ErrNoValidData) {
		t.Errorf("empty window: got %v, want ErrNoValidData", err)
	}
	if _, err := SelectTimeWindow(axis, "seconds since 1970-01-01", nil, nil, 0); err == nil {
		t.Error("stride 0 should fail")
	}
	if _, err := SelectTimeWindow(axis, "meters", nil, nil, 1); err == nil {
		t.Error("bad units should fail")
	}
}

// TestParseTimeUnits tests the reference spellings found in instrument files.
func TestParseTimeUnits(t *testing.T) {
	epochRef := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		units   string
		seconds float64
		ref     time.Time
	}{
		{"seconds since 1970-01-01", 1, epochRef},
		{"seconds since 1970-01-01 00:00:00", 1, epochRef},
		{"Seconds since 1970-01-01 00:00:00 UTC", 1, epochRef},
		{"seconds since 1970-01-01T00:00:00Z", 1, epochRef},
		{"seconds since 1970-1-1 0:0:0", 1, epochRef},
		{"seconds since 1970-01-01 00:00:00.0", 1, epochRef},
		{"hours since 1970-01-01 00:00:00+00:00", 3600, epochRef},
		{"days since 1950-01-01 00:00:00 UTC", 86400, time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"minutes since 2010-10-27 12:30:15.5", 60, time.Date(2010, 10, 27, 12, 30, 15, 5e8, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			tu, err := ParseTimeUnits(tt.units)
			if err != nil {
				t.Fatalf("ParseTimeUnits: %v", err)
			}
			if tu.Seconds != tt.seconds {
				t.Errorf("unit seconds: got %v, want %v", tu.Seconds, tt.seconds)
			}
			if !tu.Reference.Equal(tt.ref) {
				t.Errorf("reference: got %v, want %v", tu.Reference, tt.ref)
			}
		})
	}

	for _, bad := range []string{"", "seconds", "furlongs since 1970-01-01", "seconds since yesterday"} {
		if _, err := ParseTimeUnits(bad); err == nil {
			t.Errorf("ParseTimeUnits(%q) should fail", bad)
		}
	}
}

// TestTimeUnits_RoundTrip tests axis conversion both ways.
func TestTimeUnits_RoundTrip(t *testing.T) {
	tu, _ := ParseTimeUnits("days since 1950-01-01 00:00:00")
	want := time.Date(2010, 10, 27, 6, 30, 0, 0, time.UTC)

	v := tu.ToAxis(want)
	got, ok := tu.FromAxis(v)
	if !ok {
		t.Fatal("FromAxis rejected a valid value")
	}
	if d := got.Sub(want); d < -time.Microsecond || d > time.Microsecond {
		t.Errorf("round trip: got %v, want %v", got, want)
	}

	for _, bad := range []float64{math.NaN(), math.Inf(1), 1e300} {
		if _, ok := tu.FromAxis(bad); ok {
			t.Errorf("FromAxis(%v) should fail", bad)
		}
	}
}
