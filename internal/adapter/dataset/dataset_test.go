package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/google/go-cmp/cmp"

	"go.ngs.io/dsg-ingest/internal/domain"
	"go.ngs.io/dsg-ingest/internal/logger"
)

// createTrajectoryFile writes a small CF trajectory file with a time
// dimension and a packed temperature variable.
func createTrajectoryFile(t *testing.T, path string) {
	t.Helper()
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		t.Fatalf("create nc: %v", err)
	}
	defer func() { _ = f.Close() }()

	if err := f.Attr("featureType").WriteBytes([]byte("trajectory")); err != nil {
		t.Fatalf("write featureType: %v", err)
	}

	timeDim, _ := f.AddDim("time", 4)
	vtime, _ := f.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	vtemp, _ := f.AddVar("temperature", netcdf.SHORT, []netcdf.Dim{timeDim})
	_ = vtime.Attr("standard_name").WriteBytes([]byte("time"))
	_ = vtime.Attr("units").WriteBytes([]byte("seconds since 1970-01-01 00:00:00"))
	_ = vtemp.Attr("scale_factor").WriteFloat64s([]float64{0.01})
	_ = vtemp.Attr("add_offset").WriteFloat64s([]float64{10})
	_ = vtemp.Attr("_FillValue").WriteInt16s([]int16{-999})

	if err := f.EndDef(); err != nil {
		t.Fatalf("enddef: %v", err)
	}
	if err := vtime.WriteFloat64s([]float64{0, 10, 20, 30}); err != nil {
		t.Fatalf("write time: %v", err)
	}
	if err := vtemp.WriteInt16s([]int16{100, 200, -999, 300}); err != nil {
		t.Fatalf("write temperature: %v", err)
	}
}

// TestNetCDFSource tests attribute, slicing and unpacking behavior.
func TestNetCDFSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traj.nc")
	createTrajectoryFile(t, path)

	src, err := OpenNetCDF(path)
	if err != nil {
		t.Fatalf("OpenNetCDF: %v", err)
	}
	defer func() { _ = src.Close() }()

	if ft, _ := src.Attributes().String("featureType"); ft != "trajectory" {
		t.Errorf("featureType: got %q", ft)
	}
	names := src.Variables()
	sort.Strings(names)
	if diff := cmp.Diff([]string{"temperature", "time"}, names); diff != "" {
		t.Errorf("Variables mismatch (-want +got):\n%s", diff)
	}

	tv, err := src.Variable("time")
	if err != nil {
		t.Fatalf("Variable(time): %v", err)
	}
	if diff := cmp.Diff([]int{4}, tv.Shape()); diff != "" {
		t.Errorf("time shape (-want +got):\n%s", diff)
	}
	a, err := tv.Read(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("Read time: %v", err)
	}
	if diff := cmp.Diff([]float64{10, 20}, a.Data); diff != "" {
		t.Errorf("time slice (-want +got):\n%s", diff)
	}

	temp, _ := src.Variable("temperature")
	all, err := ReadAll(context.Background(), temp)
	if err != nil {
		t.Fatalf("ReadAll temperature: %v", err)
	}
	want := []float64{11, 12, math.NaN(), 13}
	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(all.Data[i]) {
				t.Errorf("temperature[%d]: fill not masked, got %v", i, all.Data[i])
			}
			continue
		}
		if math.Abs(all.Data[i]-want[i]) > 1e-9 {
			t.Errorf("temperature[%d]: got %v, want %v", i, all.Data[i], want[i])
		}
	}

	if _, err := src.Variable("salinity"); !errors.Is(err, domain.ErrVariableNotFound) {
		t.Errorf("missing variable: got %v", err)
	}
}

// TestMemoryVariable_Read tests hyperslabs of a 2-D array.
func TestMemoryVariable_Read(t *testing.T) {
	v := &MemoryVariable{
		VarName: "temp",
		Dims:    []string{"time", "depth"},
		Lens:    []int{3, 2},
		Data:    []float64{1, 2, 3, 4, 5, 6},
	}
	a, err := v.Read(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff(Array{Shape: []int{2, 2}, Data: []float64{3, 4, 5, 6}}, a); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
	if a.Stride() != 2 {
		t.Errorf("Stride: got %d, want 2", a.Stride())
	}
	if _, err := v.Read(context.Background(), 2, 4); err == nil {
		t.Error("expected out of bounds error")
	}
}

// TestAttributes tests numeric and text attribute access.
func TestAttributes(t *testing.T) {
	attrs := Attributes{
		"units":         "m",
		"_FillValue":    float32(-999),
		"missing_value": []float64{1e-34},
		"actual_range":  []int16{-5, 5},
	}
	if s, ok := attrs.String("units"); !ok || s != "m" {
		t.Errorf("String(units) = %q, %v", s, ok)
	}
	if f, ok := attrs.Float("_FillValue"); !ok || f != -999 {
		t.Errorf("Float(_FillValue) = %v, %v", f, ok)
	}
	if diff := cmp.Diff([]float64{-999, 1e-34}, attrs.MissingValues()); diff != "" {
		t.Errorf("MissingValues (-want +got):\n%s", diff)
	}
	if got := attrs.Text("actual_range"); got != "-5 5" {
		t.Errorf("Text(actual_range) = %q", got)
	}
	if _, ok := attrs.Float("units"); ok {
		t.Error("Float on text attribute should fail")
	}
}

type flakyVariable struct {
	*MemoryVariable
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flakyVariable) Read(ctx context.Context, begin, end int) (Array, error) {
	if f.calls.Add(1) <= f.failures {
		return Array{}, f.err
	}
	return f.MemoryVariable.Read(ctx, begin, end)
}

type flakySource struct {
	*MemorySource
	v *flakyVariable
}

func (s *flakySource) Variable(string) (Variable, error) { return s.v, nil }

// TestWithRetry tests retry of transient errors and immediate return of permanent ones.
func TestWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxElapsed: time.Second}

	t.Run("transient", func(t *testing.T) {
		fv := &flakyVariable{
			MemoryVariable: NewMemoryVariable("x", "time", nil, []float64{1, 2}),
			failures:       2,
			err:            errors.New("connection reset"),
		}
		src := WithRetry(&flakySource{MemorySource: NewMemorySource(nil), v: fv}, policy, logger.NewLogfLogger(t))
		v, _ := src.Variable("x")
		a, err := v.Read(context.Background(), 0, 2)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if len(a.Data) != 2 || fv.calls.Load() != 3 {
			t.Errorf("got %d values after %d calls", len(a.Data), fv.calls.Load())
		}
	})

	t.Run("permanent", func(t *testing.T) {
		fv := &flakyVariable{
			MemoryVariable: NewMemoryVariable("x", "time", nil, []float64{1}),
			failures:       10,
			err:            fmt.Errorf("x: %w", domain.ErrUnsupportedShape),
		}
		src := WithRetry(&flakySource{MemorySource: NewMemorySource(nil), v: fv}, policy, logger.NopLogger)
		v, _ := src.Variable("x")
		_, err := v.Read(context.Background(), 0, 1)
		if !errors.Is(err, domain.ErrUnsupportedShape) {
			t.Fatalf("got %v, want ErrUnsupportedShape", err)
		}
		if fv.calls.Load() != 1 {
			t.Errorf("permanent error retried: %d calls", fv.calls.Load())
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		fv := &flakyVariable{
			MemoryVariable: NewMemoryVariable("x", "time", nil, []float64{1}),
			failures:       100,
			err:            errors.New("timeout"),
		}
		src := WithRetry(&flakySource{MemorySource: NewMemorySource(nil), v: fv}, policy, logger.NopLogger)
		v, _ := src.Variable("x")
		if _, err := v.Read(context.Background(), 0, 1); err == nil {
			t.Fatal("expected error after retries")
		}
		if got := fv.calls.Load(); got != 4 {
			t.Errorf("calls: got %d, want 4", got)
		}
	})
}

// TestFetcher tests download and cache reuse.
func TestFetcher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("CDF-payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(FetcherConfig{CacheDir: dir, Retries: 1, Logger: logger.NewLogfLogger(t)})

	url := srv.URL + "/data/Dorado389_2010_300_00_300_00_decim.nc"
	p1, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if filepath.Dir(p1) != dir {
		t.Errorf("cached outside cache dir: %s", p1)
	}
	body, _ := os.ReadFile(p1)
	if string(body) != "CDF-payload" {
		t.Errorf("cached content: %q", body)
	}

	p2, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if p1 != p2 || hits.Load() != 1 {
		t.Errorf("cache not reused: %s vs %s, %d hits", p1, p2, hits.Load())
	}
}

// TestFetcher_NotFound tests that HTTP errors are reported.
func TestFetcher_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewFetcher(FetcherConfig{CacheDir: t.TempDir(), Retries: 0})
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.nc"); err == nil {
		t.Fatal("expected error for 404")
	}
}
