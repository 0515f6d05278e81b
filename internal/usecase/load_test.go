package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"go.ngs.io/dsg-ingest/internal/adapter/dataset"
	boltstore "go.ngs.io/dsg-ingest/internal/adapter/store/bolt"
	"go.ngs.io/dsg-ingest/internal/adapter/store/terrain"
	"go.ngs.io/dsg-ingest/internal/domain"
	"go.ngs.io/dsg-ingest/internal/events"
	"go.ngs.io/dsg-ingest/internal/logger"
	"go.ngs.io/dsg-ingest/internal/metrics"
)

const secondsSinceEpoch = "seconds since 1970-01-01 00:00:00"

type memoryOpener map[string]dataset.Source

func (o memoryOpener) Open(_ context.Context, location string) (dataset.Source, error) {
	src, ok := o[location]
	if !ok {
		return nil, fmt.Errorf("%s: %w", location, os.ErrNotExist)
	}
	return src, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LoadCompleted
}

func (p *recordingPublisher) PublishLoadCompleted(_ context.Context, ev events.LoadCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func axisVar(name, sn, dim string, data ...float64) *dataset.MemoryVariable {
	return dataset.NewMemoryVariable(name, dim, dataset.Attributes{"standard_name": sn}, data)
}

// doradoSource is a six sample AUV trajectory: a fill value, an all-missing
// row, a 6000 m depth and a zero/zero fix.
func doradoSource() *dataset.MemorySource {
	coords := "time depth latitude longitude"
	return dataset.NewMemorySource(dataset.Attributes{"featureType": "trajectory", "title": "Dorado389 2010 300"},
		dataset.NewMemoryVariable("time", "time", dataset.Attributes{"standard_name": "time", "units": secondsSinceEpoch},
			[]float64{0, 10, 20, 30, 40, 50}),
		axisVar("latitude", "latitude", "time", 36.8, 36.81, 36.82, 36.83, 0, 36.85),
		axisVar("longitude", "longitude", "time", -122, -122.01, -122.02, -122.03, 0, -122.05),
		axisVar("depth", "depth", "time", 1, 2, 3, 6000, 5, 6),
		dataset.NewMemoryVariable("temperature", "time",
			dataset.Attributes{"coordinates": coords, "units": "degC", "long_name": "Temperature", "_FillValue": -999.0},
			[]float64{12, -999, math.NaN(), 11, 10, 9}),
		dataset.NewMemoryVariable("salinity", "time",
			dataset.Attributes{"coordinates": coords, "standard_name": "sea_water_salinity"},
			[]float64{33.5, 33.6, math.NaN(), 33.7, 33.8, 33.9}),
	)
}

// mooringSource is a two level mooring laid out as time x depth x lat x lon.
func mooringSource() *dataset.MemorySource {
	return dataset.NewMemorySource(dataset.Attributes{"cdm_data_type": "Station"},
		dataset.NewMemoryVariable("time", "time", dataset.Attributes{"standard_name": "time", "units": "days since 2010-01-01"},
			[]float64{0, 1, 2}),
		axisVar("depth", "depth", "depth", 10, 50),
		axisVar("lat", "latitude", "lat", 36.7),
		axisVar("lon", "longitude", "lon", -122.1),
		&dataset.MemoryVariable{
			VarName: "T",
			Attrs:   dataset.Attributes{"standard_name": "sea_water_temperature", "_FillValue": -999.0},
			Dims:    []string{"time", "depth", "lat", "lon"},
			Lens:    []int{3, 2, 1, 1},
			Data:    []float64{14, 9, 14.5, -999, 15, 8},
		},
	)
}

// deepSource is a trajectory below the accepted depth range throughout.
func deepSource() *dataset.MemorySource {
	return dataset.NewMemorySource(dataset.Attributes{"featureType": "trajectory"},
		dataset.NewMemoryVariable("time", "time", dataset.Attributes{"standard_name": "time", "units": secondsSinceEpoch},
			[]float64{0, 10, 20}),
		axisVar("latitude", "latitude", "time", 36.8, 36.81, 36.82),
		axisVar("longitude", "longitude", "time", -122, -122.01, -122.02),
		axisVar("depth", "depth", "time", 6000, 7000, 8000),
		dataset.NewMemoryVariable("temperature", "time",
			dataset.Attributes{"coordinates": "time depth latitude longitude", "units": "degC"},
			[]float64{2.1, 2.0, 1.9}),
	)
}

type fixture struct {
	store     *boltstore.Store
	publisher *recordingPublisher
	metrics   *metrics.Metrics
	uc        *LoadUseCase
}

func newFixture(t *testing.T, grid terrain.Grid) *fixture {
	t.Helper()
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "dsg.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store:     st,
		publisher: &recordingPublisher{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	f.uc = NewLoadUseCase(LoadDeps{
		Datastore: st,
		Opener: memoryOpener{
			"dorado.nc":  doradoSource(),
			"mooring.nc": mooringSource(),
			"deep.nc":    deepSource(),
		},
		Terrain:   grid,
		Metrics:   f.metrics,
		Publisher: f.publisher,
		Logger:    logger.NewLogfLogger(t),
	})
	return f
}

func doradoRequest() LoadRequest {
	return LoadRequest{
		DatasetURL:   "dorado.nc",
		CampaignName: "Monterey Bay 2010",
		ActivityName: "Dorado389_2010_300",
		ActivityType: "AUV Mission",
		PlatformName: "dorado",
		PlatformType: "auv",
		Include:      []string{"temperature", "salinity"},
	}
}

func TestLoadRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LoadRequest)
		wantErr string
	}{
		{"valid", func(*LoadRequest) {}, ""},
		{"no url", func(r *LoadRequest) { r.DatasetURL = " " }, "dataset_url"},
		{"no activity", func(r *LoadRequest) { r.ActivityName = "" }, "activity_name"},
		{"no platform type", func(r *LoadRequest) { r.PlatformType = "" }, "platform_type"},
		{"negative stride", func(r *LoadRequest) { r.Stride = -2 }, "stride"},
		{"bad feature type", func(r *LoadRequest) { r.FeatureType = "swath" }, "feature_type"},
		{"incomplete override", func(r *LoadRequest) {
			r.Overrides = domain.CoordinateOverrides{"T": {Time: "time"}}
		}, "coordinate override"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := doradoRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestExecute_Trajectory tests counts, derived parameters and summaries of a
// trajectory load.
func TestExecute_Trajectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.uc.Execute(ctx, doradoRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("status: got %s", res.Status)
	}

	counts := map[string]int64{
		"values":       res.ValuesLoaded,
		"measurements": res.MeasurementsCreated,
		"rows":         res.RowsRead,
		"rejected":     res.RowsRejected,
		"no data":      res.RowsNoData,
		"failed":       res.ValuesFailed,
		"total":        res.NumMeasuredParameters,
	}
	wantCounts := map[string]int64{
		"values":       9, // 2 rows with 4 values, 1 row with salinity only
		"measurements": 3,
		"rows":         6,
		"rejected":     2,
		"no data":      1,
		"failed":       0,
		"total":        9,
	}
	if diff := cmp.Diff(wantCounts, counts); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
	wantRejected := map[string]int64{"depth out of range": 1, "missing position": 1}
	if diff := cmp.Diff(wantRejected, res.RejectedByReason); diff != "" {
		t.Errorf("rejected by reason (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"temperature", "salinity", "sea_water_sigma_t", "spice"}, res.VariablesLoaded); diff != "" {
		t.Errorf("variables (-want +got):\n%s", diff)
	}

	a, err := f.store.GetActivity(ctx, res.ActivityID)
	if err != nil {
		t.Fatalf("GetActivity: %v", err)
	}
	if a.MinDepth == nil || *a.MinDepth != 1 || a.MaxDepth == nil || *a.MaxDepth != 6 {
		t.Errorf("depth range: got %v..%v, want 1..6", a.MinDepth, a.MaxDepth)
	}
	if a.NumMeasuredParameters != 9 {
		t.Errorf("NumMeasuredParameters: got %d", a.NumMeasuredParameters)
	}
	if !strings.HasPrefix(a.Comment, "9 MeasuredParameters loaded: temperature salinity sea_water_sigma_t spice. Loaded on ") || !strings.HasSuffix(a.Comment, "Z") {
		t.Errorf("comment: %q", a.Comment)
	}
	if len(a.MapTrack) < 2 || a.MapTrack[0] != (domain.Point{Lon: -122, Lat: 36.8}) {
		t.Errorf("map track: %v", a.MapTrack)
	}
	if a.StartDate == nil || a.StartDate.Unix() != 0 || a.EndDate == nil || a.EndDate.Unix() != 50 {
		t.Errorf("activity span: %v..%v", a.StartDate, a.EndDate)
	}

	aps, err := f.store.ActivityParameters(ctx, res.ActivityID)
	if err != nil {
		t.Fatalf("ActivityParameters: %v", err)
	}
	if len(aps) != 4 {
		t.Fatalf("activity parameters: got %d, want 4", len(aps))
	}
	temp, err := f.store.FindParameterByName(ctx, "temperature")
	if err != nil {
		t.Fatalf("FindParameterByName: %v", err)
	}
	for _, ap := range aps {
		if ap.ParameterID != temp.ID {
			continue
		}
		if ap.Stats.Number != 2 || ap.Stats.Min != 9 || ap.Stats.Max != 12 || ap.Stats.Median != 10.5 {
			t.Errorf("temperature stats: %+v", ap.Stats)
		}
		if len(ap.Histogram) != domain.MeasuredHistogramBins {
			t.Errorf("histogram bins: got %d", len(ap.Histogram))
		}
	}
	groups, err := f.store.ParameterGroups(ctx, temp.ID)
	if err != nil || len(groups) != 1 || groups[0] != MeasuredInSitu {
		t.Errorf("groups: %v, %v", groups, err)
	}
	sigmat, err := f.store.FindParameterByName(ctx, "sea_water_sigma_t")
	if err != nil || sigmat.StandardName != "sea_water_sigma_t" || sigmat.Origin != "Dorado389_2010_300" {
		t.Errorf("sigmat parameter: %+v, %v", sigmat, err)
	}

	resources, err := f.store.ActivityResources(ctx, res.ActivityID)
	if err != nil {
		t.Fatalf("ActivityResources: %v", err)
	}
	wantResources := []domain.Resource{
		{Name: "featureType", Value: "trajectory", Type: "nc_global"},
		{Name: "title", Value: "Dorado389 2010 300", Type: "nc_global"},
	}
	if diff := cmp.Diff(wantResources, resources); diff != "" {
		t.Errorf("resources (-want +got):\n%s", diff)
	}

	sdt, err := f.store.SimpleDepthTimes(ctx, res.ActivityID)
	if err != nil || len(sdt) < 2 {
		t.Fatalf("simple depth times: %v, %v", sdt, err)
	}
	if sdt[0].EpochMillis != 0 || sdt[len(sdt)-1].EpochMillis != 50000 {
		t.Errorf("simple depth time endpoints: %+v", sdt)
	}

	if got := testutil.ToFloat64(f.metrics.LoadsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("loads_total: got %v", got)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].ValuesLoaded != 9 {
		t.Errorf("events: %+v", f.publisher.events)
	}
}

// TestExecute_Rerun tests that loading the same dataset twice adds nothing.
func TestExecute_Rerun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.uc.Execute(ctx, doradoRequest())
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	temp, err := f.store.FindParameterByName(ctx, "temperature")
	if err != nil {
		t.Fatalf("FindParameterByName: %v", err)
	}

	second, err := f.uc.Execute(ctx, doradoRequest())
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if second.ActivityID != first.ActivityID {
		t.Errorf("activity: got %d, want %d", second.ActivityID, first.ActivityID)
	}
	if second.ValuesLoaded != 0 || second.MeasurementsCreated != 0 {
		t.Errorf("rerun inserted %d values, %d measurements", second.ValuesLoaded, second.MeasurementsCreated)
	}
	if second.NumMeasuredParameters != first.NumMeasuredParameters {
		t.Errorf("total: got %d, want %d", second.NumMeasuredParameters, first.NumMeasuredParameters)
	}
	again, err := f.store.FindParameterByName(ctx, "temperature")
	if err != nil || again.ID != temp.ID {
		t.Errorf("parameter changed: %+v -> %+v (%v)", temp, again, err)
	}
	aps, err := f.store.ActivityParameters(ctx, first.ActivityID)
	if err != nil || len(aps) != 4 {
		t.Errorf("activity parameters after rerun: %d, %v", len(aps), err)
	}
}

// TestExecute_Station tests nominal locations and per-level depth series.
func TestExecute_Station(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.uc.Execute(ctx, LoadRequest{
		DatasetURL:   "mooring.nc",
		CampaignName: "Monterey Bay 2010",
		ActivityName: "M1_2010",
		PlatformName: "M1_Mooring",
		PlatformType: "mooring",
		Sampled:      true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.FeatureType != string(domain.FeatureTimeSeriesProfile) {
		t.Errorf("feature type: got %s", res.FeatureType)
	}
	if res.ValuesLoaded != 5 || res.RowsNoData != 1 {
		t.Errorf("values %d, no data %d", res.ValuesLoaded, res.RowsNoData)
	}

	a, err := f.store.GetActivity(ctx, res.ActivityID)
	if err != nil {
		t.Fatalf("GetActivity: %v", err)
	}
	if a.MapPoint == nil || *a.MapPoint != (domain.Point{Lon: -122.1, Lat: 36.7}) {
		t.Errorf("map point: %v", a.MapPoint)
	}
	if len(a.MapTrack) != 0 {
		t.Errorf("station has map track %v", a.MapTrack)
	}

	sdt, err := f.store.SimpleDepthTimes(ctx, res.ActivityID)
	if err != nil {
		t.Fatalf("SimpleDepthTimes: %v", err)
	}
	levels := make(map[int64]int)
	for _, p := range sdt {
		if p.NominalLocationID == nil {
			t.Fatalf("depth time point without nominal location: %+v", p)
		}
		levels[*p.NominalLocationID]++
	}
	if len(levels) != 2 {
		t.Errorf("nominal locations with depth series: got %d, want 2", len(levels))
	}

	aps, err := f.store.ActivityParameters(ctx, res.ActivityID)
	if err != nil || len(aps) != 1 {
		t.Fatalf("activity parameters: %v, %v", aps, err)
	}
	if len(aps[0].Histogram) != domain.SampledHistogramBins {
		t.Errorf("sampled histogram bins: got %d", len(aps[0].Histogram))
	}
}

// TestExecute_NoValidData tests the distinct status of loads without data.
func TestExecute_NoValidData(t *testing.T) {
	f := newFixture(t, nil)
	req := doradoRequest()
	req.Include = []string{"oxygen"}

	res, err := f.uc.Execute(context.Background(), req)
	if !errors.Is(err, domain.ErrNoValidData) {
		t.Fatalf("got %v, want ErrNoValidData", err)
	}
	if res.Status != StatusNoValidData {
		t.Errorf("status: got %s", res.Status)
	}
	if diff := cmp.Diff([]SkippedVariable{{Name: "oxygen", Reason: "not in dataset"}}, res.VariablesSkipped); diff != "" {
		t.Errorf("skipped (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(f.metrics.LoadsTotal.WithLabelValues("no_valid_data")); got != 1 {
		t.Errorf("loads_total{no_valid_data}: got %v", got)
	}
}

// TestExecute_AllRowsRejected tests that a load whose every row fails
// validation is not reported as completed.
func TestExecute_AllRowsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := doradoRequest()
	req.DatasetURL = "deep.nc"
	req.Include = []string{"temperature"}

	res, err := f.uc.Execute(ctx, req)
	if !errors.Is(err, domain.ErrNoValidData) {
		t.Fatalf("got %v, want ErrNoValidData", err)
	}
	if res.Status != StatusNoValidData {
		t.Errorf("status: got %s", res.Status)
	}
	if res.RowsRead != 3 || res.ValuesLoaded != 0 {
		t.Errorf("rows %d, values %d", res.RowsRead, res.ValuesLoaded)
	}
	if diff := cmp.Diff(map[string]int64{"depth out of range": 3}, res.RejectedByReason); diff != "" {
		t.Errorf("rejected by reason (-want +got):\n%s", diff)
	}
	if res.ActivityID != 0 {
		t.Errorf("activity created: %d", res.ActivityID)
	}
	if _, err := f.store.GetActivity(ctx, 1); err == nil {
		t.Error("an activity was stored")
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Status != "no_valid_data" {
		t.Errorf("events: %+v", f.publisher.events)
	}
}

func TestExecute_OpenFailure(t *testing.T) {
	f := newFixture(t, nil)
	req := doradoRequest()
	req.DatasetURL = "missing.nc"

	res, err := f.uc.Execute(context.Background(), req)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want ErrNotExist", err)
	}
	if res.Status != StatusFailed || res.Error == "" {
		t.Errorf("result: %+v", res)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Status != "failed" {
		t.Errorf("events: %+v", f.publisher.events)
	}
}

type flatBottom struct{ depth float64 }

func (g flatBottom) BoundingBox() (terrain.BoundingBox, error) {
	return terrain.BoundingBox{MinLon: -123, MaxLon: -121, MinLat: 36, MaxLat: 37}, nil
}

func (g flatBottom) BottomDepths(pts []domain.Point) ([]terrain.BottomDepth, error) {
	out := make([]terrain.BottomDepth, len(pts))
	for i := range pts {
		out[i] = terrain.BottomDepth{Index: i, Depth: g.depth}
	}
	return out, nil
}

// TestExecute_Altitude tests altitude values and the bottom depth series.
func TestExecute_Altitude(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, flatBottom{depth: 100})

	res, err := f.uc.Execute(ctx, doradoRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ValuesLoaded != 12 {
		t.Errorf("values: got %d, want 12", res.ValuesLoaded)
	}
	p, err := f.store.FindParameterByStandardName(ctx, "height_above_sea_floor")
	if err != nil {
		t.Fatalf("altitude parameter: %v", err)
	}
	values, err := f.store.ActivityParameterValues(ctx, res.ActivityID, p.ID)
	if err != nil {
		t.Fatalf("ActivityParameterValues: %v", err)
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	// depths 1, 2 and 6 under a 100 m bottom
	if len(values) != 3 || sum != 291 {
		t.Errorf("altitudes: %v", values)
	}

	bdt, err := f.store.SimpleBottomDepthTimes(ctx, res.ActivityID)
	if err != nil {
		t.Fatalf("SimpleBottomDepthTimes: %v", err)
	}
	if len(bdt) != 2 || bdt[0].BottomDepth != 100 {
		t.Errorf("bottom depth series: %+v", bdt)
	}
}

func TestMapTrack(t *testing.T) {
	at := func(lon, lat float64) domain.MeasurementSample { return domain.MeasurementSample{Lon: lon, Lat: lat} }

	if got := MapTrack([]domain.MeasurementSample{at(1, 1)}); got != nil {
		t.Errorf("single point: got %v", got)
	}
	got := MapTrack([]domain.MeasurementSample{at(-122, 36.8), at(-122, 36.8), at(-122, 36.8)})
	want := []domain.Point{{Lon: -122, Lat: 36.8}, {Lon: -121.999, Lat: 36.801}}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("stationary track (-want +got):\n%s", diff)
	}
}

func TestRunBatch(t *testing.T) {
	f := newFixture(t, nil)
	bad := doradoRequest()
	bad.PlatformName = ""
	station := LoadRequest{
		DatasetURL:   "mooring.nc",
		CampaignName: "Monterey Bay 2010",
		ActivityName: "M1_2010",
		PlatformName: "M1_Mooring",
		PlatformType: "mooring",
	}

	items := f.uc.RunBatch(context.Background(), []LoadRequest{doradoRequest(), bad, station}, 2)
	if len(items) != 3 {
		t.Fatalf("items: got %d", len(items))
	}
	if items[0].Err != nil || items[0].Result.ValuesLoaded != 9 {
		t.Errorf("item 0: %+v", items[0])
	}
	if items[1].Err == nil || !strings.Contains(items[1].Err.Error(), "invalid request") {
		t.Errorf("item 1: got %v", items[1].Err)
	}
	if items[2].Err != nil || items[2].Result.ValuesLoaded != 5 {
		t.Errorf("item 2: %+v", items[2])
	}
}
