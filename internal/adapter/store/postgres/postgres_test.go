package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"

	"go.ngs.io/dsg-ingest/internal/adapter/store"
	"go.ngs.io/dsg-ingest/internal/domain"
)

func TestWKT(t *testing.T) {
	track := []domain.Point{{Lon: -122.1, Lat: 36.8}, {Lon: -122.05, Lat: 36.75}}
	wkt := lineStringWKT(track)
	if wkt != "LINESTRING(-122.1 36.8, -122.05 36.75)" {
		t.Errorf("lineStringWKT: %q", wkt)
	}
	if diff := cmp.Diff(track, parseWKTPoints(wkt)); diff != "" {
		t.Errorf("parseWKTPoints (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]domain.Point{{Lon: 1.5, Lat: -2}}, parseWKTPoints("POINT(1.5 -2)")); diff != "" {
		t.Errorf("point (-want +got):\n%s", diff)
	}
	if got := parseWKTPoints("GEOMETRYCOLLECTION EMPTY"); got != nil {
		t.Errorf("empty geometry: %v", got)
	}
}

func TestMapError(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "parameter_pkey"}
	if err := mapError(fmt.Errorf("insert: %w", dup)); !errors.Is(err, store.ErrDuplicateKey) {
		t.Errorf("unique violation: got %v", err)
	}
	other := &pgconn.PgError{Code: "23503"}
	if err := mapError(other); errors.Is(err, store.ErrDuplicateKey) {
		t.Errorf("foreign key violation mapped to duplicate")
	}
	if mapError(nil) != nil {
		t.Errorf("nil error mapped")
	}
}

// TestStore_Integration runs against the database named by DSG_TEST_DATABASE_URL.
func TestStore_Integration(t *testing.T) {
	url := os.Getenv("DSG_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DSG_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	suffix := fmt.Sprint(time.Now().UnixNano())
	pt, err := s.GetOrCreatePlatformType(ctx, "auv", "ff0000")
	if err != nil {
		t.Fatalf("GetOrCreatePlatformType: %v", err)
	}
	p, err := s.GetOrCreatePlatform(ctx, domain.Platform{Name: "dorado", PlatformTypeID: pt.ID})
	if err != nil {
		t.Fatalf("GetOrCreatePlatform: %v", err)
	}
	a, err := s.GetOrCreateActivity(ctx, domain.Activity{Name: "it_" + suffix, PlatformID: p.ID})
	if err != nil {
		t.Fatalf("GetOrCreateActivity: %v", err)
	}
	again, _ := s.GetOrCreateActivity(ctx, domain.Activity{Name: "it_" + suffix, PlatformID: p.ID})
	if again.ID != a.ID {
		t.Errorf("activity duplicated: %d vs %d", a.ID, again.ID)
	}

	ip, err := s.GetOrCreateInstantPoint(ctx, a.ID, time.Date(2010, 10, 27, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetOrCreateInstantPoint: %v", err)
	}
	m := domain.Measurement{InstantPointID: ip.ID, Depth: 5, Lon: -122, Lat: 36.8}
	m1, created, err := s.GetOrCreateMeasurement(ctx, a.ID, m)
	if err != nil || !created {
		t.Fatalf("GetOrCreateMeasurement: created=%v err=%v", created, err)
	}
	m2, created, _ := s.GetOrCreateMeasurement(ctx, a.ID, m)
	if created || m2.ID != m1.ID {
		t.Errorf("measurement duplicated")
	}

	param, err := s.CreateParameter(ctx, domain.Parameter{Name: "p_" + suffix})
	if err != nil {
		t.Fatalf("CreateParameter: %v", err)
	}
	if _, err := s.CreateParameter(ctx, domain.Parameter{Name: "p_" + suffix}); !errors.Is(err, store.ErrDuplicateKey) {
		t.Errorf("duplicate parameter: got %v", err)
	}
	if ok, err := s.AddMeasuredParameter(ctx, a.ID, domain.MeasuredParameter{MeasurementID: m1.ID, ParameterID: param.ID, Value: 1}); !ok || err != nil {
		t.Errorf("AddMeasuredParameter: %v %v", ok, err)
	}
	if n, _ := s.CountMeasuredParameters(ctx, a.ID); n != 1 {
		t.Errorf("CountMeasuredParameters: %d", n)
	}

	// Concurrent loads sharing a platform type and campaign.
	const loaders = 8
	var wg sync.WaitGroup
	ids := make([]int64, loaders)
	errs := make([]error, loaders)
	for i := range loaders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pt, err := s.GetOrCreatePlatformType(ctx, "glider_"+suffix, "")
			if err == nil {
				_, err = s.GetOrCreateCampaign(ctx, "campaign_"+suffix, "")
			}
			ids[i], errs[i] = pt.ID, err
		}()
	}
	wg.Wait()
	for i := range loaders {
		if errs[i] != nil {
			t.Fatalf("concurrent get-or-create %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("platform type %d: got id %d, want %d", i, ids[i], ids[0])
		}
	}

	a.MapTrack = []domain.Point{{Lon: -122, Lat: 36.8}, {Lon: -122.1, Lat: 36.9}}
	if err := s.UpdateActivity(ctx, a); err != nil {
		t.Fatalf("UpdateActivity: %v", err)
	}
	got, _ := s.GetActivity(ctx, a.ID)
	if diff := cmp.Diff(a.MapTrack, got.MapTrack); diff != "" {
		t.Errorf("maptrack (-want +got):\n%s", diff)
	}
}
