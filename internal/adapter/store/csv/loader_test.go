package csv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.ngs.io/dsg-ingest/internal/domain"
)

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.csv")
	content := `variable,time,latitude,longitude,depth
# mooring M1 ADCP
u, esecs, lat, lon, nominal_depth
v,esecs,lat,lon,nominal_depth
`
	//nolint:gosec // G306: Test fixture.
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	c := domain.Coordinates{Time: "esecs", Latitude: "lat", Longitude: "lon", Depth: "nominal_depth"}
	want := domain.CoordinateOverrides{"u": c, "v": c}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("overrides (-want +got):\n%s", diff)
	}
}

func TestReadOverrides_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"wrong header", "name,time,latitude,longitude,depth\n"},
		{"short header", "variable,time\n"},
		{"missing coordinate", "variable,time,latitude,longitude,depth\nu,esecs,lat,lon,\n"},
		{"duplicate", "variable,time,latitude,longitude,depth\nu,t,y,x,z\nu,t,y,x,z\n"},
		{"ragged row", "variable,time,latitude,longitude,depth\nu,t,y\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadOverrides(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadOverrides_MissingFile(t *testing.T) {
	if _, err := LoadOverrides(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}
