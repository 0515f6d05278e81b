package dsg

import (
	"errors"
	"testing"

	"go.ngs.io/dsg-ingest/internal/adapter/dataset"
	"go.ngs.io/dsg-ingest/internal/domain"
)

// TestClassifyFeatureType tests attribute priority and normalization.
func TestClassifyFeatureType(t *testing.T) {
	tests := []struct {
		name  string
		attrs dataset.Attributes
		want  domain.FeatureType
	}{
		{"modern", dataset.Attributes{"featureType": "trajectory"}, domain.FeatureTrajectory},
		{"case", dataset.Attributes{"featureType": "TimeSeries"}, domain.FeatureTimeSeries},
		{"legacy station", dataset.Attributes{"cdm_data_type": "Station"}, domain.FeatureTimeSeriesProfile},
		{"station profile", dataset.Attributes{"thredds_data_type": "stationProfile"}, domain.FeatureTimeSeriesProfile},
		{"cf prefix", dataset.Attributes{"CF_featureType": "timeSeriesProfile"}, domain.FeatureTimeSeriesProfile},
		{"priority", dataset.Attributes{"featureType": "trajectory", "cdm_data_type": "Station"}, domain.FeatureTrajectory},
		{"fallthrough", dataset.Attributes{"featureType": "point", "cdm_data_type": "Trajectory"}, domain.FeatureTrajectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyFeatureType(tt.attrs)
			if err != nil {
				t.Fatalf("ClassifyFeatureType: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// TestClassifyFeatureType_Unknown tests the failure cases.
func TestClassifyFeatureType_Unknown(t *testing.T) {
	for _, attrs := range []dataset.Attributes{
		{},
		{"Conventions": "CF-1.6"},
		{"featureType": "point"},
	} {
		if _, err := ClassifyFeatureType(attrs); !errors.Is(err, domain.ErrUnknownFeatureType) {
			t.Errorf("attrs %v: got %v, want ErrUnknownFeatureType", attrs, err)
		}
	}
}
