package dsg

import (
	"fmt"
	"strings"

	"go.ngs.io/dsg-ingest/internal/adapter/dataset"
	"go.ngs.io/dsg-ingest/internal/domain"
)

// featureTypeAttributes are checked in order; modern spellings first.
var featureTypeAttributes = []string{
	"featureType",
	"CF_featureType",
	"CF:featureType",
	"cdm_data_type",
	"thredds_data_type",
}

// ClassifyFeatureType determines the sampling geometry from global attributes.
func ClassifyFeatureType(attrs dataset.Attributes) (domain.FeatureType, error) {
	var seen []string
	for _, key := range featureTypeAttributes {
		val, ok := attrs.String(key)
		if !ok {
			continue
		}
		if ft, err := ParseFeatureType(val); err == nil {
			return ft, nil
		}
		seen = append(seen, key+"="+val)
	}
	if len(seen) == 0 {
		return "", fmt.Errorf("no feature type attribute: %w", domain.ErrUnknownFeatureType)
	}
	return "", fmt.Errorf("%s: %w", strings.Join(seen, ", "), domain.ErrUnknownFeatureType)
}

// ParseFeatureType normalizes a feature type name. The legacy station
// spellings map to timeSeriesProfile.
func ParseFeatureType(s string) (domain.FeatureType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trajectory":
		return domain.FeatureTrajectory, nil
	case "timeseries":
		return domain.FeatureTimeSeries, nil
	case "timeseriesprofile", "station", "stationprofile":
		return domain.FeatureTimeSeriesProfile, nil
	}
	return "", fmt.Errorf("%q: %w", s, domain.ErrUnknownFeatureType)
}
