package domain

// FeatureType is the CF discrete sampling geometry of a dataset.
type FeatureType string

const (
	FeatureTrajectory        FeatureType = "trajectory"
	FeatureTimeSeries        FeatureType = "timeSeries"
	FeatureTimeSeriesProfile FeatureType = "timeSeriesProfile"
)

// IsStation reports whether the feature type has fixed nominal locations.
func (f FeatureType) IsStation() bool {
	return f == FeatureTimeSeries || f == FeatureTimeSeriesProfile
}

// Valid reports whether f is one of the supported geometries.
func (f FeatureType) Valid() bool {
	switch f {
	case FeatureTrajectory, FeatureTimeSeries, FeatureTimeSeriesProfile:
		return true
	}
	return false
}
