package domain

import "time"

// Point is a horizontal position in degrees.
type Point struct {
	Lon float64
	Lat float64
}

// Campaign groups activities from one field program.
type Campaign struct {
	ID          int64
	Name        string
	Description string
	StartDate   *time.Time
	EndDate     *time.Time
}

// PlatformType is a class of platform (auv, mooring, glider, ship).
type PlatformType struct {
	ID    int64
	Name  string
	Color string
}

// Platform is a single instrument carrier.
type Platform struct {
	ID             int64
	Name           string
	Color          string
	PlatformTypeID int64
}

// ActivityType names the kind of deployment (AUV Mission, Mooring Deployment).
type ActivityType struct {
	ID   int64
	Name string
}

// Activity is one deployment of a platform, created once per dataset load.
type Activity struct {
	ID                    int64
	Name                  string
	PlatformID            int64
	CampaignID            int64
	ActivityTypeID        int64
	StartDate             *time.Time
	EndDate               *time.Time
	NumMeasuredParameters int64
	LoadedDate            *time.Time
	MapTrack              []Point // Simplified lon/lat track for trajectories.
	MapPoint              *Point  // Nominal position for stations.
	MinDepth              *float64
	MaxDepth              *float64
	Comment               string
}

// Parameter is a named measured or derived quantity. Name is unique in a datastore.
type Parameter struct {
	ID           int64
	Name         string
	Type         string
	Description  string
	StandardName string
	LongName     string
	Units        string
	Origin       string
}

// ParameterDefinition carries the attributes a Parameter is created from.
type ParameterDefinition struct {
	Name         string
	StandardName string
	LongName     string
	Units        string
	Type         string
	Description  string
}

// InstantPoint is a unique time within an activity.
type InstantPoint struct {
	ID         int64
	ActivityID int64
	Time       time.Time
}

// NominalLocation is the fixed position of a station level.
type NominalLocation struct {
	ID         int64
	ActivityID int64
	Depth      float64
	Lon        float64
	Lat        float64
}

// Measurement is a sample position at an instant.
type Measurement struct {
	ID                int64
	InstantPointID    int64
	NominalLocationID *int64
	Depth             float64
	Lon               float64
	Lat               float64
}

// MeasuredParameter is one value of one parameter at a measurement.
type MeasuredParameter struct {
	MeasurementID int64
	ParameterID   int64
	Value         float64
}

// MeasurementSample is a persisted measurement joined with its instant.
type MeasurementSample struct {
	MeasurementID     int64
	InstantPointID    int64
	NominalLocationID *int64
	Time              time.Time
	Depth             float64
	Lon               float64
	Lat               float64
}

// HistogramBin is one bin of an activity parameter histogram.
type HistogramBin struct {
	Low   float64
	High  float64
	Count int64
}

// ActivityParameter holds summary statistics of one parameter within one activity.
type ActivityParameter struct {
	ActivityID  int64
	ParameterID int64
	Stats       Stats
	Histogram   []HistogramBin
}

// SimpleDepthTime is a vertex of a simplified depth-vs-time series.
type SimpleDepthTime struct {
	ActivityID        int64
	NominalLocationID *int64
	InstantPointID    int64
	EpochMillis       float64
	Depth             float64
}

// SimpleBottomDepthTime is a vertex of a simplified bottom-depth-vs-time series.
type SimpleBottomDepthTime struct {
	ActivityID     int64
	InstantPointID int64
	EpochMillis    float64
	BottomDepth    float64
}

// Resource is a name/value annotation attached to an activity.
type Resource struct {
	Name  string
	Value string
	Type  string
}

// Coordinates names the variables holding the four axes of a data variable.
type Coordinates struct {
	Time      string
	Latitude  string
	Longitude string
	Depth     string
}

// Complete reports whether every axis is named.
func (c Coordinates) Complete() bool {
	return c.Time != "" && c.Latitude != "" && c.Longitude != "" && c.Depth != ""
}

// CoordinateOverrides maps a variable name to explicitly configured coordinates.
type CoordinateOverrides map[string]Coordinates
