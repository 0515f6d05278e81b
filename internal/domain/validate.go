package domain

import (
	"fmt"
	"math"
)

// MissingSentinel is the legacy missing value written by older instrument software.
const MissingSentinel = 1e-34

// Accepted position ranges.
const (
	MinDepth = -1000.0
	MaxDepth = 5000.0
	MaxLat   = 90.0
	MaxLon   = 720.0
)

// PositionError reports a coordinate outside its accepted range.
type PositionError struct {
	Field string
	Value float64
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("%s %v out of range", e.Field, e.Value)
}

// Reason is a value-free description suitable for aggregating counts.
func (e *PositionError) Reason() string {
	return e.Field + " out of range"
}

// ValidatePosition rejects depth, latitude and longitude outside the accepted
// ranges. Values are never clamped. A NaN depth is invalid.
func ValidatePosition(depth, lat, lon float64) error {
	if math.IsNaN(depth) || depth < MinDepth || depth > MaxDepth {
		return &PositionError{Field: "depth", Value: depth}
	}
	if lat < -MaxLat || lat > MaxLat {
		return &PositionError{Field: "latitude", Value: lat}
	}
	if lon < -MaxLon || lon > MaxLon {
		return &PositionError{Field: "longitude", Value: lon}
	}
	return nil
}

// MissingPosition reports whether lat/lon hold no usable fix: NaN, the legacy
// sentinel, or both exactly zero.
func MissingPosition(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return true
	}
	if lat == MissingSentinel || lon == MissingSentinel {
		return true
	}
	return lat == 0 && lon == 0
}
