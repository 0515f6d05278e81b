package derive

import (
	"fmt"

	"go.ngs.io/dsg-ingest/internal/adapter/store/terrain"
	"go.ngs.io/dsg-ingest/internal/domain"
)

// AltitudeDefinition describes the height of the instrument above the sea floor.
var AltitudeDefinition = domain.ParameterDefinition{
	Name:         "altitude",
	StandardName: "height_above_sea_floor",
	LongName:     "Altitude",
	Units:        "m",
}

// Altitude is the bottom depth under one measurement and the instrument's
// height above it.
type Altitude struct {
	Sample      domain.MeasurementSample
	BottomDepth float64
	Altitude    float64
}

// ComputeAltitudes samples the grid once for every measurement inside its
// bounding box. Measurements outside the box or on missing grid nodes are
// left out.
func ComputeAltitudes(grid terrain.Grid, samples []domain.MeasurementSample) ([]Altitude, error) {
	bbox, err := grid.BoundingBox()
	if err != nil {
		return nil, err
	}

	inBox := make([]domain.MeasurementSample, 0, len(samples))
	points := make([]domain.Point, 0, len(samples))
	for _, s := range samples {
		p := domain.Point{Lon: s.Lon, Lat: s.Lat}
		if bbox.Contains(p) {
			inBox = append(inBox, s)
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return nil, nil
	}

	depths, err := grid.BottomDepths(points)
	if err != nil {
		return nil, fmt.Errorf("failed to sample terrain: %w", err)
	}
	out := make([]Altitude, 0, len(depths))
	for _, d := range depths {
		s := inBox[d.Index]
		out = append(out, Altitude{Sample: s, BottomDepth: d.Depth, Altitude: d.Depth - s.Depth})
	}
	return out, nil
}
