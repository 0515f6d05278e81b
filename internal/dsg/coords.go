package dsg

import (
	"fmt"
	"strings"
	"sync"

	"go.ngs.io/dsg-ingest/internal/adapter/dataset"
	"go.ngs.io/dsg-ingest/internal/domain"
)

// Axis standard names.
const (
	StandardTime      = "time"
	StandardLatitude  = "latitude"
	StandardLongitude = "longitude"
	StandardDepth     = "depth"
)

// Resolver maps data variables to their time, latitude, longitude and depth
// coordinate variables.
type Resolver struct {
	src       dataset.Source
	overrides domain.CoordinateOverrides

	once  sync.Once
	table map[string]string // Variable name to axis standard name.
}

// NewResolver returns a Resolver for src. Overrides take precedence over
// dataset metadata.
func NewResolver(src dataset.Source, overrides domain.CoordinateOverrides) *Resolver {
	return &Resolver{src: src, overrides: overrides}
}

// buildTable scans every variable once for axis standard names.
func (r *Resolver) buildTable() {
	r.table = make(map[string]string)
	for _, name := range r.src.Variables() {
		v, err := r.src.Variable(name)
		if err != nil {
			continue
		}
		sn, _ := v.Attributes().String("standard_name")
		switch sn {
		case StandardTime, StandardLatitude, StandardLongitude, StandardDepth:
			r.table[name] = sn
		}
	}
}

// IsCoordinate reports whether name carries an axis standard name.
func (r *Resolver) IsCoordinate(name string) bool {
	r.once.Do(r.buildTable)
	_, ok := r.table[name]
	return ok
}

// Resolve returns the coordinates of v. The variable's coordinates attribute is
// searched first, then its dimensions that are themselves coordinate variables.
func (r *Resolver) Resolve(v dataset.Variable) (domain.Coordinates, error) {
	if c, ok := r.overrides[v.Name()]; ok {
		return c, nil
	}
	r.once.Do(r.buildTable)

	listed, _ := v.Attributes().String("coordinates")
	candidates := strings.Fields(listed)
	candidates = append(candidates, v.Dimensions()...)

	var c domain.Coordinates
	var unnamed []string
	for i, name := range candidates {
		sn, ok := r.table[name]
		if !ok {
			if i < len(candidates)-len(v.Dimensions()) {
				unnamed = append(unnamed, name)
			}
			continue
		}
		switch sn {
		case StandardTime:
			setOnce(&c.Time, name)
		case StandardLatitude:
			setOnce(&c.Latitude, name)
		case StandardLongitude:
			setOnce(&c.Longitude, name)
		case StandardDepth:
			setOnce(&c.Depth, name)
		}
	}

	if c.Complete() {
		return c, nil
	}
	if len(unnamed) > 0 {
		return c, fmt.Errorf("%s: coordinates %s: %w", v.Name(), strings.Join(unnamed, ", "), domain.ErrMissingStandardName)
	}
	return c, fmt.Errorf("%s: resolved %+v: %w", v.Name(), c, domain.ErrMissingCoordinates)
}

func setOnce(dst *string, name string) {
	if *dst == "" {
		*dst = name
	}
}
