// Package derive computes parameters from the values already present in a row.
package derive

import (
	"math"

	"go.ngs.io/dsg-ingest/internal/domain"
)

// Hook adds derived values to a row.
type Hook interface {
	Name() string
	// Outputs describes the values Apply may add, keyed by Name in each definition.
	Outputs() []domain.ParameterDefinition
	Apply(row *domain.Row)
}

// Pipeline holds the hooks run for every platform and those run only for a
// named platform type.
type Pipeline struct {
	common     []Hook
	byPlatform map[string][]Hook
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{byPlatform: make(map[string][]Hook)}
}

// DefaultPipeline runs SigmaT and Spice for every platform and
// ChlorophyllProxy for auv platforms.
func DefaultPipeline() *Pipeline {
	p := NewPipeline()
	p.Register("", SigmaT{})
	p.Register("", Spice{})
	p.Register("auv", ChlorophyllProxy{})
	return p
}

// Register adds h for platformType, or for every platform when platformType is empty.
func (p *Pipeline) Register(platformType string, h Hook) {
	if platformType == "" {
		p.common = append(p.common, h)
		return
	}
	p.byPlatform[platformType] = append(p.byPlatform[platformType], h)
}

// For returns the hooks that apply to platformType, platform-specific hooks last.
func (p *Pipeline) For(platformType string) Chain {
	chain := make(Chain, 0, len(p.common)+len(p.byPlatform[platformType]))
	chain = append(chain, p.common...)
	return append(chain, p.byPlatform[platformType]...)
}

// Chain is an ordered list of hooks.
type Chain []Hook

// Apply runs every hook on row in order.
func (c Chain) Apply(row *domain.Row) {
	for _, h := range c {
		h.Apply(row)
	}
}

// Outputs returns the definitions of every value the chain may add.
func (c Chain) Outputs() map[string]domain.ParameterDefinition {
	out := make(map[string]domain.ParameterDefinition)
	for _, h := range c {
		for _, def := range h.Outputs() {
			out[def.Name] = def
		}
	}
	return out
}

// Standard names and fallback variable names of the inputs.
const (
	StandardTemperature = "sea_water_temperature"
	StandardSalinity    = "sea_water_salinity"
)

// lookup finds a value by standard_name, then by variable name.
func lookup(row *domain.Row, standardName, name string) (float64, bool) {
	for _, n := range row.Names() {
		if def, ok := row.Definitions[n]; ok && def.StandardName == standardName {
			return row.Values[n], true
		}
	}
	v, ok := row.Values[name]
	return v, ok
}

func temperatureSalinity(row *domain.Row) (t, s float64, ok bool) {
	t, okT := lookup(row, StandardTemperature, "temperature")
	s, okS := lookup(row, StandardSalinity, "salinity")
	return t, s, okT && okS
}

// SigmaT adds sea water density anomaly at in-situ pressure.
type SigmaT struct{}

const sigmaTName = "sea_water_sigma_t"

func (SigmaT) Name() string { return "sigmat" }

func (SigmaT) Outputs() []domain.ParameterDefinition {
	return []domain.ParameterDefinition{{
		Name:         sigmaTName,
		StandardName: sigmaTName,
		LongName:     "Sigma-T",
		Units:        "kg m-3",
	}}
}

func (SigmaT) Apply(row *domain.Row) {
	t, s, ok := temperatureSalinity(row)
	if !ok || math.IsNaN(row.Depth) || math.IsNaN(row.Lat) {
		return
	}
	if v := domain.SigmaT(s, t, row.Depth, row.Lat); !math.IsNaN(v) {
		row.Values[sigmaTName] = v
	}
}

// Spice adds Flament spiciness.
type Spice struct{}

func (Spice) Name() string { return "spice" }

func (Spice) Outputs() []domain.ParameterDefinition {
	return []domain.ParameterDefinition{{Name: "spice", LongName: "Spiciness"}}
}

func (Spice) Apply(row *domain.Row) {
	t, s, ok := temperatureSalinity(row)
	if !ok {
		return
	}
	if v := domain.Spiciness(t, s); !math.IsNaN(v) {
		row.Values["spice"] = v
	}
}

// ChlorophyllProxy converts Dorado uncorrected 700nm fluorescence to chlorophyll.
type ChlorophyllProxy struct{}

const chlorophyllName = "mass_concentration_of_chlorophyll_in_sea_water"

func (ChlorophyllProxy) Name() string { return "chlorophyll" }

func (ChlorophyllProxy) Outputs() []domain.ParameterDefinition {
	return []domain.ParameterDefinition{{
		Name:         chlorophyllName,
		StandardName: chlorophyllName,
		LongName:     "Chlorophyll",
		Units:        "ug/l",
	}}
}

func (ChlorophyllProxy) Apply(row *domain.Row) {
	if fl, ok := row.Values["fl700_uncorr"]; ok {
		row.Values[chlorophyllName] = domain.ChlorophyllFromFluorescence(fl)
	}
}
