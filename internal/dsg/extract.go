package dsg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.ngs.io/dsg-ingest/internal/adapter/dataset"
	"go.ngs.io/dsg-ingest/internal/domain"
	"go.ngs.io/dsg-ingest/internal/logger"
)

// Skip reasons reported in RowResult.Reason.
const (
	ReasonBadTime         = "bad time value"
	ReasonMissingPosition = "missing position"
)

// OpenOptions selects what an Extraction reads.
type OpenOptions struct {
	// Include lists the variables to load. Empty loads every variable that is
	// not a coordinate.
	Include []string

	Start  *time.Time
	End    *time.Time
	Stride int

	// FeatureType overrides the dataset's global attributes when set.
	FeatureType domain.FeatureType

	Overrides domain.CoordinateOverrides
}

// VariableStatus records whether a requested variable produced data.
type VariableStatus struct {
	Name   string
	Loaded bool
	Reason string
	Err    error
}

// NoValidDataError is returned by Open when no requested variable has data.
type NoValidDataError struct {
	Statuses []VariableStatus
}

func (e *NoValidDataError) Error() string {
	parts := make([]string, 0, len(e.Statuses))
	for _, s := range e.Statuses {
		parts = append(parts, s.Name+": "+s.Reason)
	}
	return fmt.Sprintf("%v (%s)", domain.ErrNoValidData, strings.Join(parts, "; "))
}

func (e *NoValidDataError) Unwrap() error { return domain.ErrNoValidData }

// Extractor reads harmonized rows from a dataset.
type Extractor struct {
	src dataset.Source
	log logger.Logger
}

// NewExtractor returns an Extractor over src.
func NewExtractor(src dataset.Source, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.NopLogger
	}
	return &Extractor{src: src, log: log}
}

// Extraction is a forward-only sequence of rows. It cannot be restarted; open
// a new Extraction to read the data again.
type Extraction struct {
	featureType domain.FeatureType
	statuses    []VariableStatus
	defs        map[string]domain.ParameterDefinition
	groups      []*group

	gi, ti, level int
}

// FeatureType is the geometry the rows were extracted with.
func (x *Extraction) FeatureType() domain.FeatureType { return x.featureType }

// Statuses reports every requested variable in request order.
func (x *Extraction) Statuses() []VariableStatus { return x.statuses }

// Definitions describes every loaded variable.
func (x *Extraction) Definitions() map[string]domain.ParameterDefinition { return x.defs }

// VariablesLoaded lists the variables that carried data.
func (x *Extraction) VariablesLoaded() []string {
	var out []string
	for _, s := range x.statuses {
		if s.Loaded {
			out = append(out, s.Name)
		}
	}
	return out
}

// Open resolves coordinates and reads the windowed arrays of each requested
// variable. Variables that cannot be read are skipped and reported in
// Statuses. If no variable has data Open returns a *NoValidDataError.
func (e *Extractor) Open(ctx context.Context, opts OpenOptions) (*Extraction, error) {
	ft := opts.FeatureType
	if ft == "" {
		var err error
		if ft, err = ClassifyFeatureType(e.src.Attributes()); err != nil {
			return nil, err
		}
	}
	if !ft.Valid() {
		return nil, fmt.Errorf("%q: %w", ft, domain.ErrUnknownFeatureType)
	}
	if opts.Stride == 0 {
		opts.Stride = 1
	}
	if opts.Stride < 0 {
		return nil, fmt.Errorf("stride must be at least 1, got %d", opts.Stride)
	}

	resolver := NewResolver(e.src, opts.Overrides)
	names := opts.Include
	if len(names) == 0 {
		for _, name := range e.src.Variables() {
			if !resolver.IsCoordinate(name) {
				names = append(names, name)
			}
		}
	}

	x := &Extraction{featureType: ft, defs: make(map[string]domain.ParameterDefinition)}
	statusIndex := make(map[string]int)
	skip := func(name, reason string, err error) {
		e.log.Warnf("skipping variable %s: %s", name, reason)
		x.statuses[statusIndex[name]] = VariableStatus{Name: name, Reason: reason, Err: err}
	}

	// Group variables sharing the same coordinates so each row carries all of
	// their values at one instant.
	var order []domain.Coordinates
	members := make(map[domain.Coordinates][]dataset.Variable)
	for _, name := range names {
		if _, dup := statusIndex[name]; dup {
			continue
		}
		statusIndex[name] = len(x.statuses)
		x.statuses = append(x.statuses, VariableStatus{Name: name})
		if IsIgnored(name) {
			skip(name, "coordinate variable", nil)
			continue
		}
		v, err := e.src.Variable(name)
		if err != nil {
			skip(name, "not in dataset", err)
			continue
		}
		coords, err := resolver.Resolve(v)
		if err != nil {
			skip(name, "unresolved coordinates", err)
			continue
		}
		if _, ok := members[coords]; !ok {
			order = append(order, coords)
		}
		members[coords] = append(members[coords], v)
	}

	for _, coords := range order {
		g, err := e.openGroup(ctx, ft, coords, opts)
		if err != nil {
			for _, v := range members[coords] {
				skip(v.Name(), groupReason(err), err)
			}
			continue
		}
		for _, v := range members[coords] {
			gv, err := g.addVariable(ctx, v)
			if err != nil {
				skip(v.Name(), variableReason(err), err)
				continue
			}
			if gv == nil {
				skip(v.Name(), "no valid data", nil)
				continue
			}
			x.statuses[statusIndex[v.Name()]].Loaded = true
			x.defs[v.Name()] = definitionFromAttributes(v.Name(), v.Attributes())
		}
		if len(g.vars) > 0 {
			g.defs = x.defs
			x.groups = append(x.groups, g)
		}
	}

	if len(x.groups) == 0 {
		return nil, &NoValidDataError{Statuses: x.statuses}
	}
	return x, nil
}

func groupReason(err error) string {
	if errors.Is(err, domain.ErrNoValidData) {
		return "no data in time window"
	}
	return "coordinate read failed"
}

func variableReason(err error) string {
	if errors.Is(err, domain.ErrUnsupportedShape) {
		return "unsupported shape"
	}
	return "read failed"
}

func definitionFromAttributes(name string, attrs dataset.Attributes) domain.ParameterDefinition {
	def := domain.ParameterDefinition{Name: name}
	def.StandardName, _ = attrs.String("standard_name")
	def.LongName, _ = attrs.String("long_name")
	def.Units, _ = attrs.String("units")
	def.Type, _ = attrs.String("type")
	if d, ok := attrs.String("description"); ok {
		def.Description = d
	} else {
		def.Description, _ = attrs.String("comment")
	}
	return def
}

// Next returns the next row result. It returns false once every row has been
// produced.
func (x *Extraction) Next() (domain.RowResult, bool) {
	for x.gi < len(x.groups) {
		g := x.groups[x.gi]
		if x.ti >= g.nt {
			x.gi++
			x.ti, x.level = 0, 0
			continue
		}
		ti, level := x.ti, x.level
		x.level++
		if x.level >= g.levels {
			x.level = 0
			x.ti += g.stride
		}
		return g.row(ti, level), true
	}
	return domain.RowResult{}, false
}

// coordValues holds one coordinate within a window. Values vary with time
// (perTime), with depth level (perLevel), or are constant.
type coordValues struct {
	data     []float64
	perTime  bool
	perLevel bool
}

func (c coordValues) at(ti, level int) float64 {
	switch {
	case len(c.data) == 0:
		return math.NaN()
	case c.perTime:
		return c.data[ti]
	case c.perLevel:
		return c.data[level]
	}
	return c.data[0]
}

// nominal is the first valid value, used as the fixed station position.
func (c coordValues) nominal(level int) float64 {
	if c.perLevel {
		return c.at(0, level)
	}
	for _, v := range c.data {
		if !math.IsNaN(v) && v != domain.MissingSentinel {
			return v
		}
	}
	return math.NaN()
}

type groupVariable struct {
	name    string
	data    []float64
	missing []float64
}

// group is a set of variables sharing coordinates and therefore rows.
type group struct {
	featureType domain.FeatureType
	coords      domain.Coordinates
	timeDim     string
	window      Window
	units       TimeUnits

	times              []float64
	lat, lon, depth    coordValues
	nt, levels, stride int

	vars []*groupVariable
	defs map[string]domain.ParameterDefinition
}

func (e *Extractor) openGroup(ctx context.Context, ft domain.FeatureType, coords domain.Coordinates, opts OpenOptions) (*group, error) {
	tv, err := e.src.Variable(coords.Time)
	if err != nil {
		return nil, err
	}
	if len(tv.Dimensions()) != 1 {
		return nil, fmt.Errorf("time variable %s: %w", coords.Time, domain.ErrUnsupportedShape)
	}
	unitsAttr, _ := tv.Attributes().String("units")
	units, err := ParseTimeUnits(unitsAttr)
	if err != nil {
		return nil, err
	}
	axis, err := dataset.ReadAll(ctx, tv)
	if err != nil {
		return nil, err
	}
	w, err := SelectTimeWindow(axis.Data, unitsAttr, opts.Start, opts.End, opts.Stride)
	if err != nil {
		return nil, err
	}

	g := &group{
		featureType: ft,
		coords:      coords,
		timeDim:     tv.Dimensions()[0],
		window:      w,
		units:       units,
		times:       axis.Data[w.Begin:w.End],
		nt:          w.End - w.Begin,
		levels:      1,
		stride:      w.Stride,
	}
	if g.lat, err = e.readCoordinate(ctx, g, coords.Latitude); err != nil {
		return nil, err
	}
	if g.lon, err = e.readCoordinate(ctx, g, coords.Longitude); err != nil {
		return nil, err
	}
	if g.depth, err = e.readCoordinate(ctx, g, coords.Depth); err != nil {
		return nil, err
	}
	if !g.depth.perTime && len(g.depth.data) > 1 {
		g.depth.perLevel = true
		g.levels = len(g.depth.data)
	}
	return g, nil
}

// readCoordinate reads a coordinate along the window when it shares the time
// dimension and completely otherwise.
func (e *Extractor) readCoordinate(ctx context.Context, g *group, name string) (coordValues, error) {
	v, err := e.src.Variable(name)
	if err != nil {
		return coordValues{}, err
	}
	dims := v.Dimensions()
	if len(dims) > 0 && dims[0] == g.timeDim {
		a, err := v.Read(ctx, g.window.Begin, g.window.End)
		if err != nil {
			return coordValues{}, err
		}
		if a.Stride() != 1 {
			return coordValues{}, fmt.Errorf("coordinate %s: %w", name, domain.ErrUnsupportedShape)
		}
		return coordValues{data: a.Data, perTime: true}, nil
	}
	a, err := dataset.ReadAll(ctx, v)
	if err != nil {
		return coordValues{}, err
	}
	return coordValues{data: a.Data}, nil
}

// addVariable reads v within the window. It returns nil when every value is
// missing.
func (g *group) addVariable(ctx context.Context, v dataset.Variable) (*groupVariable, error) {
	dims := v.Dimensions()
	if len(dims) == 0 || dims[0] != g.timeDim {
		return nil, fmt.Errorf("%s does not vary along %s: %w", v.Name(), g.timeDim, domain.ErrUnsupportedShape)
	}
	a, err := v.Read(ctx, g.window.Begin, g.window.End)
	if err != nil {
		return nil, err
	}
	if n := a.Stride(); n != g.levels {
		return nil, fmt.Errorf("%s has %d values per time step, depth has %d: %w", v.Name(), n, g.levels, domain.ErrUnsupportedShape)
	}
	if g.featureType == domain.FeatureTrajectory && g.levels != 1 {
		return nil, fmt.Errorf("%s: trajectory with %d levels: %w", v.Name(), g.levels, domain.ErrUnsupportedShape)
	}

	gv := &groupVariable{name: v.Name(), data: a.Data, missing: v.Attributes().MissingValues()}
	for ti := 0; ti < g.nt; ti += g.stride {
		for level := 0; level < g.levels; level++ {
			if !gv.isMissing(gv.data[ti*g.levels+level]) {
				g.vars = append(g.vars, gv)
				return gv, nil
			}
		}
	}
	return nil, nil
}

func (gv *groupVariable) isMissing(x float64) bool {
	if math.IsNaN(x) || x == domain.MissingSentinel {
		return true
	}
	for _, m := range gv.missing {
		if x == m {
			return true
		}
	}
	return false
}

func (g *group) row(ti, level int) domain.RowResult {
	t, ok := g.units.FromAxis(g.times[ti])
	if !ok {
		return domain.SkipRow(ReasonBadTime)
	}

	lat := g.lat.at(ti, level)
	lon := g.lon.at(ti, level)
	depth := g.depth.at(ti, level)
	if domain.MissingPosition(lat, lon) {
		return domain.SkipRow(ReasonMissingPosition)
	}
	if err := domain.ValidatePosition(depth, lat, lon); err != nil {
		var pe *domain.PositionError
		if errors.As(err, &pe) {
			return domain.SkipRow(pe.Reason())
		}
		return domain.SkipRow(err.Error())
	}

	values := make(map[string]float64, len(g.vars))
	for _, gv := range g.vars {
		x := gv.data[ti*g.levels+level]
		if gv.isMissing(x) {
			continue
		}
		values[gv.name] = x
	}
	if len(values) == 0 {
		return domain.NoData()
	}

	row := domain.Row{
		Time:        t,
		Lon:         lon,
		Lat:         lat,
		Depth:       depth,
		Values:      values,
		Definitions: g.defs,
	}
	if g.featureType.IsStation() {
		row.Nominal = &domain.NominalLocation{
			Lon:   g.lon.nominal(level),
			Lat:   g.lat.nominal(level),
			Depth: g.depth.nominal(level),
		}
	}
	return domain.OK(row)
}
