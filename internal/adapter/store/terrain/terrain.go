// Package terrain samples bottom depths from GMT terrain grids.
package terrain

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/dsg-ingest/internal/adapter/interp"
	"go.ngs.io/dsg-ingest/internal/domain"
)

// BoundingBox is the horizontal extent of a grid in degrees.
type BoundingBox struct {
	MinLon, MaxLon float64
	MinLat, MaxLat float64
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p domain.Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// BottomDepth is the sampled water depth (positive down, meters) at the
// point with the given index in a BottomDepths request.
type BottomDepth struct {
	Index int
	Depth float64
}

// Grid provides bottom depths.
type Grid interface {
	BoundingBox() (BoundingBox, error)

	// BottomDepths samples the grid at every point. Points outside the grid
	// or on missing nodes are left out of the result.
	BottomDepths(pts []domain.Point) ([]BottomDepth, error)
}

// GMTGrid reads a GMT .grd file in either the old (x_range, y_range,
// flattened z) or the new (1-D lon/lat axes, 2-D z) NetCDF layout.
// The file is read once on first use.
type GMTGrid struct {
	path string

	mu     sync.Mutex
	loaded bool
	err    error
	grid   *interp.Grid2D
	bbox   BoundingBox
}

var _ Grid = (*GMTGrid)(nil)

// NewGMTGrid creates a grid backed by the file at path.
func NewGMTGrid(path string) *GMTGrid {
	return &GMTGrid{path: path}
}

// Path returns the grid file location.
func (g *GMTGrid) Path() string {
	return g.path
}

func (g *GMTGrid) load() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loaded {
		return g.err
	}
	g.loaded = true
	g.grid, g.bbox, g.err = readGMT(g.path)
	if g.err != nil {
		g.err = fmt.Errorf("failed to load terrain grid %s: %w", g.path, g.err)
	}
	return g.err
}

func (g *GMTGrid) BoundingBox() (BoundingBox, error) {
	if err := g.load(); err != nil {
		return BoundingBox{}, err
	}
	return g.bbox, nil
}

func (g *GMTGrid) BottomDepths(pts []domain.Point) ([]BottomDepth, error) {
	if err := g.load(); err != nil {
		return nil, err
	}
	out := make([]BottomDepth, 0, len(pts))
	for i, p := range pts {
		elev, err := g.grid.InterpolateAt(normalizeLonForAxis(g.grid.X, p.Lon), p.Lat)
		if err != nil {
			if errors.Is(err, interp.ErrOutOfRange) {
				continue
			}
			return nil, err
		}
		if math.IsNaN(elev) {
			continue
		}
		// Grids store elevation, negative below sea level.
		out = append(out, BottomDepth{Index: i, Depth: -elev})
	}
	return out, nil
}

func readGMT(path string) (*interp.Grid2D, BoundingBox, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, BoundingBox{}, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	defer func() { _ = nc.Close() }()

	if _, err := nc.Var("x_range"); err == nil {
		return readOldFormat(nc)
	}
	return readNewFormat(nc)
}

// readOldFormat reads the GMT 3 layout. Rows of z run from north to south.
func readOldFormat(nc netcdf.Dataset) (*interp.Grid2D, BoundingBox, error) {
	xr, err := readVar(nc, "x_range")
	if err != nil {
		return nil, BoundingBox{}, err
	}
	yr, err := readVar(nc, "y_range")
	if err != nil {
		return nil, BoundingBox{}, err
	}
	if len(xr) != 2 || len(yr) != 2 {
		return nil, BoundingBox{}, fmt.Errorf("x_range and y_range must have two values")
	}
	bbox := BoundingBox{MinLon: xr[0], MaxLon: xr[1], MinLat: yr[0], MaxLat: yr[1]}

	dim, err := readVar(nc, "dimension")
	if err != nil {
		return nil, BoundingBox{}, err
	}
	if len(dim) != 2 || dim[0] < 2 || dim[1] < 2 {
		return nil, BoundingBox{}, fmt.Errorf("invalid dimension %v", dim)
	}
	nx, ny := int(dim[0]), int(dim[1])

	zv, err := nc.Var("z")
	if err != nil {
		return nil, BoundingBox{}, fmt.Errorf("z variable not found: %w", err)
	}
	z, err := readFloats(zv)
	if err != nil {
		return nil, BoundingBox{}, fmt.Errorf("failed to read z: %w", err)
	}
	if len(z) != nx*ny {
		return nil, BoundingBox{}, fmt.Errorf("z has %d values, expected %d", len(z), nx*ny)
	}

	pixel := false
	if off, ok := attrFloat(zv.Attr("node_offset")); ok && off == 1 {
		pixel = true
	}
	x := regularAxis(xr[0], xr[1], nx, pixel)
	y := regularAxis(yr[0], yr[1], ny, pixel)

	values := make([][]float64, ny)
	for i := 0; i < ny; i++ {
		values[ny-1-i] = z[i*nx : (i+1)*nx]
	}

	grid := &interp.Grid2D{X: x, Y: y, Values: values}
	if err := grid.Validate(); err != nil {
		return nil, BoundingBox{}, fmt.Errorf("invalid grid: %w", err)
	}
	return grid, bbox, nil
}

// readNewFormat reads the COARDS layout written by GMT 4 and later.
func readNewFormat(nc netcdf.Dataset) (*interp.Grid2D, BoundingBox, error) {
	xName, x, err := firstVar(nc, "lon", "x", "longitude")
	if err != nil {
		return nil, BoundingBox{}, err
	}
	yName, y, err := firstVar(nc, "lat", "y", "latitude")
	if err != nil {
		return nil, BoundingBox{}, err
	}

	var zv netcdf.Var
	found := false
	for _, name := range []string{"z", "elevation", "topo"} {
		if v, err := nc.Var(name); err == nil {
			zv = v
			found = true
			break
		}
	}
	if !found {
		return nil, BoundingBox{}, fmt.Errorf("data variable not found (tried: z, elevation, topo)")
	}
	z, err := readFloats(zv)
	if err != nil {
		return nil, BoundingBox{}, fmt.Errorf("failed to read data: %w", err)
	}
	if len(z) != len(x)*len(y) {
		return nil, BoundingBox{}, fmt.Errorf("data has %d values, expected %d", len(z), len(x)*len(y))
	}

	values := make([][]float64, len(y))
	for i := range values {
		values[i] = z[i*len(x) : (i+1)*len(x)]
	}
	if len(x) > 1 && x[0] > x[len(x)-1] {
		reverse(x)
		for _, row := range values {
			reverse(row)
		}
	}
	if len(y) > 1 && y[0] > y[len(y)-1] {
		reverse(y)
		for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
			values[i], values[j] = values[j], values[i]
		}
	}

	grid := &interp.Grid2D{X: x, Y: y, Values: values}
	if err := grid.Validate(); err != nil {
		return nil, BoundingBox{}, fmt.Errorf("invalid grid: %w", err)
	}

	minX, maxX, minY, maxY := grid.Bounds()
	bbox := BoundingBox{MinLon: minX, MaxLon: maxX, MinLat: minY, MaxLat: maxY}
	if r, ok := attrRange(nc, xName); ok {
		bbox.MinLon, bbox.MaxLon = r[0], r[1]
	}
	if r, ok := attrRange(nc, yName); ok {
		bbox.MinLat, bbox.MaxLat = r[0], r[1]
	}
	if lonAxisRequiresWrap(grid.X) {
		// Keep the box in the -180..180 convention of measurement positions.
		bbox.MinLon, bbox.MaxLon = -180, 180
	}
	return grid, bbox, nil
}

func regularAxis(lo, hi float64, n int, pixel bool) []float64 {
	axis := make([]float64, n)
	if pixel {
		step := (hi - lo) / float64(n)
		for i := range axis {
			axis[i] = lo + (float64(i)+0.5)*step
		}
		return axis
	}
	step := (hi - lo) / float64(n-1)
	for i := range axis {
		axis[i] = lo + float64(i)*step
	}
	return axis
}

func firstVar(nc netcdf.Dataset, names ...string) (string, []float64, error) {
	for _, name := range names {
		if _, err := nc.Var(name); err == nil {
			vals, err := readVar(nc, name)
			return name, vals, err
		}
	}
	return "", nil, fmt.Errorf("axis variable not found (tried: %v)", names)
}

func readVar(nc netcdf.Dataset, name string) ([]float64, error) {
	v, err := nc.Var(name)
	if err != nil {
		return nil, fmt.Errorf("%s variable not found: %w", name, err)
	}
	vals, err := readFloats(v)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return vals, nil
}

// readFloats reads every value of v as float64, unpacking scale_factor and
// add_offset and turning _FillValue into NaN.
//
//nolint:gocyclo // One case per NetCDF type.
func readFloats(v netcdf.Var) ([]float64, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	total := 1
	for _, d := range dims {
		n, err := d.Len()
		if err != nil {
			return nil, err
		}
		total *= int(n)
	}

	varType, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}

	data := make([]float64, total)
	switch varType {
	case netcdf.DOUBLE:
		if err := v.ReadFloat64s(data); err != nil {
			return nil, fmt.Errorf("failed to read float64: %w", err)
		}
	case netcdf.FLOAT:
		buf := make([]float32, total)
		if err := v.ReadFloat32s(buf); err != nil {
			return nil, fmt.Errorf("failed to read float32: %w", err)
		}
		for i, val := range buf {
			data[i] = float64(val)
		}
	case netcdf.INT:
		buf := make([]int32, total)
		if err := v.ReadInt32s(buf); err != nil {
			return nil, fmt.Errorf("failed to read int32: %w", err)
		}
		for i, val := range buf {
			data[i] = float64(val)
		}
	case netcdf.SHORT:
		buf := make([]int16, total)
		if err := v.ReadInt16s(buf); err != nil {
			return nil, fmt.Errorf("failed to read int16: %w", err)
		}
		for i, val := range buf {
			data[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("unsupported data type: %v (expected DOUBLE, FLOAT, INT, or SHORT)", varType)
	}

	fill, hasFill := attrFloat(v.Attr("_FillValue"))
	scale, hasScale := attrFloat(v.Attr("scale_factor"))
	offset, _ := attrFloat(v.Attr("add_offset"))
	if !hasScale || scale == 0 {
		scale = 1
	}
	for i, val := range data {
		if (hasFill && val == fill) || math.IsNaN(val) {
			data[i] = math.NaN()
			continue
		}
		data[i] = val*scale + offset
	}
	return data, nil
}

// attrFloat reads the first value of a numeric attribute.
func attrFloat(a netcdf.Attr) (float64, bool) {
	vals, ok := attrFloats(a)
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func attrFloats(a netcdf.Attr) ([]float64, bool) {
	n, err := a.Len()
	if err != nil || n == 0 {
		return nil, false
	}
	f64 := make([]float64, n)
	if err := a.ReadFloat64s(f64); err == nil {
		return f64, true
	}
	f32 := make([]float32, n)
	if err := a.ReadFloat32s(f32); err == nil {
		for i, v := range f32 {
			f64[i] = float64(v)
		}
		return f64, true
	}
	i32 := make([]int32, n)
	if err := a.ReadInt32s(i32); err == nil {
		for i, v := range i32 {
			f64[i] = float64(v)
		}
		return f64, true
	}
	i16 := make([]int16, n)
	if err := a.ReadInt16s(i16); err == nil {
		for i, v := range i16 {
			f64[i] = float64(v)
		}
		return f64, true
	}
	return nil, false
}

func attrRange(nc netcdf.Dataset, varName string) ([2]float64, bool) {
	v, err := nc.Var(varName)
	if err != nil {
		return [2]float64{}, false
	}
	vals, ok := attrFloats(v.Attr("actual_range"))
	if !ok || len(vals) != 2 {
		return [2]float64{}, false
	}
	return [2]float64{math.Min(vals[0], vals[1]), math.Max(vals[0], vals[1])}, true
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func lonAxisRequiresWrap(lons []float64) bool {
	if len(lons) == 0 {
		return false
	}
	return lons[0] >= 0 && lons[len(lons)-1] > 180
}

func normalizeLonForAxis(lons []float64, lon float64) float64 {
	if !lonAxisRequiresWrap(lons) {
		return lon
	}
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon
}
