package dataset

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"go.ngs.io/dsg-ingest/internal/domain"
)

// NetCDFSource reads a NetCDF-3 or NetCDF-4 file.
type NetCDFSource struct {
	path  string
	group api.Group
	attrs Attributes

	mu   sync.Mutex
	vars map[string]*netcdfVariable
}

// OpenNetCDF opens the file at path.
func OpenNetCDF(path string) (*NetCDFSource, error) {
	group, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	return &NetCDFSource{
		path:  path,
		group: group,
		attrs: convertAttributes(group.Attributes()),
		vars:  make(map[string]*netcdfVariable),
	}, nil
}

func (s *NetCDFSource) Attributes() Attributes { return s.attrs }

func (s *NetCDFSource) Variables() []string { return s.group.ListVariables() }

func (s *NetCDFSource) Variable(name string) (Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.vars[name]; ok {
		return v, nil
	}
	vg, err := s.group.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("%s in %s: %w", name, s.path, domain.ErrVariableNotFound)
	}
	v := &netcdfVariable{
		name:  name,
		vg:    vg,
		attrs: convertAttributes(vg.Attributes()),
	}
	s.vars[name] = v
	return v, nil
}

func (s *NetCDFSource) Close() error {
	s.group.Close()
	return nil
}

type netcdfVariable struct {
	name  string
	vg    api.VarGetter
	attrs Attributes

	shapeOnce sync.Once
	shape     []int
}

func (v *netcdfVariable) Name() string           { return v.name }
func (v *netcdfVariable) Attributes() Attributes { return v.attrs }
func (v *netcdfVariable) Dimensions() []string   { return v.vg.Dimensions() }

// Shape reads one outer step to learn the inner lengths since the reader
// exposes only the outermost length.
func (v *netcdfVariable) Shape() []int {
	v.shapeOnce.Do(func() {
		if len(v.vg.Dimensions()) == 0 {
			return
		}
		n := int(v.vg.Len())
		v.shape = []int{n}
		if n == 0 {
			return
		}
		first, err := v.vg.GetSlice(0, 1)
		if err != nil {
			return
		}
		inner := nestedShape(reflect.ValueOf(first))
		if len(inner) > 1 {
			v.shape = append(v.shape, inner[1:]...)
		}
	})
	return v.shape
}

func (v *netcdfVariable) Read(ctx context.Context, begin, end int) (Array, error) {
	if err := ctx.Err(); err != nil {
		return Array{}, err
	}

	var raw any
	var err error
	if len(v.vg.Dimensions()) == 0 {
		raw, err = v.vg.Values()
	} else {
		raw, err = v.vg.GetSlice(int64(begin), int64(end))
	}
	if err != nil {
		return Array{}, fmt.Errorf("failed to read %s[%d:%d]: %w", v.name, begin, end, err)
	}

	data, err := toFloat64s(raw)
	if err != nil {
		return Array{}, fmt.Errorf("%s: %w: %v", v.name, domain.ErrUnsupportedShape, err)
	}
	a := Array{Data: data}
	if len(v.vg.Dimensions()) > 0 {
		a.Shape = nestedShape(reflect.ValueOf(raw))
	}
	v.unpack(a.Data)
	return a, nil
}

// unpack applies scale_factor and add_offset. Packed fill values become NaN
// before scaling so they are still recognized as missing.
func (v *netcdfVariable) unpack(data []float64) {
	scale, hasScale := v.attrs.Float("scale_factor")
	offset, hasOffset := v.attrs.Float("add_offset")
	if !hasScale && !hasOffset {
		return
	}
	if !hasScale {
		scale = 1
	}
	missing := v.attrs.MissingValues()
	for i, x := range data {
		for _, m := range missing {
			if x == m {
				x = math.NaN()
				break
			}
		}
		data[i] = x*scale + offset
	}
}

func convertAttributes(am api.AttributeMap) Attributes {
	out := Attributes{}
	if am == nil {
		return out
	}
	for _, key := range am.Keys() {
		if val, ok := am.Get(key); ok {
			out[key] = val
		}
	}
	return out
}
